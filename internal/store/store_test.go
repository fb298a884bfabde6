package store

import (
	"testing"
	"time"

	"sms-concierge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// A pooled second connection would see its own empty in-memory DB.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.Customer{}, &models.Message{}))
	return New(db)
}

func TestCustomerCRUD(t *testing.T) {
	s := newTestStore(t)

	c := &models.Customer{Name: "Sarah", Phone: "+15551234567"}
	require.NoError(t, s.CreateCustomer(c))
	assert.NotEmpty(t, c.ID)

	got, err := s.GetCustomer(c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sarah", got.Name)

	byPhone, err := s.GetCustomerByPhone("+15551234567")
	require.NoError(t, err)
	assert.Equal(t, c.ID, byPhone.ID)

	got.Notes = "prefers afternoons"
	require.NoError(t, s.UpdateCustomer(got))
	got, err = s.GetCustomer(c.ID)
	require.NoError(t, err)
	assert.Equal(t, "prefers afternoons", got.Notes)

	_, err = s.GetCustomer("no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteCustomerCascade(t *testing.T) {
	s := newTestStore(t)

	c := &models.Customer{Name: "Sarah", Phone: "+15551234567"}
	require.NoError(t, s.CreateCustomer(c))
	require.NoError(t, s.AppendMessage(&models.Message{
		CustomerID: c.ID,
		Direction:  models.DirectionInbound,
		Content:    "hi",
		Source:     models.SourceManual,
	}))

	require.NoError(t, s.DeleteCustomerCascade(c.ID))

	_, err := s.GetCustomer(c.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	messages, err := s.ListMessages(c.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)

	assert.ErrorIs(t, s.DeleteCustomerCascade(c.ID), ErrNotFound)
}

func TestMessageOrdering(t *testing.T) {
	s := newTestStore(t)

	c := &models.Customer{Name: "Sarah", Phone: "+15551234567"}
	require.NoError(t, s.CreateCustomer(c))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, content := range []string{"first", "second", "third"} {
		require.NoError(t, s.AppendMessage(&models.Message{
			CustomerID: c.ID,
			Direction:  models.DirectionInbound,
			Content:    content,
			Source:     models.SourceManual,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	history, err := s.ListMessages(c.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "third", history[2].Content)

	recent, err := s.ListRecentMessages(2, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "third", recent[0].Content)
}

func TestSetProviderSID(t *testing.T) {
	s := newTestStore(t)

	c := &models.Customer{Name: "Sarah", Phone: "+15551234567"}
	require.NoError(t, s.CreateCustomer(c))

	m := &models.Message{
		CustomerID: c.ID,
		Direction:  models.DirectionOutbound,
		Content:    "hello!",
		Source:     models.SourceAI,
	}
	require.NoError(t, s.AppendMessage(m))
	require.NoError(t, s.SetProviderSID(m.ID, "SM123"))

	got, err := s.GetMessage(m.ID)
	require.NoError(t, err)
	assert.Equal(t, "SM123", got.ProviderSID)
	assert.Equal(t, "hello!", got.Content)
}

func TestReenableAI(t *testing.T) {
	s := newTestStore(t)

	c := &models.Customer{Name: "Sarah", Phone: "+15551234567", DoNotContact: true}
	require.NoError(t, s.CreateCustomer(c))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.ReenableAI(c.ID, at))

	got, err := s.GetCustomer(c.ID)
	require.NoError(t, err)
	assert.False(t, got.DoNotContact)
	require.NotNil(t, got.AIReenabledAt)
	assert.True(t, got.AIReenabledAt.Equal(at))

	assert.ErrorIs(t, s.ReenableAI("no-such-id", at), ErrNotFound)
}
