package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"sms-concierge/internal/config"
	"sms-concierge/internal/escalation"
	"sms-concierge/internal/models"
	"sms-concierge/internal/prompt"
	"sms-concierge/internal/store"
	"sms-concierge/internal/twilio"
	"sms-concierge/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stubGenerator struct {
	reply string
	calls int
}

func (g *stubGenerator) Generate(ctx context.Context, spec prompt.Spec) (string, error) {
	g.calls++
	return g.reply, nil
}

type apiFixture struct {
	store     *store.Store
	generator *stubGenerator
	messages  *MessageHandler
	outreach  *OutreachHandler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Customer{}, &models.Message{}))

	s := store.New(db)
	hub := ws.NewHub()
	go hub.Run()

	gen := &stubGenerator{reply: "Hi! Come see us soon."}
	cfg := &config.Config{BusinessName: "Glow Medspa"}
	tw := twilio.NewClient("", "", "")

	return &apiFixture{
		store:     s,
		generator: gen,
		messages:  NewMessageHandler(s, tw, gen, cfg, hub),
		outreach:  NewOutreachHandler(s, tw, gen, nil, cfg, hub),
	}
}

func (f *apiFixture) seedSilenced(t *testing.T) *models.Customer {
	t.Helper()
	c := &models.Customer{Name: "Sarah", Phone: "+15551234567", DoNotContact: true}
	require.NoError(t, f.store.CreateCustomer(c))
	require.NoError(t, f.store.AppendMessage(&models.Message{
		CustomerID: c.ID,
		Direction:  models.DirectionOutbound,
		Content:    "Hi Sarah!",
		Source:     models.SourceAI,
	}))
	require.NoError(t, f.store.AppendMessage(&models.Message{
		CustomerID:         c.ID,
		Direction:          models.DirectionInbound,
		Content:            "stop texting me",
		Source:             models.SourceManual,
		Escalation:         true,
		EscalationCategory: string(escalation.CategoryDoNotContact),
	}))
	return c
}

func postJSON(handler gin.HandlerFunc, body interface{}) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/", bytes.NewReader(payload))
	c.Request.Header.Set("Content-Type", "application/json")
	handler(c)
	return w
}

func TestSendAIBlockedWhenSilenced(t *testing.T) {
	f := newAPIFixture(t)
	customer := f.seedSilenced(t)

	w := postJSON(f.messages.SendAI, gin.H{
		"customer_id":  customer.ID,
		"message_type": "promotional",
	})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Zero(t, f.generator.calls)

	history, err := f.store.ListMessages(customer.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestSendAIBlockedByDoNotContactFlag(t *testing.T) {
	f := newAPIFixture(t)

	// Flag set without an opt-out message in history; still terminal.
	c := &models.Customer{Name: "Sarah", Phone: "+15551234567", DoNotContact: true}
	require.NoError(t, f.store.CreateCustomer(c))

	w := postJSON(f.messages.SendAI, gin.H{"customer_id": c.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Zero(t, f.generator.calls)
}

func TestSendManualBlockedWhenSilenced(t *testing.T) {
	f := newAPIFixture(t)
	customer := f.seedSilenced(t)

	w := postJSON(f.messages.SendManual, gin.H{
		"phone":   customer.Phone,
		"content": "any update for us?",
	})

	assert.Equal(t, http.StatusConflict, w.Code)

	history, err := f.store.ListMessages(customer.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestSendManualReenableLiftsSilence(t *testing.T) {
	f := newAPIFixture(t)
	customer := f.seedSilenced(t)

	w := postJSON(f.messages.SendManual, gin.H{
		"phone":        customer.Phone,
		"content":      "Hi Sarah, this is Dana. We've cleared things up, happy to help again.",
		"re_enable_ai": true,
	})

	assert.Equal(t, http.StatusOK, w.Code)

	got, err := f.store.GetCustomer(customer.ID)
	require.NoError(t, err)
	assert.False(t, got.DoNotContact)
	require.NotNil(t, got.AIReenabledAt)

	history, err := f.store.ListMessages(customer.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.SourceAI, history[2].Source)
}

func TestSendInitialBlockedWhenSilenced(t *testing.T) {
	f := newAPIFixture(t)
	customer := f.seedSilenced(t)

	w := postJSON(f.outreach.SendInitial, gin.H{
		"name":         customer.Name,
		"phone":        customer.Phone,
		"message_type": "promotional",
	})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Zero(t, f.generator.calls)

	history, err := f.store.ListMessages(customer.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestCreateManualRejectsUnknownEnums(t *testing.T) {
	f := newAPIFixture(t)
	c := &models.Customer{Name: "Sarah", Phone: "+15551234567"}
	require.NoError(t, f.store.CreateCustomer(c))

	tests := []struct {
		name string
		body gin.H
	}{
		{"bad direction case", gin.H{"customer_id": c.ID, "content": "hi", "direction": "Outbound"}},
		{"bad direction word", gin.H{"customer_id": c.ID, "content": "hi", "direction": "sideways"}},
		{"bad source", gin.H{"customer_id": c.ID, "content": "hi", "source": "staff"}},
		{"system source not accepted here", gin.H{"customer_id": c.ID, "content": "hi", "source": "system"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(f.messages.CreateManual, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	history, err := f.store.ListMessages(c.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCreateManualAcceptsEnumValues(t *testing.T) {
	f := newAPIFixture(t)
	c := &models.Customer{Name: "Sarah", Phone: "+15551234567"}
	require.NoError(t, f.store.CreateCustomer(c))

	w := postJSON(f.messages.CreateManual, gin.H{
		"customer_id": c.ID,
		"content":     "called them back by phone",
		"direction":   models.DirectionOutbound,
		"source":      models.SourceManual,
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	// Defaults still apply when omitted.
	w = postJSON(f.messages.CreateManual, gin.H{"customer_id": c.ID, "content": "left a voicemail"})
	assert.Equal(t, http.StatusCreated, w.Code)

	history, err := f.store.ListMessages(c.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.DirectionOutbound, history[1].Direction)
	assert.Equal(t, models.SourceManual, history[1].Source)
}
