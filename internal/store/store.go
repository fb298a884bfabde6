package store

import (
	"errors"
	"time"

	"sms-concierge/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a customer or message does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps all database access for customers and messages.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateCustomer(c *models.Customer) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return s.db.Create(c).Error
}

func (s *Store) GetCustomer(id string) (*models.Customer, error) {
	var c models.Customer
	if err := s.db.First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetCustomerByPhone(phone string) (*models.Customer, error) {
	var c models.Customer
	if err := s.db.First(&c, "phone = ?", phone).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCustomers() ([]models.Customer, error) {
	var customers []models.Customer
	if err := s.db.Order("created_at DESC").Find(&customers).Error; err != nil {
		return nil, err
	}
	if customers == nil {
		customers = []models.Customer{}
	}
	return customers, nil
}

func (s *Store) UpdateCustomer(c *models.Customer) error {
	return s.db.Save(c).Error
}

// DeleteCustomerCascade removes a customer and all of its messages in one
// transaction, so no message can reference a nonexistent customer.
func (s *Store) DeleteCustomerCascade(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("customer_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.Customer{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SetDoNotContact flags a silenced customer.
func (s *Store) SetDoNotContact(id string, v bool) error {
	return s.db.Model(&models.Customer{}).Where("id = ?", id).
		Update("do_not_contact", v).Error
}

// ReenableAI records a staff override: silence is lifted and escalation
// signals carried by earlier messages stop counting toward the mode.
// Message rows themselves are never touched.
func (s *Store) ReenableAI(id string, at time.Time) error {
	result := s.db.Model(&models.Customer{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"ai_reenabled_at": at,
			"do_not_contact":  false,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage persists a new message. Messages are append-only; there is
// deliberately no update method on this type.
func (s *Store) AppendMessage(m *models.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return s.db.Create(m).Error
}

// SetProviderSID records the transport SID assigned when a persisted
// outbound message is actually sent. Transport metadata only; content,
// ordering and escalation flags stay immutable.
func (s *Store) SetProviderSID(id, sid string) error {
	return s.db.Model(&models.Message{}).Where("id = ?", id).
		Update("provider_sid", sid).Error
}

func (s *Store) GetMessage(id string) (*models.Message, error) {
	var m models.Message
	if err := s.db.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListMessages returns the full conversation history for a customer,
// ordered by timestamp ascending.
func (s *Store) ListMessages(customerID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.Where("customer_id = ?", customerID).
		Order("created_at ASC").Find(&messages).Error
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return messages, nil
}

// ListRecentMessages returns messages across all customers, newest first.
func (s *Store) ListRecentMessages(limit, offset int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.Order("created_at DESC").Limit(limit).Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return messages, nil
}
