package models

import (
	"time"

	"gorm.io/datatypes"
)

// Message direction values
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message source values
const (
	SourceAI     = "ai"
	SourceManual = "manual"
	SourceSystem = "system"
)

// Customer represents a business customer reachable by SMS
type Customer struct {
	ID            string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name          string         `gorm:"type:varchar(255);not null" json:"name"`
	Phone         string         `gorm:"type:varchar(50);uniqueIndex;not null" json:"phone"`
	Notes         string         `gorm:"type:text" json:"notes"`
	Tags          datatypes.JSON `gorm:"type:text" json:"tags"` // JSON array of strings
	LastVisit     string         `gorm:"type:varchar(100)" json:"last_visit"`
	DoNotContact  bool           `gorm:"default:false" json:"do_not_contact"`
	AIReenabledAt *time.Time     `json:"ai_reenabled_at"` // staff override instant; escalation signals at or before it are disregarded
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Customer) TableName() string {
	return "customers"
}

// Message represents one SMS in a customer's conversation.
// Rows are append-only; the sequence ordered by created_at ascending is
// the authoritative history for mode resolution. The escalation flag and
// category are fixed at detection time and never recomputed.
type Message struct {
	ID                 string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CustomerID         string    `gorm:"index;type:varchar(36);not null" json:"customer_id"`
	Direction          string    `gorm:"type:varchar(20);not null" json:"direction"`
	Content            string    `gorm:"type:text;not null" json:"content"`
	Source             string    `gorm:"type:varchar(20);not null" json:"source"`
	Escalation         bool      `gorm:"default:false" json:"escalation"`
	EscalationCategory string    `gorm:"type:varchar(50)" json:"escalation_category,omitempty"`
	MessageType        string    `gorm:"type:varchar(50)" json:"message_type,omitempty"`
	ProviderSID        string    `gorm:"column:provider_sid;type:varchar(100)" json:"provider_sid,omitempty"`
	CreatedAt          time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}
