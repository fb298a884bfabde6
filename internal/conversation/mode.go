package conversation

import (
	"time"

	"sms-concierge/internal/escalation"
	"sms-concierge/internal/models"
)

// Mode is the derived state of a conversation. It is never stored; it is
// recomputed from the ordered message history on every decision.
type Mode string

const (
	ModeAwaitingInitiation Mode = "awaiting_initiation"
	ModeAIActive           Mode = "ai_active"
	ModeManualOverride     Mode = "manual_override"
	ModeEscalated          Mode = "escalated"
	ModeSilenced           Mode = "silenced"
)

// Resolve derives the conversation mode from the full ordered history.
// It is a pure function: identical histories always yield identical modes.
//
// Rules, first match wins:
//  1. any message escalated with category do_not_contact -> Silenced
//  2. any message escalated with another category -> Escalated
//  3. most recent outbound message was sent manually -> ManualOverride
//  4. otherwise -> AIActive
//
// A history with no outbound message resolves to AwaitingInitiation: the
// business has not started the conversation, so an inbound there is
// anomalous and not eligible for auto-reply.
func Resolve(history []models.Message) Mode {
	var silenced, escalated, hasOutbound, lastOutboundManual bool

	for _, msg := range history {
		if msg.Escalation {
			if msg.EscalationCategory == string(escalation.CategoryDoNotContact) {
				silenced = true
			} else {
				escalated = true
			}
		}
		if msg.Direction == models.DirectionOutbound {
			hasOutbound = true
			lastOutboundManual = msg.Source == models.SourceManual
		}
	}

	switch {
	case silenced:
		return ModeSilenced
	case escalated:
		return ModeEscalated
	case !hasOutbound:
		return ModeAwaitingInitiation
	case lastOutboundManual:
		return ModeManualOverride
	default:
		return ModeAIActive
	}
}

// EffectiveMode applies the staff re-enable override before resolving:
// escalation signals carried by messages created at or before reenabledAt
// are disregarded. The message rows themselves are never mutated, which
// keeps the audit trail intact.
func EffectiveMode(history []models.Message, reenabledAt *time.Time) Mode {
	if reenabledAt == nil {
		return Resolve(history)
	}

	filtered := make([]models.Message, 0, len(history))
	for _, msg := range history {
		if msg.Escalation && !msg.CreatedAt.After(*reenabledAt) {
			msg.Escalation = false
			msg.EscalationCategory = ""
		}
		filtered = append(filtered, msg)
	}
	return Resolve(filtered)
}
