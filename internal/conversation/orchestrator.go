package conversation

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"sms-concierge/internal/escalation"
	"sms-concierge/internal/models"
	"sms-concierge/internal/prompt"
)

var (
	// ErrInvalidInput is returned for blank inbound text.
	ErrInvalidInput = errors.New("invalid input")
	// ErrProviderUnavailable wraps generative provider failures. The
	// orchestrator recovers from it internally; it never reaches callers
	// of HandleInbound.
	ErrProviderUnavailable = errors.New("generative provider unavailable")
)

// Action is the orchestrator's decision for one inbound message.
type Action string

const (
	ActionAIReply        Action = "ai_reply"
	ActionAckAndEscalate Action = "ack_and_escalate"
	ActionSilence        Action = "silence"
	ActionManualRequired Action = "manual_required"
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	GetCustomer(id string) (*models.Customer, error)
	ListMessages(customerID string) ([]models.Message, error)
	AppendMessage(m *models.Message) error
	SetDoNotContact(id string, v bool) error
}

// Generator produces reply text from a built prompt spec.
type Generator interface {
	Generate(ctx context.Context, spec prompt.Spec) (string, error)
}

// Config carries the business-level settings the orchestrator needs. It is
// passed in at construction; there is no ambient configuration state.
type Config struct {
	BusinessName    string
	BusinessContext string
	// EscalationAck is the fixed, non-generated acknowledgment sent when a
	// conversation escalates.
	EscalationAck string
	// ProviderTimeout bounds every generative provider call.
	ProviderTimeout time.Duration
}

// Result is the outcome of handling one inbound message. Outbound, when
// non-nil, has already been persisted; the caller is responsible for
// transmitting it. The orchestrator never touches the SMS transport.
type Result struct {
	Action   Action          `json:"action"`
	Mode     Mode            `json:"mode"`
	Inbound  *models.Message `json:"inbound"`
	Outbound *models.Message `json:"outbound,omitempty"`
}

// Orchestrator decides what happens to each inbound message: auto-reply,
// deterministic acknowledgment plus escalation, or silence.
type Orchestrator struct {
	store     Store
	detector  *escalation.Detector
	generator Generator
	cfg       Config
	locks     *customerLocks
}

func NewOrchestrator(store Store, detector *escalation.Detector, generator Generator, cfg Config) *Orchestrator {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 30 * time.Second
	}
	return &Orchestrator{
		store:     store,
		detector:  detector,
		generator: generator,
		cfg:       cfg,
		locks:     newCustomerLocks(),
	}
}

// HandleInbound processes one inbound message for a customer. Processing
// for the same customer is serialized so two concurrent inbounds cannot
// observe the same history and both auto-reply; different customers run
// concurrently.
//
// Whatever happens on the reply side, the inbound message is persisted so
// no customer input is lost.
func (o *Orchestrator) HandleInbound(ctx context.Context, customerID, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrInvalidInput
	}

	o.locks.acquire(customerID)
	defer o.locks.release(customerID)

	customer, err := o.store.GetCustomer(customerID)
	if err != nil {
		return nil, err
	}

	det, err := o.detector.Detect(ctx, text)
	if err != nil {
		if errors.Is(err, escalation.ErrDetectionDegraded) {
			log.Printf("Degraded escalation detection for customer %s: %v", customerID, err)
		} else {
			return nil, err
		}
	}

	history, err := o.store.ListMessages(customerID)
	if err != nil {
		return nil, err
	}
	mode := EffectiveMode(history, customer.AIReenabledAt)

	// The inbound's escalation flag is fixed here, at detection time, and
	// never recomputed later.
	inbound := &models.Message{
		CustomerID: customerID,
		Direction:  models.DirectionInbound,
		Content:    text,
		Source:     models.SourceManual,
		Escalation: det.Triggered,
	}
	if det.Triggered {
		inbound.EscalationCategory = string(det.Category)
	}

	switch {
	case det.Category == escalation.CategoryDoNotContact:
		return o.silence(customerID, inbound, true)

	case mode == ModeSilenced:
		return o.silence(customerID, inbound, false)

	case det.Triggered:
		return o.ackAndEscalate(customerID, inbound, mode)

	case mode == ModeEscalated, mode == ModeManualOverride:
		return o.manualRequired(inbound, mode)

	case mode == ModeAwaitingInitiation:
		log.Printf("Anomalous inbound for customer %s with no prior outbound message", customerID)
		return o.manualRequired(inbound, mode)

	default:
		return o.aiReply(ctx, customer, inbound, history)
	}
}

func (o *Orchestrator) silence(customerID string, inbound *models.Message, markDoNotContact bool) (*Result, error) {
	if err := o.store.AppendMessage(inbound); err != nil {
		return nil, err
	}
	if markDoNotContact {
		if err := o.store.SetDoNotContact(customerID, true); err != nil {
			log.Printf("Error flagging do-not-contact for customer %s: %v", customerID, err)
		}
	}
	return &Result{Action: ActionSilence, Mode: ModeSilenced, Inbound: inbound}, nil
}

func (o *Orchestrator) manualRequired(inbound *models.Message, mode Mode) (*Result, error) {
	if err := o.store.AppendMessage(inbound); err != nil {
		return nil, err
	}
	return &Result{Action: ActionManualRequired, Mode: mode, Inbound: inbound}, nil
}

func (o *Orchestrator) ackAndEscalate(customerID string, inbound *models.Message, prior Mode) (*Result, error) {
	if err := o.store.AppendMessage(inbound); err != nil {
		return nil, err
	}

	result := &Result{Action: ActionAckAndEscalate, Mode: ModeEscalated, Inbound: inbound}

	// Already-escalated conversations get no repeat acknowledgment.
	if prior == ModeEscalated {
		return result, nil
	}

	ack := &models.Message{
		CustomerID: customerID,
		Direction:  models.DirectionOutbound,
		Content:    o.cfg.EscalationAck,
		Source:     models.SourceSystem,
	}
	if err := o.store.AppendMessage(ack); err != nil {
		return nil, err
	}
	result.Outbound = ack
	return result, nil
}

func (o *Orchestrator) aiReply(ctx context.Context, customer *models.Customer, inbound *models.Message, history []models.Message) (*Result, error) {
	if err := o.store.AppendMessage(inbound); err != nil {
		return nil, err
	}

	spec := prompt.BuildReplySpec(inbound.Content, prompt.FromCustomer(customer), prompt.BusinessContext{
		Name:    o.cfg.BusinessName,
		Details: o.cfg.BusinessContext,
	}, append(history, *inbound))

	genCtx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
	defer cancel()

	reply, err := o.generator.Generate(genCtx, spec)
	if err != nil {
		// A provider outage degrades to human attention, never to a lost
		// or unanswered message surfacing as a hard failure.
		log.Printf("AI reply generation failed for customer %s: %v",
			customer.ID, errors.Join(ErrProviderUnavailable, err))
		return &Result{Action: ActionManualRequired, Mode: ModeAIActive, Inbound: inbound}, nil
	}

	outbound := &models.Message{
		CustomerID: customer.ID,
		Direction:  models.DirectionOutbound,
		Content:    reply,
		Source:     models.SourceAI,
	}
	if err := o.store.AppendMessage(outbound); err != nil {
		return nil, err
	}

	return &Result{Action: ActionAIReply, Mode: ModeAIActive, Inbound: inbound, Outbound: outbound}, nil
}
