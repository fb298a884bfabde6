package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"sms-concierge/internal/models"
)

// ErrUnknownMessageType is returned for a message type outside the
// supported set.
var ErrUnknownMessageType = errors.New("unknown message type")

// MessageType identifies the purpose of a staff-initiated outbound message.
type MessageType string

const (
	TypeWelcome     MessageType = "welcome"
	TypeFollowUp    MessageType = "follow_up"
	TypeReminder    MessageType = "reminder"
	TypePromotional MessageType = "promotional"
	TypeSupport     MessageType = "support"
	TypeThankYou    MessageType = "thank_you"
	TypeAppointment MessageType = "appointment"
)

// Spec is a fully-built generation request, ready for the provider.
type Spec struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// CustomerContext is the customer detail interpolated into prompts.
type CustomerContext struct {
	Name      string
	Phone     string
	Notes     string
	Tags      []string
	LastVisit string
}

// BusinessContext is the business detail interpolated into prompts.
type BusinessContext struct {
	Name    string
	Details string
	Extra   string // per-request free-text context
}

// FromCustomer builds a CustomerContext from a stored customer record.
func FromCustomer(c *models.Customer) CustomerContext {
	ctx := CustomerContext{
		Name:      c.Name,
		Phone:     c.Phone,
		Notes:     c.Notes,
		LastVisit: c.LastVisit,
	}
	if len(c.Tags) > 0 {
		_ = json.Unmarshal(c.Tags, &ctx.Tags)
	}
	return ctx
}

var typeInstructions = map[MessageType]string{
	TypeWelcome:     "Write a warm welcome message introducing the business to a new customer.",
	TypeFollowUp:    "Write a friendly follow-up message checking in after a recent visit.",
	TypeReminder:    "Write a brief reminder message about an upcoming visit or pending item.",
	TypePromotional: "Write a short promotional message highlighting a current offer. Keep the tone light, not pushy.",
	TypeSupport:     "Write a supportive message offering help with the customer's account or recent service.",
	TypeThankYou:    "Write a short thank-you message expressing appreciation for the customer's business.",
	TypeAppointment: "Write a message about scheduling or confirming an appointment, with a clear call-to-action.",
}

// ParseMessageType normalizes a raw type string. The hyphenated spellings
// are accepted for compatibility with older clients.
func ParseMessageType(raw string) (MessageType, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
	t := MessageType(normalized)
	if _, ok := typeInstructions[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMessageType, raw)
	}
	return t, nil
}

// BuildPrompt maps a message type plus customer and business context to a
// generation spec for a staff-initiated outbound message. Pure; no side
// effects.
func BuildPrompt(msgType MessageType, customer CustomerContext, business BusinessContext) (Spec, error) {
	instruction, ok := typeInstructions[msgType]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownMessageType, msgType)
	}

	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n\nCustomer Information:\n")
	fmt.Fprintf(&b, "- Name: %s\n", defaultString(customer.Name, "Valued Customer"))
	fmt.Fprintf(&b, "- Notes: %s\n", defaultString(customer.Notes, "No additional notes"))
	fmt.Fprintf(&b, "- Tags: %s\n", defaultString(strings.Join(customer.Tags, ", "), "None"))
	fmt.Fprintf(&b, "- Last Visit: %s\n", defaultString(customer.LastVisit, "Unknown"))
	if business.Extra != "" {
		fmt.Fprintf(&b, "\nAdditional Context: %s\n", business.Extra)
	}
	b.WriteString("\nGuidelines:\n")
	b.WriteString("- Keep the message under 160 characters if possible\n")
	b.WriteString("- Be friendly but professional\n")
	b.WriteString("- Use casual SMS language\n")
	b.WriteString("\nGenerate only the SMS message content, no additional text or explanations.")

	return Spec{
		System:      systemPrompt(business),
		User:        b.String(),
		MaxTokens:   150,
		Temperature: 0.7,
	}, nil
}

// historyWindow is how many trailing messages are included as reply context.
const historyWindow = 10

// BuildReplySpec builds the generation spec for a contextual auto-reply to
// an inbound message, using the trailing conversation history.
func BuildReplySpec(incoming string, customer CustomerContext, business BusinessContext, history []models.Message) Spec {
	var b strings.Builder
	b.WriteString("You are replying to an incoming SMS from a customer.\n\n")
	fmt.Fprintf(&b, "Incoming Message: %q\n\n", incoming)
	fmt.Fprintf(&b, "Customer: %s", defaultString(customer.Name, "Customer"))
	if customer.Notes != "" {
		fmt.Fprintf(&b, " (%s)", customer.Notes)
	}
	b.WriteString("\n\nRecent Message History:\n")
	b.WriteString(RenderHistory(history, historyWindow))
	b.WriteString("\nReply helpfully and concisely. Only answer questions about services the business actually offers; ")
	b.WriteString("if asked about anything else, say you don't see it on the current menu and suggest calling the business. ")
	b.WriteString("Keep the reply under 160 characters.\n")
	b.WriteString("Generate only the SMS reply content, no additional text.")

	return Spec{
		System:      systemPrompt(business),
		User:        b.String(),
		MaxTokens:   150,
		Temperature: 0.3,
	}
}

// ClassifierInstruction is the fixed instruction for the escalation
// classifier. The model must answer with exactly one category token.
const ClassifierInstruction = "You classify incoming customer SMS messages for a business. " +
	"Respond with exactly one of: none, violence_threat, legal_threat, medical_emergency, " +
	"do_not_contact, extreme_anger, unacceptable_complaint. " +
	"Use extreme_anger for furious or abusive messages, unacceptable_complaint for serious " +
	"complaints demanding refunds or threatening to leave, and none for everything else. " +
	"Respond with the single token only."

// RenderHistory formats the trailing window of a conversation for
// inclusion in a prompt.
func RenderHistory(history []models.Message, window int) string {
	if len(history) > window {
		history = history[len(history)-window:]
	}
	if len(history) == 0 {
		return "No recent message history\n"
	}
	var b strings.Builder
	for _, msg := range history {
		who := "Us"
		if msg.Direction == models.DirectionInbound {
			who = "Customer"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, msg.Content)
	}
	return b.String()
}

func systemPrompt(business BusinessContext) string {
	name := defaultString(business.Name, "the business")
	s := fmt.Sprintf("You are a helpful customer service assistant for %s, communicating over SMS.", name)
	if business.Details != "" {
		s += "\n\nBusiness information:\n" + business.Details
	}
	return s
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
