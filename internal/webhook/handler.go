package webhook

import (
	"context"
	"errors"
	"log"
	"net/http"

	"sms-concierge/internal/conversation"
	"sms-concierge/internal/models"
	"sms-concierge/internal/store"
	"sms-concierge/internal/twilio"
	"sms-concierge/internal/ws"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

// Handler receives Twilio's inbound SMS webhook, runs the message through
// the auto-reply orchestrator and transmits whatever outbound it produced.
type Handler struct {
	Store        *store.Store
	Twilio       *twilio.Client
	Orchestrator *conversation.Orchestrator
	Hub          *ws.Hub
}

func NewHandler(s *store.Store, tw *twilio.Client, orch *conversation.Orchestrator, hub *ws.Hub) *Handler {
	return &Handler{Store: s, Twilio: tw, Orchestrator: orch, Hub: hub}
}

// HandleSMS processes one inbound SMS. Twilio posts form-encoded params
// and signs them with X-Twilio-Signature.
func (h *Handler) HandleSMS(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	signature := c.GetHeader("X-Twilio-Signature")
	fullURL := "https://" + c.Request.Host + c.Request.URL.String()
	if !h.Twilio.VerifySignature(fullURL, c.Request.PostForm, signature) {
		log.Printf("Rejected webhook with invalid signature from %s", c.ClientIP())
		c.Status(http.StatusUnauthorized)
		return
	}

	var params twilio.InboundParams
	if err := c.ShouldBind(&params); err != nil {
		log.Printf("Error binding webhook form: %v", err)
		c.Status(http.StatusBadRequest)
		return
	}
	log.Printf("Received SMS from %s: %s", params.From, params.Body)

	customer, err := h.Store.GetCustomerByPhone(params.From)
	if errors.Is(err, store.ErrNotFound) {
		// Unknown number: create a placeholder customer so the message is
		// never dropped.
		customer = &models.Customer{
			Name:  "Unknown (" + params.From + ")",
			Phone: params.From,
			Notes: "Auto-created from incoming SMS",
			Tags:  datatypes.JSON(`["unknown","incoming-sms"]`),
		}
		err = h.Store.CreateCustomer(customer)
	}
	if err != nil {
		log.Printf("Error resolving customer for %s: %v", params.From, err)
		c.Status(http.StatusInternalServerError)
		return
	}

	result, err := h.Orchestrator.HandleInbound(c.Request.Context(), customer.ID, params.Body)
	if err != nil {
		if errors.Is(err, conversation.ErrInvalidInput) {
			c.Status(http.StatusBadRequest)
			return
		}
		log.Printf("Error handling inbound for customer %s: %v", customer.ID, err)
		c.Status(http.StatusInternalServerError)
		return
	}

	if result.Inbound != nil && result.Inbound.ProviderSID == "" && params.MessageSID != "" {
		if err := h.Store.SetProviderSID(result.Inbound.ID, params.MessageSID); err != nil {
			log.Printf("Error recording inbound SID: %v", err)
		}
	}

	if result.Outbound != nil {
		h.send(c.Request.Context(), customer.Phone, result.Outbound)
	}

	h.Hub.NotifyMessage(*result.Inbound)
	if result.Outbound != nil {
		h.Hub.NotifyMessage(*result.Outbound)
	}
	if result.Inbound.Escalation {
		h.Hub.NotifyEscalation(customer.ID, result.Inbound.EscalationCategory)
	}

	c.Status(http.StatusOK)
}

func (h *Handler) send(ctx context.Context, phone string, msg *models.Message) {
	if !h.Twilio.Configured() {
		log.Printf("Twilio not configured; reply %s saved without sending", msg.ID)
		return
	}
	sid, err := h.Twilio.SendSMS(ctx, phone, msg.Content)
	if err != nil {
		log.Printf("Twilio error sending reply %s: %v", msg.ID, err)
		return
	}
	if err := h.Store.SetProviderSID(msg.ID, sid); err != nil {
		log.Printf("Error recording SID for reply %s: %v", msg.ID, err)
	}
}
