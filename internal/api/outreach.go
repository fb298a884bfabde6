package api

import (
	"context"
	"errors"
	"log"
	"net/http"

	"sms-concierge/internal/config"
	"sms-concierge/internal/conversation"
	"sms-concierge/internal/models"
	"sms-concierge/internal/prompt"
	"sms-concierge/internal/store"
	"sms-concierge/internal/twilio"
	"sms-concierge/internal/ws"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

// OutreachHandler owns conversation initiation and the staff-facing
// ongoing-conversation endpoints. The demo variants generate content
// without sending or persisting anything.
type OutreachHandler struct {
	Store        *store.Store
	Twilio       *twilio.Client
	Generator    conversation.Generator
	Orchestrator *conversation.Orchestrator
	Config       *config.Config
	Hub          *ws.Hub
}

func NewOutreachHandler(s *store.Store, tw *twilio.Client, gen conversation.Generator, orch *conversation.Orchestrator, cfg *config.Config, hub *ws.Hub) *OutreachHandler {
	return &OutreachHandler{Store: s, Twilio: tw, Generator: gen, Orchestrator: orch, Config: cfg, Hub: hub}
}

type InitialSMSRequest struct {
	Name        string `json:"name" binding:"required"`
	Phone       string `json:"phone" binding:"required"`
	MessageType string `json:"message_type" binding:"required"`
	Context     string `json:"context"`
}

// SendInitial generates a templated first-touch message and sends it,
// creating the customer if the phone number is new.
func (h *OutreachHandler) SendInitial(c *gin.Context) {
	var req InitialSMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msgType, err := prompt.ParseMessageType(req.MessageType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	phone := twilio.FormatPhoneNumber(req.Phone)
	customer, err := h.Store.GetCustomerByPhone(phone)
	if errors.Is(err, store.ErrNotFound) {
		customer = &models.Customer{
			Name:  req.Name,
			Phone: phone,
			Notes: "Auto-created for " + string(msgType) + " message",
			Tags:  datatypes.JSON(`["auto-created"]`),
		}
		err = h.Store.CreateCustomer(customer)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	silenced, err := conversationSilenced(h.Store, customer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if silenced {
		c.JSON(http.StatusConflict, gin.H{"error": "Customer has opted out of contact"})
		return
	}

	content, err := h.generateInitial(c.Request.Context(), msgType, prompt.FromCustomer(customer), req.Context)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Message generation failed: " + err.Error()})
		return
	}

	msg := &models.Message{
		CustomerID:  customer.ID,
		Direction:   models.DirectionOutbound,
		Content:     content,
		Source:      models.SourceAI,
		MessageType: string(msgType),
	}
	if err := h.Store.AppendMessage(msg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save message"})
		return
	}

	sid := h.deliver(c.Request.Context(), customer.Phone, msg)
	h.Hub.NotifyMessage(*msg)

	c.JSON(http.StatusOK, gin.H{
		"status":      "Initial message sent",
		"message_id":  msg.ID,
		"customer_id": customer.ID,
		"sid":         sid,
	})
}

type InitialDemoRequest struct {
	Name        string `json:"name" binding:"required"`
	MessageType string `json:"message_type" binding:"required"`
	Context     string `json:"context"`
}

// DemoInitial generates a first-touch message without sending or saving it.
func (h *OutreachHandler) DemoInitial(c *gin.Context) {
	var req InitialDemoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msgType, err := prompt.ParseMessageType(req.MessageType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	content, err := h.generateInitial(c.Request.Context(), msgType,
		prompt.CustomerContext{Name: req.Name}, req.Context)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Message generation failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "Demo message generated", "content": content})
}

type OngoingSMSRequest struct {
	Phone   string `json:"phone" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// HandleOngoing runs a customer message through the auto-reply
// orchestrator, exactly as the inbound webhook does, and sends whatever
// outbound the orchestrator produced.
func (h *OutreachHandler) HandleOngoing(c *gin.Context) {
	var req OngoingSMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	customer, err := h.Store.GetCustomerByPhone(twilio.FormatPhoneNumber(req.Phone))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Customer not found with this phone number"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	result, err := h.Orchestrator.HandleInbound(c.Request.Context(), customer.ID, req.Content)
	if err != nil {
		if errors.Is(err, conversation.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Message content must not be empty"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var sid string
	if result.Outbound != nil {
		sid = h.deliver(c.Request.Context(), customer.Phone, result.Outbound)
	}
	h.notify(customer.ID, result)

	c.JSON(http.StatusOK, gin.H{
		"action":      result.Action,
		"mode":        result.Mode,
		"customer_id": customer.ID,
		"outbound":    result.Outbound,
		"sid":         sid,
	})
}

type DemoHistoryEntry struct {
	Direction string `json:"direction"`
	Content   string `json:"content"`
}

type OngoingDemoRequest struct {
	Name    string             `json:"name" binding:"required"`
	History []DemoHistoryEntry `json:"message_history"`
	Content string             `json:"content" binding:"required"`
	Context string             `json:"context"`
}

// DemoOngoing generates a reply from caller-supplied history without
// touching the store or the transport.
func (h *OutreachHandler) DemoOngoing(c *gin.Context) {
	var req OngoingDemoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	history := make([]models.Message, 0, len(req.History))
	for _, entry := range req.History {
		history = append(history, models.Message{
			Direction: entry.Direction,
			Content:   entry.Content,
		})
	}

	spec := prompt.BuildReplySpec(req.Content,
		prompt.CustomerContext{Name: req.Name},
		prompt.BusinessContext{
			Name:    h.Config.BusinessName,
			Details: h.Config.BusinessContext,
			Extra:   req.Context,
		}, history)

	genCtx, cancel := context.WithTimeout(c.Request.Context(), h.Config.ProviderTimeout)
	defer cancel()
	content, err := h.Generator.Generate(genCtx, spec)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Response generation failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "Demo response generated", "content": content})
}

func (h *OutreachHandler) generateInitial(ctx context.Context, msgType prompt.MessageType, customer prompt.CustomerContext, extra string) (string, error) {
	spec, err := prompt.BuildPrompt(msgType, customer, prompt.BusinessContext{
		Name:    h.Config.BusinessName,
		Details: h.Config.BusinessContext,
		Extra:   extra,
	})
	if err != nil {
		return "", err
	}

	genCtx, cancel := context.WithTimeout(ctx, h.Config.ProviderTimeout)
	defer cancel()
	return h.Generator.Generate(genCtx, spec)
}

func (h *OutreachHandler) deliver(ctx context.Context, phone string, msg *models.Message) string {
	if !h.Twilio.Configured() {
		log.Printf("Twilio not configured; message %s saved without sending", msg.ID)
		return ""
	}
	sid, err := h.Twilio.SendSMS(ctx, phone, msg.Content)
	if err != nil {
		log.Printf("Twilio error sending message %s: %v", msg.ID, err)
		return ""
	}
	if err := h.Store.SetProviderSID(msg.ID, sid); err != nil {
		log.Printf("Error recording SID for message %s: %v", msg.ID, err)
	}
	return sid
}

func (h *OutreachHandler) notify(customerID string, result *conversation.Result) {
	if result.Inbound != nil {
		h.Hub.NotifyMessage(*result.Inbound)
	}
	if result.Outbound != nil {
		h.Hub.NotifyMessage(*result.Outbound)
	}
	if result.Inbound != nil && result.Inbound.Escalation {
		h.Hub.NotifyEscalation(customerID, result.Inbound.EscalationCategory)
	}
}
