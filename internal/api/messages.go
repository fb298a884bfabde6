package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"sms-concierge/internal/config"
	"sms-concierge/internal/conversation"
	"sms-concierge/internal/models"
	"sms-concierge/internal/prompt"
	"sms-concierge/internal/store"
	"sms-concierge/internal/twilio"
	"sms-concierge/internal/ws"

	"github.com/gin-gonic/gin"
)

type MessageHandler struct {
	Store     *store.Store
	Twilio    *twilio.Client
	Generator conversation.Generator
	Config    *config.Config
	Hub       *ws.Hub
}

func NewMessageHandler(s *store.Store, tw *twilio.Client, gen conversation.Generator, cfg *config.Config, hub *ws.Hub) *MessageHandler {
	return &MessageHandler{Store: s, Twilio: tw, Generator: gen, Config: cfg, Hub: hub}
}

// conversationSilenced reports whether outbound contact with the customer
// is barred. Silence is terminal: no outbound of any kind until a staff
// override lifts it.
func conversationSilenced(s *store.Store, customer *models.Customer) (bool, error) {
	if customer.DoNotContact {
		return true, nil
	}
	history, err := s.ListMessages(customer.ID)
	if err != nil {
		return false, err
	}
	return conversation.EffectiveMode(history, customer.AIReenabledAt) == conversation.ModeSilenced, nil
}

// GetMessages lists messages, optionally filtered to one customer's
// conversation (oldest first); unfiltered listing is newest first.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	customerID := c.Query("customer_id")
	if customerID != "" {
		messages, err := h.Store.ListMessages(customerID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, messages)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	messages, err := h.Store.ListRecentMessages(limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (h *MessageHandler) GetMessage(c *gin.Context) {
	msg, err := h.Store.GetMessage(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, msg)
}

type ManualMessageRequest struct {
	CustomerID string `json:"customer_id" binding:"required"`
	Content    string `json:"content" binding:"required"`
	Direction  string `json:"direction"`
	Source     string `json:"source"`
}

// CreateManual records a message sent or received outside the system.
func (h *MessageHandler) CreateManual(c *gin.Context) {
	var req ManualMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.Store.GetCustomer(req.CustomerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Customer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Only the closed enum values reach storage; anything else would be
	// invisible to mode resolution.
	direction := req.Direction
	if direction == "" {
		direction = models.DirectionOutbound
	}
	if direction != models.DirectionInbound && direction != models.DirectionOutbound {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Direction must be inbound or outbound"})
		return
	}
	source := req.Source
	if source == "" {
		source = models.SourceManual
	}
	if source != models.SourceAI && source != models.SourceManual {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Source must be ai or manual"})
		return
	}

	msg := &models.Message{
		CustomerID: req.CustomerID,
		Direction:  direction,
		Content:    req.Content,
		Source:     source,
	}
	if err := h.Store.AppendMessage(msg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save message"})
		return
	}

	h.Hub.NotifyMessage(*msg)
	c.JSON(http.StatusCreated, msg)
}

type ManualSendRequest struct {
	Phone      string `json:"phone" binding:"required"`
	Content    string `json:"content" binding:"required"`
	ReenableAI bool   `json:"re_enable_ai"`
}

// SendManual sends a staff-written SMS. With re_enable_ai the message is
// recorded with an "ai" source so the most-recent-outbound rule hands the
// conversation back to the AI, and any silence or escalation override is
// lifted.
func (h *MessageHandler) SendManual(c *gin.Context) {
	var req ManualSendRequest
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

	// A send with re_enable_ai is itself the staff override; anything
	// else must not reach an opted-out customer.
	if !req.ReenableAI {
		silenced, err := conversationSilenced(h.Store, customer)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if silenced {
			c.JSON(http.StatusConflict, gin.H{"error": "Customer has opted out of contact"})
			return
		}
	}

	source := models.SourceManual
	if req.ReenableAI {
		source = models.SourceAI
	}
	msg := &models.Message{
		CustomerID: customer.ID,
		Direction:  models.DirectionOutbound,
		Content:    req.Content,
		Source:     source,
	}
	if err := h.Store.AppendMessage(msg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save message"})
		return
	}

	if req.ReenableAI {
		if err := h.Store.ReenableAI(customer.ID, msg.CreatedAt); err != nil {
			log.Printf("Error re-enabling AI for customer %s: %v", customer.ID, err)
		}
	}

	sid := h.deliver(c.Request.Context(), customer.Phone, msg)
	h.Hub.NotifyMessage(*msg)

	c.JSON(http.StatusOK, gin.H{
		"status":      "Manual message sent",
		"message_id":  msg.ID,
		"customer_id": customer.ID,
		"sid":         sid,
	})
}

type AISendRequest struct {
	CustomerID  string `json:"customer_id" binding:"required"`
	MessageType string `json:"message_type"`
	Context     string `json:"context"`
}

// SendAI drafts an outbound message with the generative provider, sends it
// and records it.
func (h *MessageHandler) SendAI(c *gin.Context) {
	var req AISendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	customer, err := h.Store.GetCustomer(req.CustomerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Customer not found"})
			return
		}
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

	if req.MessageType == "" {
		req.MessageType = string(prompt.TypeFollowUp)
	}
	msgType, err := prompt.ParseMessageType(req.MessageType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	spec, err := prompt.BuildPrompt(msgType, prompt.FromCustomer(customer), prompt.BusinessContext{
		Name:    h.Config.BusinessName,
		Details: h.Config.BusinessContext,
		Extra:   req.Context,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	genCtx, cancel := context.WithTimeout(c.Request.Context(), h.Config.ProviderTimeout)
	defer cancel()
	content, err := h.Generator.Generate(genCtx, spec)
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
		"status":      "Message generated and sent",
		"message_id":  msg.ID,
		"customer_id": customer.ID,
		"content":     content,
		"sid":         sid,
	})
}

// deliver sends an already-persisted outbound message over SMS and records
// the transport SID. Delivery failure is logged, not surfaced: the message
// record survives either way.
func (h *MessageHandler) deliver(ctx context.Context, phone string, msg *models.Message) string {
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
