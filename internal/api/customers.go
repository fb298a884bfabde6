package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"sms-concierge/internal/conversation"
	"sms-concierge/internal/models"
	"sms-concierge/internal/store"
	"sms-concierge/internal/twilio"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

type CustomerHandler struct {
	Store *store.Store
}

func NewCustomerHandler(s *store.Store) *CustomerHandler {
	return &CustomerHandler{Store: s}
}

func (h *CustomerHandler) GetCustomers(c *gin.Context) {
	customers, err := h.Store.ListCustomers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, customers)
}

func (h *CustomerHandler) GetCustomer(c *gin.Context) {
	customer, err := h.Store.GetCustomer(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Customer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, customer)
}

type CreateCustomerRequest struct {
	Name      string   `json:"name" binding:"required"`
	Phone     string   `json:"phone" binding:"required"`
	Notes     string   `json:"notes"`
	Tags      []string `json:"tags"`
	LastVisit string   `json:"last_visit"`
}

func (h *CustomerHandler) CreateCustomer(c *gin.Context) {
	var req CreateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	customer := &models.Customer{
		Name:      req.Name,
		Phone:     twilio.FormatPhoneNumber(req.Phone),
		Notes:     req.Notes,
		Tags:      tagsJSON(req.Tags),
		LastVisit: req.LastVisit,
	}
	if err := h.Store.CreateCustomer(customer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create customer"})
		return
	}

	c.JSON(http.StatusCreated, customer)
}

type UpdateCustomerRequest struct {
	Name      *string   `json:"name"`
	Phone     *string   `json:"phone"`
	Notes     *string   `json:"notes"`
	Tags      *[]string `json:"tags"`
	LastVisit *string   `json:"last_visit"`
}

func (h *CustomerHandler) UpdateCustomer(c *gin.Context) {
	customer, err := h.Store.GetCustomer(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Customer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var req UpdateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name != nil {
		customer.Name = *req.Name
	}
	if req.Phone != nil {
		customer.Phone = twilio.FormatPhoneNumber(*req.Phone)
	}
	if req.Notes != nil {
		customer.Notes = *req.Notes
	}
	if req.Tags != nil {
		customer.Tags = tagsJSON(*req.Tags)
	}
	if req.LastVisit != nil {
		customer.LastVisit = *req.LastVisit
	}

	if err := h.Store.UpdateCustomer(customer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update customer"})
		return
	}

	c.JSON(http.StatusOK, customer)
}

// DeleteCustomer removes a customer and all of its messages.
func (h *CustomerHandler) DeleteCustomer(c *gin.Context) {
	if err := h.Store.DeleteCustomerCascade(c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Customer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete customer"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Customer deleted"})
}

// GetMode returns the customer's resolved conversation mode.
func (h *CustomerHandler) GetMode(c *gin.Context) {
	customer, err := h.Store.GetCustomer(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Customer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	history, err := h.Store.ListMessages(customer.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"customer_id": customer.ID,
		"mode":        conversation.EffectiveMode(history, customer.AIReenabledAt),
	})
}

// ReenableAI is the staff override that lifts silence or resolves an
// escalation and hands the conversation back to the AI.
func (h *CustomerHandler) ReenableAI(c *gin.Context) {
	id := c.Param("id")
	if err := h.Store.ReenableAI(id, time.Now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Customer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to re-enable AI"})
		return
	}

	log.Printf("AI re-enabled for customer %s by staff override", id)
	c.JSON(http.StatusOK, gin.H{"status": "AI re-enabled", "customer_id": id})
}

func tagsJSON(tags []string) datatypes.JSON {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(b)
}
