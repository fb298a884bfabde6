package main

import (
	"log"

	"sms-concierge/internal/api"
	"sms-concierge/internal/config"
	"sms-concierge/internal/conversation"
	"sms-concierge/internal/database"
	"sms-concierge/internal/escalation"
	"sms-concierge/internal/llm"
	"sms-concierge/internal/store"
	"sms-concierge/internal/twilio"
	"sms-concierge/internal/webhook"
	"sms-concierge/internal/ws"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.LoadConfig()
	db := database.InitGorm(cfg)
	st := store.New(db)

	r := gin.Default()

	// CORS Middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	hub := ws.NewHub()
	go hub.Run()

	openaiClient := llm.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	twilioClient := twilio.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
	detector := escalation.NewDetector(escalation.DefaultRules(), openaiClient)
	orchestrator := conversation.NewOrchestrator(st, detector, openaiClient, conversation.Config{
		BusinessName:    cfg.BusinessName,
		BusinessContext: cfg.BusinessContext,
		EscalationAck:   cfg.EscalationAck,
		ProviderTimeout: cfg.ProviderTimeout,
	})

	webhookHandler := webhook.NewHandler(st, twilioClient, orchestrator, hub)
	customerHandler := api.NewCustomerHandler(st)
	messageHandler := api.NewMessageHandler(st, twilioClient, openaiClient, cfg, hub)
	outreachHandler := api.NewOutreachHandler(st, twilioClient, openaiClient, orchestrator, cfg, hub)

	// Webhook Routes
	r.POST("/webhook/sms", webhookHandler.HandleSMS)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	r.GET("/ws", func(c *gin.Context) {
		hub.ServeWs(c.Writer, c.Request)
	})

	apiGroup := r.Group("/api")
	{
		// Customer Routes
		apiGroup.GET("/customers", customerHandler.GetCustomers)
		apiGroup.POST("/customers", customerHandler.CreateCustomer)
		apiGroup.GET("/customers/:id", customerHandler.GetCustomer)
		apiGroup.PUT("/customers/:id", customerHandler.UpdateCustomer)
		apiGroup.DELETE("/customers/:id", customerHandler.DeleteCustomer)
		apiGroup.GET("/customers/:id/mode", customerHandler.GetMode)
		apiGroup.POST("/customers/:id/reenable", customerHandler.ReenableAI)

		// Message Routes
		apiGroup.GET("/messages", messageHandler.GetMessages)
		apiGroup.GET("/messages/:id", messageHandler.GetMessage)
		apiGroup.POST("/messages/manual", messageHandler.CreateManual)
		apiGroup.POST("/messages/manual/send", messageHandler.SendManual)
		apiGroup.POST("/messages/send", messageHandler.SendAI)

		// Outreach Routes
		apiGroup.POST("/messages/initial/sms", outreachHandler.SendInitial)
		apiGroup.POST("/messages/initial/demo", outreachHandler.DemoInitial)
		apiGroup.POST("/messages/ongoing/sms", outreachHandler.HandleOngoing)
		apiGroup.POST("/messages/ongoing/demo", outreachHandler.DemoOngoing)
	}

	log.Printf("Server starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}
