package main

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"restaurant-ivr/internal/restaurants"
	"restaurant-ivr/internal/session"
	"restaurant-ivr/internal/telephony"
	"restaurant-ivr/pkg/logger"
	"restaurant-ivr/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The provider connects server-to-server; there is no browser origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, orch *session.Orchestrator, db *sql.DB, log *slog.Logger) {
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks (public).
	// NOTE: These endpoints should be protected by Twilio signature validation in production.
	r.POST("/webhooks/twilio/voice", func(c *gin.Context) {
		handleInboundVoice(c, orch)
	})

	r.POST("/webhooks/convai/initiation", func(c *gin.Context) {
		handleConversationInitiation(c, orch)
	})

	// Bidirectional media stream opened by <Connect><Stream>.
	r.GET("/media-stream", func(c *gin.Context) {
		handleMediaStream(c, orch, log)
	})
}

// handleInboundVoice answers the inbound-call webhook with TwiML.
func handleInboundVoice(c *gin.Context, orch *session.Orchestrator) {
	log := logger.FromGin(c)

	form, err := telephony.ParseInboundForm(c.Request)
	if err != nil {
		log.Warn("malformed voice webhook", "err", err)
		c.String(http.StatusBadRequest, "bad request")
		return
	}

	plan, err := orch.StartCall(c.Request.Context(), form)
	switch {
	case errors.Is(err, session.ErrSessionExists):
		log.Warn("duplicate voice webhook", "call_sid", form.CallSID)
	case err != nil:
		log.Error("start call failed", "call_sid", form.CallSID, "err", err)
		plan = telephony.AnswerPlan{Action: telephony.AnswerActionReject}
	}

	twiml, err := telephony.RenderTwiML(plan)
	if err != nil {
		log.Error("twiml render failed", "call_sid", form.CallSID, "err", err)
		c.String(http.StatusInternalServerError, "internal error")
		return
	}
	c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(twiml))
}

// handleConversationInitiation serves the vendor's conversation-initiation
// webhook with dynamic variables and overrides for the call.
func handleConversationInitiation(c *gin.Context, orch *session.Orchestrator) {
	log := logger.FromGin(c)

	var req struct {
		CallSID      string `json:"call_sid"`
		CallerID     string `json:"caller_id"`
		CalledNumber string `json:"called_number"`
		AgentID      string `json:"agent_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}

	payload, err := orch.ConversationInitiation(c.Request.Context(), req.CallSID, req.CalledNumber)
	if errors.Is(err, restaurants.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown number"})
		return
	}
	if err != nil {
		log.Error("conversation initiation failed", "call_sid", req.CallSID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, payload)
}

// handleMediaStream upgrades the provider connection and hands it to the
// orchestrator for the lifetime of the call.
func handleMediaStream(c *gin.Context, orch *session.Orchestrator, log *slog.Logger) {
	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("media stream upgrade failed", "err", err)
		return
	}

	ms := telephony.NewMediaStream(conn)
	if err := orch.RunStream(c.Request.Context(), ms); err != nil {
		log.Warn("media stream ended with error", "err", err)
	}
}
