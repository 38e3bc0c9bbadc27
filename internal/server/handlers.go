package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vacaplan-dev/vacaplan/internal/engine"
	"github.com/vacaplan-dev/vacaplan/internal/store"
	"github.com/vacaplan-dev/vacaplan/internal/trip"
)

// createTrip starts a new planning session and runs its pipeline in the
// background. The caller follows progress over the event stream.
func (s *Server) createTrip(c *gin.Context) {
	var req trip.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	sess, err := s.engine.Start(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pipelineTimeout)
		defer cancel()
		if err := s.engine.Run(ctx, sess.ID); err != nil {
			s.logger.Warn("pipeline run ended with error",
				zap.String("session_id", sess.ID),
				zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"sessionId": sess.ID,
		"status":    sess.Status,
	})
}

func (s *Server) getTrip(c *gin.Context) {
	sess, err := s.engine.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// confirmTrip presents a confirmation token. A mismatch returns the freshly
// issued token so the client can re-present the current intent.
func (s *Server) confirmTrip(c *gin.Context) {
	var input struct {
		Token      string `json:"token"`
		IntentHash string `json:"intentHash"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	res, err := s.engine.Confirm(c.Request.Context(), c.Param("id"), input.Token, input.IntentHash)
	if err != nil && res == nil {
		s.renderError(c, err)
		return
	}

	body := gin.H{
		"outcome": res.Outcome,
		"status":  res.Session.Status,
	}
	if res.NewToken != "" {
		body["newToken"] = res.NewToken
		body["intentHash"] = res.Session.IntentHash
	}
	if res.Session.TransactionID != "" {
		body["transactionId"] = res.Session.TransactionID
	}
	if err != nil {
		// Booking ran and failed. The session state carries the outcome.
		body["error"] = err.Error()
		c.JSON(http.StatusBadGateway, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) cancelTrip(c *gin.Context) {
	sess, err := s.engine.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId": sess.ID,
		"status":    sess.Status,
	})
}

// streamEvents serves the session's event stream as server-sent events.
// The afterSeq query parameter resumes from a known sequence number; the
// stream ends when the session reaches a terminal state.
func (s *Server) streamEvents(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.engine.Status(c.Request.Context(), sessionID); err != nil {
		s.renderError(c, err)
		return
	}
	afterSeq, _ := strconv.ParseInt(c.Query("afterSeq"), 10, 64)

	events, cancel, err := s.engine.Events(c.Request.Context(), sessionID, afterSeq)
	if err != nil {
		s.renderError(c, err)
		return
	}
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (s *Server) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, engine.ErrSessionBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrNotAwaiting), errors.Is(err, engine.ErrTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
