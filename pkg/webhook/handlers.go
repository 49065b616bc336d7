package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/harun/pagerelay/internal/tracing"
	"github.com/harun/pagerelay/pkg/messenger"
	"github.com/harun/pagerelay/pkg/relay"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "Server is running")
}

// handleVerify answers the subscription handshake.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && s.options.VerifyToken != "" && token == s.options.VerifyToken {
		s.logger.Info().Msg("Webhook verified")
		writeText(w, http.StatusOK, challenge)
		return
	}

	s.logger.Warn().Str("mode", mode).Str("ip", clientIP(r)).Msg("Webhook verification failed")
	writeText(w, http.StatusForbidden, "Forbidden")
}

// handleEvents acknowledges a batch and dispatches its messages without
// waiting for them.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := tracing.NewRequestContext(r.Context())
	logger := tracing.LoggerFromContext(ctx, s.logger)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.options.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn().Int64("limit", tooLarge.Limit).Msg("Webhook body too large")
			writeText(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large")
			return
		}
		logger.Error().Err(err).Msg("Failed to read request body")
		writeText(w, http.StatusBadRequest, "Bad Request")
		return
	}

	if s.options.AppSecret != "" && !verifySignature(body, r.Header.Get(SignatureHeader), s.options.AppSecret) {
		logger.Warn().Str("ip", clientIP(r)).Msg("Invalid webhook signature")
		writeText(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := validatePayload(s.schema, body); err != nil {
		logger.Warn().Err(err).Msg("Rejected webhook payload")
		writeText(w, http.StatusBadRequest, "Bad Request")
		return
	}

	object, events, err := messenger.ParseEvents(body)
	if err != nil {
		logger.Warn().Err(err).Msg("Rejected webhook payload")
		writeText(w, http.StatusBadRequest, "Bad Request")
		return
	}
	if object != messenger.ObjectPage {
		logger.Debug().Str("object", object).Msg("Ignoring non-page webhook")
		writeText(w, http.StatusNotFound, "Not Found")
		return
	}

	receivedAt := time.Now()
	for _, ev := range events {
		s.dispatcher.Dispatch(ctx, relay.Event{
			UserID:     ev.UserID,
			Text:       ev.Text,
			MessageID:  ev.MessageID,
			ReceivedAt: receivedAt,
		})
	}

	logger.Debug().Int("events", len(events)).Msg("Webhook batch accepted")
	writeText(w, http.StatusOK, EventReceived)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Uptime:    time.Since(s.startTime).Seconds(),
		Routes:    s.metricsTracker.Routes(),
		Timestamp: time.Now().UnixMilli(),
	}
	if s.sessions != nil {
		response.ActiveSessions = s.sessions.Len()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode health response")
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
