package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/flow"
	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/util"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const errMediaURLNotAccepted = "media.url is not accepted; send the image as base64 media.data"

// RequestIDHeader is set on every response.
const RequestIDHeader = "X-Request-ID"

// maxRequestBody caps JSON request bodies, including base64 inline images.
const maxRequestBody = 16 << 20

func (s *Server) routes() {
	if s.twilio != nil {
		s.mux.HandleFunc("/webhook/twilio", s.twilio.TwilioWebhookHandler)
	}
	s.mux.HandleFunc("/messages", s.messagesHandler)
	s.mux.HandleFunc("/orders", s.ordersHandler)
	s.mux.HandleFunc("/conversations/{id}", s.conversationHandler)
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.Handle("/metrics", promhttp.Handler())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = util.NewID("req_", 16)
		}
		w.Header().Set(RequestIDHeader, id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		slog.Debug("HTTP request", "request_id", id, "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}

// messagesHandler handles POST /messages: one inbound message, the bot's reply in the result.
func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	defer r.Body.Close()

	var msg models.InboundMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&msg); err != nil {
		slog.Warn("Server.messagesHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	msg.UserID = strings.TrimSpace(msg.UserID)
	if err := msg.Validate(); err != nil {
		slog.Warn("Server.messagesHandler: validation failed", "error", err, "user_id", msg.UserID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	// The server never fetches caller-supplied URLs; images arrive inline.
	if msg.Media != nil && msg.Media.URL != "" {
		slog.Warn("Server.messagesHandler: media url rejected", "user_id", msg.UserID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(errMediaURLNotAccepted))
		return
	}

	reply, err := s.engine.Advance(r.Context(), msg)
	result := map[string]string{"reply": reply}
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, models.Success(result))
	case errors.Is(err, flow.ErrOrderNotPersisted):
		slog.Error("Server.messagesHandler: order not persisted", "error", err, "user_id", msg.UserID)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("order was confirmed but not recorded", result))
	default:
		slog.Error("Server.messagesHandler: engine failed", "error", err, "user_id", msg.UserID)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.APIResponse{
			Status:  string(models.APIStatusError),
			Message: "message could not be processed",
			Result:  result,
		})
	}
}

// ordersHandler handles GET /orders?user_id=.
func (s *Server) ordersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required query parameter: user_id"))
		return
	}
	orders, err := s.engine.UpcomingOrders(r.Context(), userID)
	if err != nil {
		slog.Error("Server.ordersHandler: lookup failed", "error", err, "user_id", userID)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Order lookup failed"))
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(orders))
}

// conversationHandler handles GET and DELETE /conversations/{id}.
func (s *Server) conversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.PathValue("id"))
	if userID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing conversation id"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		conv, err := s.engine.Conversation(r.Context(), userID)
		if err != nil {
			slog.Error("Server.conversationHandler: lookup failed", "error", err, "user_id", userID)
			writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Conversation lookup failed"))
			return
		}
		if conv == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(conv))
	case http.MethodDelete:
		if err := s.engine.Reset(r.Context(), userID); err != nil {
			slog.Error("Server.conversationHandler: reset failed", "error", err, "user_id", userID)
			writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Conversation reset failed"))
			return
		}
		slog.Info("Server.conversationHandler: conversation reset", "user_id", userID)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation reset", nil))
	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	}
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"transport": s.transport,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
