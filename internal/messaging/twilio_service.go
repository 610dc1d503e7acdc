package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/twiliowhatsapp"
	"github.com/twilio/twilio-go/client"
)

// TwilioSignatureHeader carries the request signature Twilio computes with the auth token.
const TwilioSignatureHeader = "X-Twilio-Signature"

// emptyTwiML acknowledges a webhook without sending a reply through TwiML;
// replies go out through the REST API once the engine has handled the message.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioOpts configures the Twilio service.
type TwilioOpts struct {
	AuthToken  string
	WebhookURL string
}

// TwilioOption configures the Twilio service.
type TwilioOption func(*TwilioOpts)

// WithSignatureValidation enables X-Twilio-Signature checks. webhookURL must be
// the public URL configured in the Twilio console, since the signature covers it.
func WithSignatureValidation(authToken, webhookURL string) TwilioOption {
	return func(o *TwilioOpts) {
		o.AuthToken = authToken
		o.WebhookURL = webhookURL
	}
}

// TwilioService implements the Service interface using Twilio API
type TwilioService struct {
	client     twiliowhatsapp.TwilioWhatsAppSender
	validator  *client.RequestValidator
	webhookURL string
	receipts   chan models.Receipt
	responses  chan models.Response
	done       chan struct{}
	mu         sync.RWMutex
	stopped    bool
}

// NewTwilioService creates a TwilioService sending through the given client.
func NewTwilioService(sender twiliowhatsapp.TwilioWhatsAppSender, opts ...TwilioOption) *TwilioService {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	service := &TwilioService{
		client:     sender,
		webhookURL: cfg.WebhookURL,
		receipts:   make(chan models.Receipt, DefaultChannelBufferSize),
		responses:  make(chan models.Response, DefaultChannelBufferSize),
		done:       make(chan struct{}),
	}
	if cfg.AuthToken != "" {
		v := client.NewRequestValidator(cfg.AuthToken)
		service.validator = &v
	}
	slog.Debug("TwilioService created", "signature_validation", service.validator != nil, "webhook_url", cfg.WebhookURL)
	return service
}

// ValidateAndCanonicalizeRecipient accepts bare or "whatsapp:"-prefixed numbers.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := CanonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op for Twilio; inbound messages arrive through the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.receipts)
	close(s.responses)
	return nil
}

// SendMessage sends a message via Twilio and emits a receipt
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}

	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}

	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		return err
	}

	s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// Receipts returns the channel for sent message receipts
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns the channel of messages received through the webhook.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.responses
}

// emitReceipt drops the receipt when nobody drains the channel in time.
// The read lock is held across the send so Stop cannot close the channel underneath it.
func (s *TwilioService) emitReceipt(receipt models.Receipt) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
		slog.Debug("TwilioService receipts channel full, dropping receipt", "to", receipt.To)
	}
}

// TwilioWebhookHandler handles inbound Twilio webhook requests.
// It verifies the signature, parses the message and its first attachment,
// and emits a models.Response into the Responses() channel.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService webhook: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for key := range r.PostForm {
			params[key] = r.PostForm.Get(key)
		}
		if !s.validator.Validate(s.webhookURL, params, r.Header.Get(TwilioSignatureHeader)) {
			slog.Warn("TwilioService webhook: invalid signature", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	response, err := parseTwilioForm(r)
	if err != nil {
		slog.Warn("TwilioService webhook: rejected message", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	slog.Info("TwilioService webhook: inbound message", "from", response.From, "body_length", len(response.Body), "has_media", response.Media != nil)
	if !s.emitResponse(response) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, emptyTwiML)
}

// parseTwilioForm maps Twilio's webhook fields onto a models.Response.
func parseTwilioForm(r *http.Request) (models.Response, error) {
	from, err := CanonicalizePhone(r.FormValue("From"))
	if err != nil {
		return models.Response{}, fmt.Errorf("invalid From: %w", err)
	}
	response := models.Response{
		MessageID: r.FormValue("MessageSid"),
		From:      from,
		Body:      r.FormValue("Body"),
		Time:      time.Now().Unix(),
	}
	if n, _ := strconv.Atoi(r.FormValue("NumMedia")); n > 0 {
		if mediaURL := r.FormValue("MediaUrl0"); mediaURL != "" {
			response.Media = &models.Media{
				URL:      mediaURL,
				MimeType: r.FormValue("MediaContentType0"),
			}
		}
	}
	if response.Body == "" && response.Media == nil {
		return models.Response{}, fmt.Errorf("message has neither body nor media")
	}
	return response, nil
}

func (s *TwilioService) emitResponse(response models.Response) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService dropping inbound response (service stopped)", "from", response.From)
		return false
	}

	select {
	case s.responses <- response:
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping message", "from", response.From)
		return false
	}
}
