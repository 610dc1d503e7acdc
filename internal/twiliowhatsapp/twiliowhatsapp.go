// Package twiliowhatsapp sends OrderPipe replies through the Twilio Messaging API on the WhatsApp channel.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// WhatsAppPrefix is the channel prefix Twilio uses for WhatsApp addresses.
const WhatsAppPrefix = "whatsapp:"

var (
	// ErrMissingCredentials is returned when the account SID or auth token is unset.
	ErrMissingCredentials = errors.New("twilio account SID and auth token are required")
	// ErrMissingSender is returned when no sending number is configured.
	ErrMissingSender = errors.New("twilio sending number is required")
)

// TwilioWhatsAppSender sends WhatsApp messages to E.164 numbers.
type TwilioWhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds the Twilio account settings.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option configures the client.
type Option func(*Opts)

func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending number, with or without the "whatsapp:" prefix.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client sends messages with the Twilio REST API.
type Client struct {
	rest      *twilio.RestClient
	fromWhats string
}

// NewClient creates a Twilio client. Missing options fall back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER environment variables.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		AccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		AuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		FromWhats:  os.Getenv("TWILIO_FROM_NUMBER"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrMissingCredentials
	}
	if strings.TrimSpace(cfg.FromWhats) == "" {
		return nil, ErrMissingSender
	}

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	slog.Debug("Twilio client created", "from", WhatsAppAddress(cfg.FromWhats))
	return &Client{rest: rest, fromWhats: WhatsAppAddress(cfg.FromWhats)}, nil
}

// WhatsAppAddress prefixes a number with "whatsapp:" unless already present.
func WhatsAppAddress(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, WhatsAppPrefix) {
		return number
	}
	return WhatsAppPrefix + number
}

// SendMessage creates an outbound WhatsApp message. The Twilio SDK takes no
// context, so ctx only short-circuits calls made after cancellation.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(WhatsAppAddress(to))
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	resp, err := c.rest.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Client.SendMessage: Twilio rejected message", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	var sid string
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("Client.SendMessage: queued", "to", to, "sid", sid)
	return nil
}

// MockClient records messages instead of sending them.
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	// SendErr, when set, is returned by SendMessage.
	SendErr error
}

type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.SentMessages...)
}
