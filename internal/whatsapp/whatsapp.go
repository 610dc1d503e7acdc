// Package whatsapp connects OrderPipe to WhatsApp through a whatsmeow multi-device client.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/BTreeMap/OrderPipe/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

const (
	// DefaultSQLitePath is used when no device store DSN is configured.
	DefaultSQLitePath = "file:/var/lib/orderpipe/whatsmeow.db?_foreign_keys=on"
	// JIDSuffix is the server part of a personal account JID.
	JIDSuffix = types.DefaultUserServer
)

// ErrNotConnected is returned when the underlying client is missing.
var ErrNotConnected = fmt.Errorf("whatsapp client not initialized")

// WhatsAppSender sends text messages to E.164 numbers.
type WhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// ImageDownloader fetches the media behind an incoming image message.
type ImageDownloader interface {
	DownloadImage(ctx context.Context, img *waE2E.ImageMessage) ([]byte, error)
}

// UserFromE164 strips formatting from an E.164 number, leaving the JID user part.
func UserFromE164(number string) string {
	return strings.TrimPrefix(strings.TrimSpace(number), "+")
}

// E164FromUser formats a JID user part as an E.164 number.
func E164FromUser(user string) string {
	if strings.HasPrefix(user, "+") {
		return user
	}
	return "+" + user
}

// Opts holds the device store and pairing settings.
type Opts struct {
	DBDSN       string // WhatsApp/whatsmeow database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // use numeric login code instead of QR code
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the WhatsApp/whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the WhatsApp client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the WhatsApp client to use numeric login code instead of QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// Client is a connected whatsmeow client.
type Client struct {
	waClient *whatsmeow.Client
}

// NewClient opens the device store, logs in when the device is not yet paired,
// and connects. Pairing blocks until the QR (or numeric) code is scanned.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := Opts{DBDSN: DefaultSQLitePath}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewClient options set", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	driver := DeviceStoreDriver(cfg.DBDSN)
	container, err := sqlstore.New(ctx, driver, cfg.DBDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		slog.Error("WhatsApp NewClient: device store init failed", "error", err, "driver", driver)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	waClient := whatsmeow.NewClient(device, waLog.Stdout("Client", "INFO", true))
	if waClient.Store.ID == nil {
		err = pair(ctx, waClient, cfg)
	} else {
		slog.Debug("WhatsApp device already paired, connecting")
		err = waClient.Connect()
	}
	if err != nil {
		slog.Error("WhatsApp NewClient: connect failed", "error", err)
		return nil, fmt.Errorf("failed to connect to WhatsApp: %w", err)
	}
	slog.Info("WhatsApp client connected", "device", waClient.Store.ID)
	return &Client{waClient: waClient}, nil
}

// DeviceStoreDriver returns the database/sql driver for the device store DSN.
// whatsmeow wants foreign keys on SQLite, so a DSN without them draws a warning.
func DeviceStoreDriver(dsn string) string {
	if store.DetectDSNType(dsn) == "postgres" {
		return "postgres"
	}
	if !strings.Contains(dsn, "foreign_keys") {
		slog.Warn("WhatsApp SQLite DSN lacks foreign keys; append ?_foreign_keys=on", "dsn", dsn)
	}
	return "sqlite3"
}

// pair runs the login flow, rendering each code to stdout or cfg.QRPath.
func pair(ctx context.Context, waClient *whatsmeow.Client, cfg Opts) error {
	slog.Info("WhatsApp login required; waiting for pairing")
	qrChan, err := waClient.GetQRChannel(ctx)
	if err != nil {
		return err
	}
	if err := waClient.Connect(); err != nil {
		return err
	}

	out := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		out = f
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			slog.Info("WhatsApp pairing event", "event", evt.Event)
			continue
		}
		if cfg.NumericCode {
			fmt.Fprintln(out, evt.Code)
		} else {
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, out)
		}
	}
	return nil
}

// Disconnect closes the websocket connection.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// SendMessage sends a text message to an E.164 number.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil {
		return ErrNotConnected
	}
	user := UserFromE164(to)
	if user == "" || body == "" {
		return fmt.Errorf("recipient and body are required")
	}

	resp, err := c.waClient.SendMessage(ctx, types.NewJID(user, JIDSuffix), &waE2E.Message{Conversation: &body})
	if err != nil {
		slog.Error("Client.SendMessage: send failed", "error", err, "to", to)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("Client.SendMessage: sent", "to", to, "id", resp.ID, "body_length", len(body))
	return nil
}

// GetClient returns the underlying whatsmeow client for event handling
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

// DownloadImage downloads and decrypts an incoming image.
func (c *Client) DownloadImage(ctx context.Context, img *waE2E.ImageMessage) ([]byte, error) {
	if c.waClient == nil {
		return nil, ErrNotConnected
	}
	if img == nil {
		return nil, fmt.Errorf("image message is nil")
	}
	data, err := c.waClient.Download(ctx, img)
	if err != nil {
		slog.Error("Failed to download WhatsApp image", "error", err)
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	slog.Debug("WhatsApp image downloaded", "bytes", len(data), "mimetype", img.GetMimetype())
	return data, nil
}

// MockClient records sent messages and serves canned image data.
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	ImageData    []byte
	DownloadErr  error
}

// SentMessage is a message recorded by MockClient.
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
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) DownloadImage(ctx context.Context, img *waE2E.ImageMessage) ([]byte, error) {
	if m.DownloadErr != nil {
		return nil, m.DownloadErr
	}
	return m.ImageData, nil
}

// Sent returns a copy of the recorded messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.SentMessages))
	copy(out, m.SentMessages)
	return out
}
