// Package media stores customer-uploaded reference images and returns durable links.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/google/uuid"
)

// DefaultMaxBytes caps the size of a single image.
const DefaultMaxBytes = 10 << 20

// DefaultFetchTimeout bounds downloading an image from the transport.
const DefaultFetchTimeout = 30 * time.Second

var (
	// ErrNotImage is returned for media that is not an image.
	ErrNotImage = errors.New("media is not an image")
	// ErrTooLarge is returned when the image exceeds the size cap.
	ErrTooLarge = errors.New("image too large")
	// ErrNoContent is returned when media carries neither data nor a URL.
	ErrNoContent = errors.New("media has no content")
	// ErrHostNotAllowed is returned for media URLs outside the allowed hosts.
	ErrHostNotAllowed = errors.New("media host not allowed")
)

// TwilioMediaHost serves the media URLs in Twilio webhooks.
const TwilioMediaHost = "api.twilio.com"

// extensions maps accepted image types to file extensions.
var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
	"image/heic": "heic",
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9+_-]`)

// ObjectStore persists objects and hands out links to them.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	URL(ctx context.Context, key string) (string, error)
}

// Opts holds configuration for the resolver.
type Opts struct {
	HTTPClient *http.Client
	Username   string
	Password   string
	MaxBytes   int64

	// AuthHosts are the only hosts basic auth is sent to, and only over https.
	AuthHosts    []string
	// AllowedHosts restricts which hosts media URLs may point at. Empty allows any host.
	AllowedHosts []string
}

// Option configures the resolver.
type Option func(*Opts)

// WithHTTPClient sets the client used to download media URLs.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithBasicAuth sets the credentials for media downloads from AuthHosts.
// Twilio media URLs require the account SID and auth token.
func WithBasicAuth(username, password string) Option {
	return func(o *Opts) {
		o.Username = username
		o.Password = password
	}
}

// WithAuthHosts sets the hosts that receive the basic auth credentials.
func WithAuthHosts(hosts ...string) Option {
	return func(o *Opts) { o.AuthHosts = append(o.AuthHosts, hosts...) }
}

// WithAllowedHosts limits downloads to the given hosts.
func WithAllowedHosts(hosts ...string) Option {
	return func(o *Opts) { o.AllowedHosts = append(o.AllowedHosts, hosts...) }
}

// WithMaxBytes sets the image size cap.
func WithMaxBytes(n int64) Option {
	return func(o *Opts) { o.MaxBytes = n }
}

// Resolver implements the engine's media resolver on an ObjectStore.
type Resolver struct {
	store ObjectStore
	opts  Opts
}

// NewResolver creates a resolver that uploads into store.
func NewResolver(store ObjectStore, opts ...Option) *Resolver {
	cfg := Opts{MaxBytes: DefaultMaxBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultFetchTimeout}
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Resolver{store: store, opts: cfg}
}

// Resolve stores the image and returns its link.
func (r *Resolver) Resolve(ctx context.Context, userID string, m models.Media) (string, error) {
	data, contentType := m.Data, m.MimeType
	if len(data) == 0 {
		if m.URL == "" {
			return "", ErrNoContent
		}
		var err error
		data, contentType, err = r.fetch(ctx, m.URL, contentType)
		if err != nil {
			slog.Error("Resolver.Resolve: fetch failed", "error", err, "userID", userID)
			return "", err
		}
	}
	if int64(len(data)) > r.opts.MaxBytes {
		return "", ErrTooLarge
	}

	contentType = normalizeContentType(contentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = normalizeContentType(http.DetectContentType(data))
	}
	ext, ok := extensions[contentType]
	if !ok {
		slog.Warn("Resolver.Resolve: rejected media type", "content_type", contentType, "userID", userID)
		return "", fmt.Errorf("%w: %s", ErrNotImage, contentType)
	}

	key := objectKey(userID, ext)
	if err := r.store.Put(ctx, key, contentType, data); err != nil {
		slog.Error("Resolver.Resolve: upload failed", "error", err, "key", key)
		return "", err
	}
	link, err := r.store.URL(ctx, key)
	if err != nil {
		slog.Error("Resolver.Resolve: link failed", "error", err, "key", key)
		return "", err
	}
	slog.Info("Resolver.Resolve: image stored", "userID", userID, "key", key, "bytes", len(data))
	return link, nil
}

func (r *Resolver) fetch(ctx context.Context, rawURL, contentType string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("invalid media url: %w", err)
	}
	if req.URL.Scheme != "https" && req.URL.Scheme != "http" {
		return nil, "", fmt.Errorf("invalid media url scheme %q", req.URL.Scheme)
	}
	host := req.URL.Hostname()
	if len(r.opts.AllowedHosts) > 0 && !hostIn(host, r.opts.AllowedHosts) {
		return nil, "", fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
	}
	// net/http drops the Authorization header when a redirect leaves the host.
	if r.opts.Username != "" && req.URL.Scheme == "https" && hostIn(host, r.opts.AuthHosts) {
		req.SetBasicAuth(r.opts.Username, r.opts.Password)
	}
	resp, err := r.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("media download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("media download failed: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.opts.MaxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("media read failed: %w", err)
	}
	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}
	return data, contentType, nil
}

func hostIn(host string, hosts []string) bool {
	for _, h := range hosts {
		if strings.EqualFold(host, strings.TrimSpace(h)) {
			return true
		}
	}
	return false
}

func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// objectKey builds orders/<user>/<uuid>.<ext>.
func objectKey(userID, ext string) string {
	user := unsafeKeyChars.ReplaceAllString(userID, "_")
	if user == "" {
		user = "unknown"
	}
	return fmt.Sprintf("orders/%s/%s.%s", user, uuid.NewString(), ext)
}
