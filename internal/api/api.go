// Package api provides the HTTP server and process wiring for OrderPipe.
//
// It exposes the Twilio webhook, a JSON message endpoint for other channels,
// order and conversation lookups, health and metrics. Run assembles the
// store, order repository, calendar, media, transport and scheduler.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/calendar"
	"github.com/BTreeMap/OrderPipe/internal/flow"
	"github.com/BTreeMap/OrderPipe/internal/lockfile"
	"github.com/BTreeMap/OrderPipe/internal/media"
	"github.com/BTreeMap/OrderPipe/internal/messaging"
	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/scheduler"
	"github.com/BTreeMap/OrderPipe/internal/sheets"
	"github.com/BTreeMap/OrderPipe/internal/store"
	"github.com/BTreeMap/OrderPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/OrderPipe/internal/whatsapp"
)

// Default API server configuration
const (
	DefaultServerAddress = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown of the HTTP server.
	DefaultShutdownTimeout = 10 * time.Second
)

// Transport names accepted by WithTransport.
const (
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
	TransportNone     = "none"
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr         string
	Transport    string
	StateDir     string
	SweepSpec    string
	IdleTimeout  time.Duration
	ShutdownWait time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTransport selects the chat transport: whatsapp, twilio or none.
func WithTransport(name string) Option {
	return func(o *Opts) { o.Transport = name }
}

// WithStateDir locks the state directory for the lifetime of the process.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// WithSessionSweep sets the idle session sweep schedule and timeout. Empty or zero values keep the defaults.
func WithSessionSweep(spec string, idle time.Duration) Option {
	return func(o *Opts) {
		if spec != "" {
			o.SweepSpec = spec
		}
		if idle > 0 {
			o.IdleTimeout = idle
		}
	}
}

// Modules carries the per-package options assembled by the command.
type Modules struct {
	WhatsApp []whatsapp.Option
	Twilio   []twiliowhatsapp.Option
	Webhook  []messaging.TwilioOption
	Store    []store.Option
	Sheets   []sheets.Option
	Calendar []calendar.Option
	Media    []media.Option
	// S3 enables image uploads when set.
	S3 *media.S3Config
}

// ConversationEngine is the part of *flow.Engine the server uses.
type ConversationEngine interface {
	Advance(ctx context.Context, msg models.InboundMessage) (string, error)
	Conversation(ctx context.Context, userID string) (*models.Conversation, error)
	Reset(ctx context.Context, userID string) error
	UpcomingOrders(ctx context.Context, userID string) ([]models.Order, error)
}

// Server holds the HTTP handlers' dependencies.
type Server struct {
	engine    ConversationEngine
	twilio    *messaging.TwilioService
	transport string
	mux       *http.ServeMux
}

// NewServer creates a Server. twilio may be nil when the Twilio transport is not used.
func NewServer(engine ConversationEngine, twilio *messaging.TwilioService, transport string) *Server {
	s := &Server{engine: engine, twilio: twilio, transport: transport, mux: http.NewServeMux()}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	withRequestLogging(s.mux).ServeHTTP(w, r)
}

// Run starts OrderPipe and blocks until SIGINT or SIGTERM.
func Run(mods Modules, opts ...Option) error {
	cfg := Opts{
		Addr:         DefaultServerAddress,
		Transport:    TransportWhatsApp,
		SweepSpec:    scheduler.DefaultSweepSpec,
		IdleTimeout:  store.DefaultIdleTimeout,
		ShutdownWait: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("API Run configuration", "addr", cfg.Addr, "transport", cfg.Transport, "state_dir", cfg.StateDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.StateDir != "" {
		lock, err := lockfile.AcquireLock(cfg.StateDir)
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				slog.Warn("Failed to release state directory lock", "error", err)
			}
		}()
	}

	st, err := createStore(mods.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("Store close failed", "error", err)
		}
	}()

	engine, err := createEngine(ctx, st, mods)
	if err != nil {
		return err
	}

	msgService, twilioService, err := createMessagingService(ctx, cfg.Transport, mods)
	if err != nil {
		return err
	}

	var respHandler *messaging.ResponseHandler
	if msgService != nil {
		if err := msgService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start messaging service: %w", err)
		}
		respHandler = messaging.NewResponseHandler(engine, msgService)
		respHandler.Start(ctx)
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.ScheduleSweep(cfg.SweepSpec, scheduler.NewSessionSweeper(st, cfg.IdleTimeout)); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewServer(engine, twilioService, cfg.Transport),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("OrderPipe API listening", "addr", cfg.Addr, "transport", cfg.Transport)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownWait)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown incomplete", "error", err)
	}
	if msgService != nil {
		if err := msgService.Stop(); err != nil {
			slog.Warn("Messaging service stop failed", "error", err)
		}
		respHandler.Wait()
	}
	slog.Info("OrderPipe stopped")
	return nil
}

// createStore picks the store backend from the configured DSN.
func createStore(opts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Info("Using in-memory store")
		return store.NewInMemoryStore(opts...), nil
	}
	if store.DetectDSNType(cfg.DSN) == "postgres" {
		slog.Info("Using PostgreSQL store")
		return store.NewPostgresStore(opts...)
	}
	slog.Info("Using SQLite store", "path", cfg.DSN)
	return store.NewSQLiteStore(opts...)
}

// createEngine wires the order repository and optional collaborators.
// Google Sheets is the system of record when configured; otherwise orders go to the local ledger.
func createEngine(ctx context.Context, st store.Store, mods Modules) (*flow.Engine, error) {
	var orders flow.OrderRepository
	repo, err := sheets.NewRepository(ctx, mods.Sheets...)
	switch {
	case err == nil:
		orders = repo
	case errors.Is(err, sheets.ErrNotConfigured):
		slog.Warn("No spreadsheet configured, recording orders in the local store")
		orders = store.NewLedgerRepository(st)
	default:
		return nil, err
	}

	var engineOpts []flow.EngineOption
	cal, err := calendar.NewService(ctx, mods.Calendar...)
	switch {
	case err == nil:
		engineOpts = append(engineOpts, flow.WithCalendar(cal))
	case errors.Is(err, calendar.ErrCalendarNotConfigured):
		slog.Info("No calendar configured, skipping event booking")
	default:
		return nil, err
	}

	if mods.S3 != nil {
		objects, err := media.NewS3Store(*mods.S3)
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, flow.WithMediaResolver(media.NewResolver(objects, mods.Media...)))
	} else {
		slog.Warn("No S3 bucket configured, image uploads will be refused")
	}

	return flow.NewEngine(flow.NewStoreBasedStateManager(st), orders, engineOpts...), nil
}

// createMessagingService builds the configured transport. The Twilio service is
// also returned on its own so the server can mount its webhook.
func createMessagingService(ctx context.Context, transport string, mods Modules) (messaging.Service, *messaging.TwilioService, error) {
	switch transport {
	case TransportWhatsApp:
		client, err := whatsapp.NewClient(ctx, mods.WhatsApp...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create whatsapp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil, nil
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient(mods.Twilio...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client, mods.Webhook...)
		return svc, svc, nil
	case TransportNone, "":
		slog.Warn("No chat transport configured; only POST /messages will reach the bot")
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", transport)
	}
}
