package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/api"
	"github.com/BTreeMap/OrderPipe/internal/media"
	"github.com/BTreeMap/OrderPipe/internal/store"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func clearOrderPipeEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ORDERPIPE_STATE_DIR", "WHATSAPP_DB_DSN", "DATABASE_DSN", "DATABASE_URL", "API_ADDR", "TRANSPORT",
		"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER", "TWILIO_WEBHOOK_URL",
		"GOOGLE_CREDENTIALS_FILE", "SPREADSHEET_ID", "SHEET_NAME", "CALENDAR_ID",
		"S3_ENDPOINT", "S3_REGION", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_BUCKET", "S3_USE_SSL", "S3_PUBLIC_BASE_URL",
		"SESSION_IDLE_TIMEOUT", "SESSION_SWEEP_CRON",
	} {
		t.Setenv(key, "")
	}
}

func testFlags(stateDir, waDSN, appDSN string) Flags {
	return Flags{
		qrOutput:      strPtr(""),
		numeric:       boolPtr(false),
		stateDir:      strPtr(stateDir),
		whatsappDBDSN: strPtr(waDSN),
		appDBDSN:      strPtr(appDSN),
		apiAddr:       strPtr(""),
		transport:     strPtr(api.TransportWhatsApp),
	}
}

func TestLoadEnvironmentConfig_Defaults(t *testing.T) {
	clearOrderPipeEnv(t)

	config := loadEnvironmentConfig()

	if config.StateDir != DefaultStateDir {
		t.Errorf("StateDir = %q, want %q", config.StateDir, DefaultStateDir)
	}
	if config.Transport != api.TransportWhatsApp {
		t.Errorf("Transport = %q", config.Transport)
	}
	if want := filepath.Join(DefaultStateDir, DefaultAppDBFileName); config.ApplicationDBDSN != want {
		t.Errorf("ApplicationDBDSN = %q, want %q", config.ApplicationDBDSN, want)
	}
	if want := "file:" + filepath.Join(DefaultStateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"; config.WhatsAppDBDSN != want {
		t.Errorf("WhatsAppDBDSN = %q, want %q", config.WhatsAppDBDSN, want)
	}
	if config.SessionIdleTimeout != 0 {
		t.Errorf("SessionIdleTimeout = %v, want 0", config.SessionIdleTimeout)
	}
	if !config.S3UseSSL {
		t.Error("S3UseSSL should default to true")
	}
}

func TestLoadEnvironmentConfig_Overrides(t *testing.T) {
	clearOrderPipeEnv(t)
	t.Setenv("ORDERPIPE_STATE_DIR", "/tmp/op")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/orders")
	t.Setenv("TRANSPORT", "twilio")
	t.Setenv("S3_USE_SSL", "false")
	t.Setenv("SESSION_IDLE_TIMEOUT", "90m")

	config := loadEnvironmentConfig()

	if config.ApplicationDBDSN != "postgres://u:p@db/orders" {
		t.Errorf("DATABASE_URL not used: %q", config.ApplicationDBDSN)
	}
	if config.Transport != api.TransportTwilio {
		t.Errorf("Transport = %q", config.Transport)
	}
	if config.S3UseSSL {
		t.Error("S3_USE_SSL=false ignored")
	}
	if config.SessionIdleTimeout != 90*time.Minute {
		t.Errorf("SessionIdleTimeout = %v", config.SessionIdleTimeout)
	}

	t.Setenv("DATABASE_DSN", "/data/app.db")
	if got := loadEnvironmentConfig().ApplicationDBDSN; got != "/data/app.db" {
		t.Errorf("DATABASE_DSN should win over DATABASE_URL, got %q", got)
	}
}

func TestLoadEnvironmentConfig_InvalidIdleTimeout(t *testing.T) {
	clearOrderPipeEnv(t)
	for _, raw := range []string{"soon", "-5m", "0s"} {
		t.Setenv("SESSION_IDLE_TIMEOUT", raw)
		if got := loadEnvironmentConfig().SessionIdleTimeout; got != 0 {
			t.Errorf("SESSION_IDLE_TIMEOUT=%q gave %v, want 0", raw, got)
		}
	}
}

func TestApplyStateDirOverride(t *testing.T) {
	config := Config{StateDir: "/env/state"}
	flags := testFlags("/flag/state", defaultWhatsAppDSN(config.StateDir), defaultAppDSN(config.StateDir))

	applyStateDirOverride(config, flags)

	if *flags.whatsappDBDSN != defaultWhatsAppDSN("/flag/state") {
		t.Errorf("whatsapp DSN = %q", *flags.whatsappDBDSN)
	}
	if *flags.appDBDSN != defaultAppDSN("/flag/state") {
		t.Errorf("app DSN = %q", *flags.appDBDSN)
	}

	explicit := testFlags("/flag/state", "postgres://wa", "/custom/app.db")
	applyStateDirOverride(config, explicit)
	if *explicit.whatsappDBDSN != "postgres://wa" || *explicit.appDBDSN != "/custom/app.db" {
		t.Error("explicit DSNs must not follow the state directory")
	}
}

func TestEnsureDirectoriesExist(t *testing.T) {
	root := t.TempDir()
	stateDir := filepath.Join(root, "state")
	appDir := filepath.Join(root, "app")
	flags := testFlags(stateDir, defaultWhatsAppDSN(stateDir), filepath.Join(appDir, "orders.db"))

	if err := ensureDirectoriesExist(flags); err != nil {
		t.Fatalf("ensureDirectoriesExist: %v", err)
	}
	for _, dir := range []string{stateDir, appDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("directory %s not created: %v", dir, err)
		}
	}

	pgFlags := testFlags(stateDir, "postgres://u@h/wa", "host=db dbname=orders")
	if err := ensureDirectoriesExist(pgFlags); err != nil {
		t.Fatalf("ensureDirectoriesExist with postgres: %v", err)
	}
}

func TestBuildWhatsAppOptions(t *testing.T) {
	flags := testFlags("/s", "", "")
	if opts := buildWhatsAppOptions(flags); len(opts) != 0 {
		t.Errorf("expected no options, got %d", len(opts))
	}
	flags.qrOutput = strPtr("/tmp/qr.txt")
	flags.numeric = boolPtr(true)
	flags.whatsappDBDSN = strPtr("file:/s/wa.db")
	if opts := buildWhatsAppOptions(flags); len(opts) != 3 {
		t.Errorf("expected 3 options, got %d", len(opts))
	}
}

func TestBuildStoreOptions(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		idle time.Duration
		want int
	}{
		{"none", "", 0, 0},
		{"sqlite", "/s/orderpipe.db", 0, 1},
		{"postgres with idle timeout", "postgres://u@h/db", time.Hour, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := testFlags("/s", "", tt.dsn)
			opts := buildStoreOptions(flags, Config{SessionIdleTimeout: tt.idle})
			if len(opts) != tt.want {
				t.Fatalf("expected %d options, got %d", tt.want, len(opts))
			}
			var o store.Opts
			for _, opt := range opts {
				opt(&o)
			}
			if o.DSN != tt.dsn {
				t.Errorf("DSN = %q, want %q", o.DSN, tt.dsn)
			}
		})
	}
}

func TestBuildWebhookOptions(t *testing.T) {
	if opts := buildWebhookOptions(Config{TwilioAuthToken: "tok"}); len(opts) != 0 {
		t.Error("signature validation needs the webhook URL")
	}
	if opts := buildWebhookOptions(Config{TwilioAuthToken: "tok", TwilioWebhookURL: "https://x/webhook/twilio"}); len(opts) != 1 {
		t.Error("expected signature validation option")
	}
}

func TestBuildMediaOptions(t *testing.T) {
	config := Config{TwilioAccountSID: "AC1", TwilioAuthToken: "tok"}
	if opts := buildMediaOptions(config, api.TransportWhatsApp); len(opts) != 0 {
		t.Error("whatsapp media is downloaded inline and needs no auth")
	}

	var o media.Opts
	for _, opt := range buildMediaOptions(config, api.TransportTwilio) {
		opt(&o)
	}
	if o.Username != "AC1" || o.Password != "tok" {
		t.Errorf("twilio media needs basic auth, got %q/%q", o.Username, o.Password)
	}
	if len(o.AuthHosts) != 1 || o.AuthHosts[0] != media.TwilioMediaHost {
		t.Errorf("credentials must only go to %s, got %v", media.TwilioMediaHost, o.AuthHosts)
	}
	if len(o.AllowedHosts) != 1 || o.AllowedHosts[0] != media.TwilioMediaHost {
		t.Errorf("downloads must be limited to %s, got %v", media.TwilioMediaHost, o.AllowedHosts)
	}

	o = media.Opts{}
	for _, opt := range buildMediaOptions(Config{}, api.TransportTwilio) {
		opt(&o)
	}
	if o.Username != "" || len(o.AllowedHosts) != 1 {
		t.Errorf("without credentials only the host restriction applies, got %+v", o)
	}
}

func TestBuildS3Config(t *testing.T) {
	if buildS3Config(Config{}) != nil {
		t.Error("expected nil without endpoint")
	}
	cfg := buildS3Config(Config{S3Endpoint: "minio:9000", S3Bucket: "cakes", S3UseSSL: true})
	if cfg == nil || cfg.Bucket != "cakes" || !cfg.UseSSL {
		t.Errorf("unexpected S3 config %+v", cfg)
	}
}

func TestBuildAPIOptions(t *testing.T) {
	flags := testFlags("/s", "", "")
	flags.apiAddr = strPtr(":9090")

	var o api.Opts
	for _, opt := range buildAPIOptions(flags, Config{SessionSweepCron: "*/5 * * * *"}) {
		opt(&o)
	}
	if o.Addr != ":9090" || o.StateDir != "/s" || o.Transport != api.TransportWhatsApp {
		t.Errorf("unexpected opts %+v", o)
	}
	if o.SweepSpec != "*/5 * * * *" {
		t.Errorf("SweepSpec = %q", o.SweepSpec)
	}
	if o.IdleTimeout != 0 {
		t.Errorf("IdleTimeout should stay unset, got %v", o.IdleTimeout)
	}

	if opts := buildAPIOptions(testFlags("/s", "", ""), Config{}); len(opts) != 2 {
		t.Errorf("expected 2 options without addr or sweep, got %d", len(opts))
	}
}
