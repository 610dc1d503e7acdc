package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/api"
	"github.com/BTreeMap/OrderPipe/internal/calendar"
	"github.com/BTreeMap/OrderPipe/internal/media"
	"github.com/BTreeMap/OrderPipe/internal/messaging"
	"github.com/BTreeMap/OrderPipe/internal/sheets"
	"github.com/BTreeMap/OrderPipe/internal/store"
	"github.com/BTreeMap/OrderPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/OrderPipe/internal/util"
	"github.com/BTreeMap/OrderPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for OrderPipe state data
	DefaultStateDir = "/var/lib/orderpipe"
	// DefaultWhatsAppDBFileName is the whatsmeow device store filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultAppDBFileName is the conversation and order ledger filename
	DefaultAppDBFileName = "orderpipe.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	mods := api.Modules{
		WhatsApp: buildWhatsAppOptions(flags),
		Twilio:   buildTwilioOptions(config),
		Webhook:  buildWebhookOptions(config),
		Store:    buildStoreOptions(flags, config),
		Sheets:   buildSheetsOptions(config),
		Calendar: buildCalendarOptions(config),
		Media:    buildMediaOptions(config, *flags.transport),
		S3:       buildS3Config(config),
	}
	apiOpts := buildAPIOptions(flags, config)

	slog.Info("Bootstrapping OrderPipe with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "transport", *flags.transport,
		"app_dsn_set", *flags.appDBDSN != "", "api_addr", *flags.apiAddr, "s3_enabled", mods.S3 != nil)
	if err := api.Run(mods, apiOpts...); err != nil {
		slog.Error("OrderPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("OrderPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	WhatsAppDBDSN    string
	ApplicationDBDSN string
	APIAddr          string
	Transport        string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioWebhookURL string

	GoogleCredentials string
	SpreadsheetID     string
	SheetName         string
	CalendarID        string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3UseSSL        bool
	S3PublicBaseURL string

	SessionIdleTimeout time.Duration
	SessionSweepCron   string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      *string
	numeric       *bool
	stateDir      *string
	whatsappDBDSN *string
	appDBDSN      *string
	apiAddr       *string
	transport     *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:          os.Getenv("ORDERPIPE_STATE_DIR"),
		WhatsAppDBDSN:     os.Getenv("WHATSAPP_DB_DSN"),
		ApplicationDBDSN:  os.Getenv("DATABASE_DSN"),
		APIAddr:           os.Getenv("API_ADDR"),
		Transport:         os.Getenv("TRANSPORT"),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:  os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL:  os.Getenv("TWILIO_WEBHOOK_URL"),
		GoogleCredentials: os.Getenv("GOOGLE_CREDENTIALS_FILE"),
		SpreadsheetID:     os.Getenv("SPREADSHEET_ID"),
		SheetName:         os.Getenv("SHEET_NAME"),
		CalendarID:        os.Getenv("CALENDAR_ID"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3Region:          os.Getenv("S3_REGION"),
		S3AccessKey:       os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("S3_SECRET_KEY"),
		S3Bucket:          os.Getenv("S3_BUCKET"),
		S3UseSSL:          util.ParseBoolEnv("S3_USE_SSL", true),
		S3PublicBaseURL:   os.Getenv("S3_PUBLIC_BASE_URL"),
		SessionSweepCron:  os.Getenv("SESSION_SWEEP_CRON"),

		// Zero leaves the store and sweeper defaults in place.
		SessionIdleTimeout: util.ParseDurationEnv("SESSION_IDLE_TIMEOUT", 0),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No ORDERPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.Transport == "" {
		config.Transport = api.TransportWhatsApp
	}

	// DATABASE_URL is the common name on hosted platforms.
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = os.Getenv("DATABASE_URL")
	}
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = defaultAppDSN(config.StateDir)
		slog.Debug("No application DSN provided, defaulting to SQLite", "sqlite_path", config.ApplicationDBDSN)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
	}


	slog.Debug("environment variables loaded",
		"ORDERPIPE_STATE_DIR", config.StateDir,
		"TRANSPORT", config.Transport,
		"DATABASE_DSN_SET", config.ApplicationDBDSN != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"TWILIO_WEBHOOK_URL", config.TwilioWebhookURL,
		"SPREADSHEET_ID_SET", config.SpreadsheetID != "",
		"CALENDAR_ID_SET", config.CalendarID != "",
		"S3_ENDPOINT", config.S3Endpoint,
		"SESSION_IDLE_TIMEOUT", config.SessionIdleTimeout,
		"SESSION_SWEEP_CRON", config.SessionSweepCron)

	return config
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

func defaultAppDSN(stateDir string) string {
	return filepath.Join(stateDir, DefaultAppDBFileName)
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:      flag.String("qr-output", "", "path to write login QR code"),
		numeric:       flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for OrderPipe data (overrides $ORDERPIPE_STATE_DIR)"),
		whatsappDBDSN: flag.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)"),
		appDBDSN:      flag.String("db-dsn", config.ApplicationDBDSN, "conversation store DSN (overrides $DATABASE_DSN or $DATABASE_URL)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		transport:     flag.String("transport", config.Transport, "chat transport: whatsapp, twilio or none (overrides $TRANSPORT)"),
	}

	flag.Parse()
	applyStateDirOverride(config, flags)

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"appDSN_set", *flags.appDBDSN != "",
		"apiAddr", *flags.apiAddr,
		"transport", *flags.transport)
	return flags
}

// applyStateDirOverride moves default database paths into a state directory given on the command line.
func applyStateDirOverride(config Config, flags Flags) {
	if *flags.stateDir == config.StateDir {
		return
	}
	if *flags.whatsappDBDSN == defaultWhatsAppDSN(config.StateDir) {
		*flags.whatsappDBDSN = defaultWhatsAppDSN(*flags.stateDir)
	}
	if *flags.appDBDSN == defaultAppDSN(config.StateDir) {
		*flags.appDBDSN = defaultAppDSN(*flags.stateDir)
	}
	slog.Debug("Database paths follow state directory", "state_dir", *flags.stateDir)
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	for _, dsn := range []string{*flags.whatsappDBDSN, *flags.appDBDSN} {
		if dsn == "" || store.DetectDSNType(dsn) == "postgres" {
			continue
		}
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		dirs = append(dirs, filepath.Dir(path))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.whatsappDBDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDBDSN))
	}
	return waOpts
}

// buildTwilioOptions constructs the Twilio REST client options; unset values fall back to the environment inside the client.
func buildTwilioOptions(config Config) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if config.TwilioAccountSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(config.TwilioAccountSID))
	}
	if config.TwilioAuthToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(config.TwilioAuthToken))
	}
	if config.TwilioFromNumber != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(config.TwilioFromNumber))
	}
	return opts
}

// buildWebhookOptions enables signature checks when both the auth token and public webhook URL are known.
func buildWebhookOptions(config Config) []messaging.TwilioOption {
	if config.TwilioAuthToken == "" || config.TwilioWebhookURL == "" {
		if config.Transport == api.TransportTwilio {
			slog.Warn("Twilio webhook signature validation disabled; set TWILIO_AUTH_TOKEN and TWILIO_WEBHOOK_URL")
		}
		return nil
	}
	return []messaging.TwilioOption{messaging.WithSignatureValidation(config.TwilioAuthToken, config.TwilioWebhookURL)}
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags, config Config) []store.Option {
	var storeOpts []store.Option
	if dsn := *flags.appDBDSN; dsn != "" {
		if store.DetectDSNType(dsn) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
			storeOpts = append(storeOpts, store.WithPostgresDSN(dsn))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", dsn)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(dsn))
		}
	}
	if config.SessionIdleTimeout > 0 {
		storeOpts = append(storeOpts, store.WithIdleTimeout(config.SessionIdleTimeout))
	}
	return storeOpts
}

func buildSheetsOptions(config Config) []sheets.Option {
	var opts []sheets.Option
	if config.GoogleCredentials != "" {
		opts = append(opts, sheets.WithCredentialsFile(config.GoogleCredentials))
	}
	if config.SpreadsheetID != "" {
		opts = append(opts, sheets.WithSpreadsheetID(config.SpreadsheetID))
	}
	if config.SheetName != "" {
		opts = append(opts, sheets.WithSheetName(config.SheetName))
	}
	return opts
}

func buildCalendarOptions(config Config) []calendar.Option {
	var opts []calendar.Option
	if config.GoogleCredentials != "" {
		opts = append(opts, calendar.WithCredentialsFile(config.GoogleCredentials))
	}
	if config.CalendarID != "" {
		opts = append(opts, calendar.WithCalendarID(config.CalendarID))
	}
	return opts
}

// buildMediaOptions authenticates media downloads for Twilio, whose media URLs require the account credentials.
func buildMediaOptions(config Config, transport string) []media.Option {
	if transport != api.TransportTwilio {
		return nil
	}
	opts := []media.Option{media.WithAllowedHosts(media.TwilioMediaHost)}
	if config.TwilioAccountSID != "" {
		opts = append(opts,
			media.WithBasicAuth(config.TwilioAccountSID, config.TwilioAuthToken),
			media.WithAuthHosts(media.TwilioMediaHost),
		)
	}
	return opts
}

// buildS3Config returns nil when no bucket endpoint is configured.
func buildS3Config(config Config) *media.S3Config {
	if config.S3Endpoint == "" {
		return nil
	}
	return &media.S3Config{
		Endpoint:      config.S3Endpoint,
		Region:        config.S3Region,
		AccessKey:     config.S3AccessKey,
		SecretKey:     config.S3SecretKey,
		Bucket:        config.S3Bucket,
		UseSSL:        config.S3UseSSL,
		PublicBaseURL: config.S3PublicBaseURL,
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, config Config) []api.Option {
	apiOpts := []api.Option{
		api.WithTransport(*flags.transport),
		api.WithStateDir(*flags.stateDir),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if config.SessionSweepCron != "" || config.SessionIdleTimeout > 0 {
		apiOpts = append(apiOpts, api.WithSessionSweep(config.SessionSweepCron, config.SessionIdleTimeout))
	}
	return apiOpts
}
