// Command electionbot runs the cooperative's election-process assistant: it
// answers participant questions over WhatsApp (whatsmeow or Twilio), applies
// the service-hours, consent, spam and escalation policies, and exposes the
// operator HTTP API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/answer"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/api"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/escalation"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/flow"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/lockfile"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/messaging"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/pipeline"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/schedule"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/scheduler"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/spam"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/store"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/twilio"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/util"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/whatsapp"
)

const (
	// DefaultStateDir is the default directory for assistant state data.
	DefaultStateDir = "/var/lib/electionbot"
	// DefaultDBFileName is the default SQLite database filename.
	DefaultDBFileName = "electionbot.db"
	// DefaultSessionDBFileName is the default whatsmeow session database filename.
	DefaultSessionDBFileName = "whatsmeow.db"
)

// Config holds environment configuration.
type Config struct {
	StateDir    string
	DatabaseURL string
	SessionDSN  string
	OpenAIKey   string
	OpenAIModel string
	APIAddr     string
	Channel     string
	Timezone    string
}

// Flags holds command line flag values.
type Flags struct {
	qrOutput *string
	numeric  *bool
	stateDir *string
	dbDSN    *string
	apiAddr  *string
	channel  *string
	timezone *string
}

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(config, flags); err != nil {
		slog.Error("Assistant failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Assistant exited successfully")
}

// initializeLogger sets up structured logging to stdout.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from the environment and .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:    util.ParseStringEnv("ELECTIONBOT_STATE_DIR", DefaultStateDir),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SessionDSN:  os.Getenv("WHATSAPP_DB_DSN"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel: os.Getenv("OPENAI_MODEL"),
		APIAddr:     util.ParseStringEnv("API_ADDR", api.DefaultAddr),
		Channel:     util.ParseStringEnv("CHANNEL", "whatsapp"),
		Timezone:    util.ParseStringEnv("SERVICE_TIMEZONE", schedule.DefaultTimezone),
	}

	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.SessionDSN == "" {
		config.SessionDSN = filepath.Join(config.StateDir, DefaultSessionDBFileName)
	}

	slog.Debug("environment variables loaded",
		"state_dir", config.StateDir,
		"database_url_set", config.DatabaseURL != "",
		"openai_key_set", config.OpenAIKey != "",
		"api_addr", config.APIAddr,
		"channel", config.Channel,
		"timezone", config.Timezone)
	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput: flag.String("qr-output", "", "path to write login QR code"),
		numeric:  flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir: flag.String("state-dir", config.StateDir, "state directory for assistant data (overrides $ELECTIONBOT_STATE_DIR)"),
		dbDSN:    flag.String("db-dsn", config.DatabaseURL, "database DSN for the durable store (overrides $DATABASE_URL)"),
		apiAddr:  flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		channel:  flag.String("channel", config.Channel, "delivery channel: whatsapp, twilio or none (overrides $CHANNEL)"),
		timezone: flag.String("timezone", config.Timezone, "IANA time zone for service hours (overrides $SERVICE_TIMEZONE)"),
	}
	flag.Parse()

	if *flags.dbDSN == config.DatabaseURL && *flags.stateDir != config.StateDir &&
		config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
	}
	return flags
}

// newStore opens the durable store matching the DSN type.
func newStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

func run(config Config, flags Flags) error {
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := newStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	gate, err := schedule.NewGate(
		schedule.WithTimezone(*flags.timezone),
		schedule.WithHolidaySource(st),
	)
	if err != nil {
		return err
	}

	answerer, err := answer.NewClient(
		answer.WithAPIKey(config.OpenAIKey),
		answer.WithModel(config.OpenAIModel),
	)
	if err != nil {
		return err
	}

	pipe := pipeline.New(st, gate, spam.NewGuard(), escalation.NewPolicy(), flow.NewEngine(), answerer)
	if _, err := pipe.Restore(); err != nil {
		return err
	}
	if err := pipe.LoadScheduleSettings(); err != nil {
		slog.Warn("Could not restore schedule settings, using defaults", "error", err)
	}

	sched, err := scheduler.NewScheduler(*flags.timezone)
	if err != nil {
		return err
	}
	defer sched.Stop()
	if err := sched.RegisterMaintenance(pipe); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var webhook http.HandlerFunc
	switch *flags.channel {
	case "whatsapp":
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(config.SessionDSN)}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		waClient, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return err
		}
		defer waClient.Disconnect()

		svc := messaging.NewWhatsAppService(waClient)
		if err := svc.Start(ctx); err != nil {
			return err
		}
		defer svc.Stop()
		go messaging.NewRunner(svc, pipe, "whatsapp").Run(ctx)

	case "twilio":
		twClient, err := twilio.NewClient()
		if err != nil {
			return err
		}
		svc := messaging.NewTwilioService(twClient)
		defer svc.Stop()
		webhook = svc.WebhookHandler
		go messaging.NewRunner(svc, pipe, "twilio").Run(ctx)

	case "none":
		slog.Info("No delivery channel configured; inbound messages arrive via the API only")

	default:
		slog.Warn("Unknown channel, continuing with API only", "channel", *flags.channel)
	}

	server := api.NewServer(pipe, webhook, api.WithAddr(*flags.apiAddr))
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
