package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"glowdesk/internal/activity"
	"glowdesk/internal/api"
	"glowdesk/internal/audit"
	"glowdesk/internal/availability"
	"glowdesk/internal/config"
	"glowdesk/internal/database"
	"glowdesk/internal/hold"
	"glowdesk/internal/metrics"
	"glowdesk/internal/notify"
	"glowdesk/internal/reminders"
	"glowdesk/internal/sheets"
)

func main() {
	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("GLOWDESK_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	location, err := time.LoadLocation(cfg.Salon.Timezone)
	if err != nil {
		logger.Fatal().Err(err).Str("timezone", cfg.Salon.Timezone).Msg("invalid salon timezone")
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Core services.
	resolver := availability.NewResolver(db, location)
	holdManager := hold.NewManager(db, cfg.HoldTTL(), &logger)
	tracker := activity.NewTracker(db, rdb, cfg.ActivityDebounce(), &logger)

	// Notification pipeline.
	var notifier notify.Notifier
	if cfg.Telegram.BotToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Fatal().Err(err).Msg("create telegram bot error")
		}
		bot.Debug = cfg.Telegram.Debug
		notifier = notify.NewTelegramNotifier(bot, &logger)
	} else {
		logger.Warn().Msg("telegram token not set, reminders are logged only")
		notifier = logNotifier{&logger}
	}

	dispatcherCfg := reminders.Config{
		QuietHoursStart:    cfg.Salon.QuietHoursStart,
		QuietHoursEnd:      cfg.Salon.QuietHoursEnd,
		MaxConcurrentSends: cfg.Reminders.MaxConcurrentSends,
		SendTimeout:        cfg.ReminderSendTimeout(),
		RatePerSecond:      float64(cfg.Reminders.RatePerSecond),
	}
	sources := []reminders.Source{
		reminders.NewUpcomingSource(db, location, cfg.ReminderHalfWindow()),
		reminders.NewRecoverySource(db, cfg.RecoveryDelay()),
		reminders.NewRetentionSource(db, cfg.RetentionDelay()),
	}
	dispatcher := reminders.NewDispatcher(dispatcherCfg, sources, notifier, location, &logger, reminders.NewMetrics("glowdesk"))
	scheduler := reminders.NewScheduler(dispatcher, cfg.ReminderSweepInterval(), &logger)

	// Background loops.
	go holdManager.StartSweep(ctx, cfg.HoldSweepInterval())
	scheduler.Start(ctx)
	defer scheduler.Stop()

	backupSvc := database.NewBackupService(db, cfg.Database.Path, database.BackupConfig{
		Enabled:       cfg.Backup.Enabled,
		StoragePath:   cfg.Backup.StoragePath,
		Interval:      cfg.BackupInterval(),
		RetentionDays: cfg.Backup.RetentionDays,
	}, &logger)
	go backupSvc.Start(ctx)

	if cfg.Audit.Enabled {
		auditSvc := audit.NewService(&audit.Config{
			RetentionDays: cfg.Audit.RetentionDays,
			ExportDir:     cfg.Audit.ExportDir,
		}, db, &logger)
		auditSvc.Start()
		defer auditSvc.Stop()
	}

	if cfg.Sheets.Enabled {
		exporter, err := sheets.New(ctx, sheets.Config{
			CredentialsFile: cfg.Sheets.CredentialsFile,
			SpreadsheetID:   cfg.Sheets.SpreadsheetID,
			SheetName:       cfg.Sheets.SheetName,
			DaysAhead:       cfg.Sheets.DaysAhead,
			Interval:        cfg.SheetsInterval(),
		}, db, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("create sheets exporter error")
		}
		exporter.Start(ctx)
		defer exporter.Stop()
	}

	// Monitoring.
	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	// HTTP API.
	server := api.NewHTTPServer(cfg.API.Address, resolver, holdManager, dispatcher, tracker, cfg.API.APIKey, &logger)
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctxShutdown)
	}()

	logger.Info().Msg("booking core started")
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("http api error")
	}
}

// logNotifier stands in when no delivery channel is configured.
type logNotifier struct {
	log *zerolog.Logger
}

func (n logNotifier) Send(ctx context.Context, recipient, channel, templateKey string, data map[string]string) error {
	n.log.Info().
		Str("recipient", recipient).
		Str("channel", channel).
		Str("template", templateKey).
		Msg("reminder (dry run)")
	return nil
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
