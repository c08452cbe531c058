package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UnknownOlympus/themis/internal/bot"
	"github.com/UnknownOlympus/themis/internal/config"
	"github.com/UnknownOlympus/themis/internal/directory"
	"github.com/UnknownOlympus/themis/internal/i18n"
	"github.com/UnknownOlympus/themis/internal/metrics"
	"github.com/UnknownOlympus/themis/internal/notify"
	"github.com/UnknownOlympus/themis/internal/repository"
	"github.com/UnknownOlympus/themis/internal/review"
	"github.com/UnknownOlympus/themis/internal/server"
	"github.com/UnknownOlympus/themis/internal/session"
	"github.com/UnknownOlympus/themis/internal/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// Constants for different environment types.
const (
	envLocal = "local"
	envDev   = "development"
	envProd  = "production"

	redisTimeout = 5 * time.Second
)

var rootCmd = &cobra.Command{
	Use:   "themis",
	Short: "Telegram bot that routes CRM clients through review, appeal and cassation",
	RunE:  runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot and the monitoring server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

// main is the entry point of the application.
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	// Create a context that will be canceled when an interrupt signal is received.
	// This allows for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load application configuration.
	cfg := config.MustLoad()

	// Set up the logger based on the environment.
	logger := setupLogger(cfg.Env)

	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// Create a separate registry for metrics with exemplar
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(reg)

	dtb, err := repository.NewDatabase(ctx, cfg.Database, repository.PoolOptions{AppName: "themis"})
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer dtb.Close()

	dirPool, err := repository.NewDatabase(ctx, cfg.Directory, repository.PoolOptions{
		AppName:  "themis-directory",
		ReadOnly: true,
		MinConns: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to directory DB: %w", err)
	}
	defer dirPool.Close()

	redisClient, err := newRedisClient(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisClient.Close()

	repo := repository.NewRepository(dtb)
	dir := directory.New(logger, dirPool, redisClient, appMetrics, directory.RoleMap{
		Doc:   cfg.Review.DocRoles,
		Law:   cfg.Review.LawRoles,
		Admin: cfg.Review.AdminRoles,
	}, cfg.OwnersCacheTTL)
	tracker := session.NewTracker(redisClient)

	localizer, err := i18n.NewLocalizer()
	if err != nil {
		return fmt.Errorf("failed to load translations: %w", err)
	}

	api, err := bot.NewAPI(logger, cfg.Token, cfg.PollerTimeout)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	dispatcher := notify.NewDispatcher(logger, api, appMetrics, notify.Config{
		MaxAttempts:  cfg.Review.NotifyMaxAttempts,
		OperatorChat: cfg.OperatorChat,
	})

	opts := bot.Options{CheckingGroup: cfg.CheckingGroup, ClientLink: cfg.ClientLink}
	announcer := bot.NewAnnouncer(bot.AnnouncerDeps{
		Log:       logger,
		Owners:    repo,
		Clients:   dir,
		Notifier:  dispatcher,
		Localizer: localizer,
		Toggles:   settings,
		Options:   opts,
	})

	service := review.NewService(review.Dependencies{
		Log:       logger,
		Tickets:   repo,
		Directory: dir,
		Sessions:  tracker,
		Announcer: announcer,
		Toggles:   settings,
		Metrics:   appMetrics,
		Policy: workflow.Policy{
			AppealLimit:    cfg.Review.AppealLimit,
			CassationLimit: cfg.Review.CassationLimit,
		},
	})

	themisBot := bot.NewBot(api, bot.Dependencies{
		Log:       logger,
		Employees: repo,
		Directory: dir,
		Reviews:   service,
		Sessions:  tracker,
		Settings:  settings,
		Notifier:  dispatcher,
		Metrics:   appMetrics,
		Redis:     redisClient,
		Localizer: localizer,
		Options:   opts,
	})

	health := server.NewHealthChecker(logger,
		server.Check{Name: "database", Target: dtb},
		server.Check{Name: "directory", Target: dirPool},
		server.Check{Name: "redis", Target: server.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})},
	)

	// Log that the application has started.
	logger.InfoContext(ctx, "Application started. Press Ctrl+C to stop.")

	// Start the bot in a goroutine to allow main to listen for signals.
	go themisBot.Start()

	// Start the monitoring server
	monitoring := server.New(logger, cfg.MonitoringPort, server.Routes{
		Health:       health,
		Registry:     reg,
		AlertWebhook: themisBot.AlertmanagerWebhookHandler,
	})
	go func() {
		if err := monitoring.Run(ctx); err != nil {
			logger.ErrorContext(ctx, "Monitoring server stopped", "error", err)
		}
	}()

	// Wait for the context to be canceled (e.g., by Ctrl+C).
	<-ctx.Done()

	logger.InfoContext(ctx, "Shutdown signal received. Stopping application...")

	themisBot.Stop()
	// Verdicts committed just before the signal still reach their owners.
	service.Wait()

	logger.InfoContext(ctx, "Application stopped gracefully.")
	return nil
}

// newRedisClient connects to addr and checks the connection within redisTimeout.
func newRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return client, nil
}

// setupLogger initializes and returns a logger based on the environment provided.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
				Level:     slog.LevelDebug,
				AddSource: true,
			}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level:       slog.LevelWarn,
				ReplaceAttr: dropTime,
			}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level:       slog.LevelError,
				ReplaceAttr: dropTime,
			}),
		)

		log.Error(
			"The env parameter was not specified or was invalid. Logging will be minimal, by default.",
			slog.String("available_envs", "local, development, production"))
	}

	return log
}

func dropTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}
