package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/ally/internal/api"
	"github.com/MikeSquared-Agency/ally/internal/catalog"
	"github.com/MikeSquared-Agency/ally/internal/clinc"
	"github.com/MikeSquared-Agency/ally/internal/config"
	"github.com/MikeSquared-Agency/ally/internal/dialog"
	"github.com/MikeSquared-Agency/ally/internal/hermes"
	"github.com/MikeSquared-Agency/ally/internal/messenger"
	"github.com/MikeSquared-Agency/ally/internal/platform"
	"github.com/MikeSquared-Agency/ally/internal/processor"
	"github.com/MikeSquared-Agency/ally/internal/session"
	"github.com/MikeSquared-Agency/ally/internal/sqlitestore"
	"github.com/MikeSquared-Agency/ally/internal/store"
	"github.com/MikeSquared-Agency/ally/internal/tone"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("ally starting", "port", cfg.Port, "platform", cfg.Platform, "session_backend", cfg.SessionBackend)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, slog.Default()); err != nil {
		slog.Error("ally exited", "error", err)
		os.Exit(1)
	}
	slog.Info("ally stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// Response catalog; every key a handler can reach must be present.
	cat, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}
	attachmentKey := dialog.Key("messenger", "attachment")
	if err := cat.Require(append(dialog.CatalogKeys(), attachmentKey)...); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	logger.Info("catalog loaded", "entries", cat.Len(), "path", cfg.CatalogPath)

	// Sessions
	sessions, ready, closeSessions, err := openSessions(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSessions()
	logger.Info("session store ready", "backend", cfg.SessionBackend)

	// NATS/Hermes (optional; turns are still served without events)
	var pub processor.Publisher
	var natsReady func(context.Context) error
	if cfg.NatsURL != "" {
		hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer hermesClient.Close()
		pub = hermesClient
		natsReady = hermesClient.Ready
		logger.Info("NATS connected", "url", cfg.NatsURL)

		if err := hermesClient.Publish("ally.agent.registered", map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      cfg.Port,
			"platform":  cfg.Platform,
		}); err != nil {
			logger.Warn("failed to publish registration", "error", err)
		}
	} else {
		logger.Warn("NATS_URL not set, turn events disabled")
	}

	classifier := tone.NewClient(cfg.ToneAPIURL, cfg.ToneAPIKey, cfg.ToneVersion, cfg.ToneMinScore)
	locker := session.NewLocker()

	proc := processor.New(sessions, locker, classifier, cat, pub, processor.Options{
		Platform:              cfg.Platform,
		ClassifierTimeout:     cfg.ClassifierTimeout,
		ClassifierConcurrency: cfg.ClassifierConcurrency,
	}, logger)

	codec, err := platform.New(cfg.Platform, cfg.Clinc.ResponseSlot)
	if err != nil {
		return err
	}

	srv := api.NewServer(api.Options{
		Port:           cfg.Port,
		WebhookToken:   cfg.WebhookToken,
		SessionBackend: cfg.SessionBackend,
		Ready:          api.Readiness(ready, natsReady),
	}, codec, proc, logger)

	if cfg.MessengerEnabled() {
		var responder messenger.Responder = proc
		if cfg.MessengerBackend == "clinc" {
			cc := clinc.NewClient(clinc.Config{
				BaseURL:     cfg.Clinc.URL,
				Username:    cfg.Clinc.Username,
				Password:    cfg.Clinc.Password,
				Institution: cfg.Clinc.Institution,
				AIVersion:   cfg.Clinc.AIVersion,
			}, logger)
			responder = clinc.NewResponder(cc, sessions, locker, logger)
		}
		attachmentText, _ := cat.Text(attachmentKey)
		srv.MountMessenger(messenger.NewHandler(
			cfg.MessengerVerifyToken,
			responder,
			messenger.NewSender(cfg.MessengerAccessToken, logger),
			attachmentText,
			logger,
		))
		logger.Info("messenger bridge mounted", "backend", cfg.MessengerBackend)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("ally ready", "port", cfg.Port)
	return g.Wait()
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}

// openSessions returns the configured store, its readiness check (nil when
// there is nothing to check) and a closer.
func openSessions(ctx context.Context, cfg config.Config) (session.Store, func(context.Context) error, func(), error) {
	switch cfg.SessionBackend {
	case "postgres":
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return db, db.Ping, db.Close, nil
	case "sqlite":
		db, err := sqlitestore.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return db, db.Ping, func() { db.Close() }, nil
	default:
		return session.NewInMemoryStore(), nil, func() {}, nil
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
