// cmd/questionnaire-server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"advisory-portal/internal/api"
	"advisory-portal/internal/common/auth"
	"advisory-portal/internal/common/aws"
	"advisory-portal/internal/common/config"
	"advisory-portal/internal/common/database"
	apphttp "advisory-portal/internal/common/http"
	"advisory-portal/internal/common/logger"
	"advisory-portal/internal/common/observability"
	"advisory-portal/internal/questionnaire/persistence"
	"advisory-portal/internal/questionnaire/steps"
	"advisory-portal/internal/questionnaire/wizard"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog = logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting questionnaire server...",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	obs, err := observability.New(cfg.App.Name, prometheus.DefaultRegisterer)
	if err != nil {
		zapLog.Fatal("observability init failed", zap.Error(err))
	}
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init Redis (local cache) with retry ---
	rdb := database.NewRedis(cfg.Database.Redis)
	err = retryWithBackoff(func() error {
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	codec := persistence.NewCodec()
	local := persistence.NewRedisCache(rdb.Client, cfg.Database.Redis.KeyPrefix,
		time.Duration(cfg.Database.Redis.TTL)*time.Second)

	// --- Init remote store ---
	var remote persistence.RemoteStore
	if cfg.Database.Postgres.Enabled {
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()

		store := persistence.NewPostgresStore(pg.DB, codec)
		if err := store.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("snapshot schema setup failed", zap.Error(err))
		}
		remote = store
		zapLog.Info("PostgreSQL connected successfully")
	} else {
		remote = persistence.NewMemoryStore(codec)
		zapLog.Warn("PostgreSQL disabled, remote snapshots are kept in memory")
	}

	coordinator := persistence.NewCoordinator(local, remote, codec, log, persistence.Options{
		Debounce:    cfg.Wizard.Debounce(),
		LoadTimeout: cfg.Wizard.LoadTimeout(),
	})

	// --- Identity ---
	var resolver auth.IdentityResolver
	if cfg.Auth.Keycloak.Enabled {
		resolver = auth.NewKeycloakClient(
			cfg.Auth.Keycloak.URL,
			cfg.Auth.Keycloak.Realm,
			apphttp.NewClient(config.GetDuration(cfg.Auth.Keycloak.Timeout)),
		)
		zapLog.Info("Keycloak identity resolver enabled", zap.String("realm", cfg.Auth.Keycloak.Realm))
	} else {
		zapLog.Warn("Keycloak disabled, every session is anonymous")
	}

	// --- Submission notifier ---
	var notifier wizard.Notifier = wizard.NewLogNotifier(log)
	if cfg.Notifications.Email.Enabled {
		ses, err := aws.NewSESClient(ctx, cfg.Notifications.Email.Region)
		if err != nil {
			zapLog.Fatal("ses client init failed", zap.Error(err))
		}
		notifier = wizard.NewEmailNotifier(ses, cfg.Notifications.Email.FromEmail, cfg.Notifications.Email.ToEmail)
		zapLog.Info("SES submission notifier enabled")
	}

	// --- Wizard ---
	table, err := steps.LoadTable(cfg.Wizard.StepTablePath)
	if err != nil {
		zapLog.Fatal("step table load failed", zap.Error(err), zap.String("path", cfg.Wizard.StepTablePath))
	}
	sessions := wizard.NewRegistry(coordinator, notifier, log, wizard.ConfigFrom(cfg.Wizard, table))
	zapLog.Info("Step table loaded", zap.Int("steps", table.Len()))

	router := api.NewRouter(api.RouterConfig{
		Registry:      sessions,
		Resolver:      resolver,
		Logger:        log,
		Observability: obs,
		Debug:         cfg.Server.Debug,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining sessions...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}
	sessions.Close()
	coordinator.Close()

	zapLog.Info("Questionnaire server stopped gracefully")
}
