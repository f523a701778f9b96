package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	jwttoken "kinship/internal/jwt_token"
	"kinship/internal/platform/config"
	"kinship/internal/platform/httpserver"
	"kinship/internal/platform/kafka"
	"kinship/internal/platform/logger"
	"kinship/internal/platform/metrics"
	"kinship/internal/platform/postgres"
	"kinship/internal/platform/postgres/migrate"
	platformredis "kinship/internal/platform/redis"
	httptransport "kinship/internal/transport/http"
	"kinship/internal/verification/authz"
	"kinship/internal/verification/handler"
	vmetrics "kinship/internal/verification/metrics"
	"kinship/internal/verification/notify"
	"kinship/internal/verification/provider"
	"kinship/internal/verification/service"
	"kinship/internal/verification/signature"
	"kinship/internal/verification/store/eventdedup"
	"kinship/internal/verification/store/profile"
	"kinship/internal/verification/store/sessionlimit"
	"kinship/pkg/platform/audit"
	auditmemory "kinship/pkg/platform/audit/store/memory"
	auditpostgres "kinship/pkg/platform/audit/store/postgres"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the /verify HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger.New(cfg.Server))
		},
	}
}

// infra holds the optional backing services; nil fields fall back to
// in-process implementations.
type infra struct {
	db      *sql.DB
	redis   *platformredis.Client
	kafka   *notify.KafkaNotifier
	closers []func()
}

func (i *infra) close() {
	for n := len(i.closers) - 1; n >= 0; n-- {
		i.closers[n]()
	}
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.close()

	reg := metrics.NewRegistry()
	vm := vmetrics.New(reg)

	svc := service.New(
		provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey,
			provider.WithTimeout(cfg.Provider.Timeout),
			provider.WithMetrics(vm),
		),
		profileStore(deps),
		authz.New(authz.NewJWTPlatform(jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)), log),
		signature.NewVerifier(cfg.Provider.WebhookSecret, cfg.Provider.SignatureTolerance),
		serviceOptions(cfg, deps, log, vm)...,
	)

	routerCfg := httptransport.RouterConfig{
		Logger:         log,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		HTTPMetrics:    metrics.NewHTTP(reg),
		Checks:         healthChecks(deps),
	}
	if cfg.Server.MetricsEnabled {
		routerCfg.Registry = reg
	}
	router := httptransport.NewRouter(routerCfg, handler.New(svc, log, cfg.Server.MaxWebhookBodySize))
	srv := httpserver.New(cfg.Server, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting kinship", "addr", cfg.Server.Addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		if deps.kafka != nil {
			if err := deps.kafka.Flush(shutdownCtx); err != nil {
				log.Warn("notification flush incomplete", "error", err)
			}
		}
		return nil
	})
	return g.Wait()
}

func connect(ctx context.Context, cfg *config.Config, log *slog.Logger) (*infra, error) {
	deps := &infra{}

	if cfg.Postgres.URL != "" {
		if cfg.Postgres.AutoMigrate {
			if err := migrate.Run(cfg.Postgres.URL, migrate.Up); err != nil {
				return nil, fmt.Errorf("auto-migrate: %w", err)
			}
		}
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		deps.db = db
		deps.closers = append(deps.closers, func() { _ = db.Close() })
		log.Info("profile store", "backend", "postgres")
	} else {
		log.Warn("DATABASE_URL not set; profile state is kept in memory")
	}

	rc, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		deps.close()
		return nil, err
	}
	if rc != nil {
		deps.redis = rc
		deps.closers = append(deps.closers, func() { _ = rc.Close() })
	}

	kc, err := kafka.NewClient(cfg.Kafka)
	if err != nil {
		deps.close()
		return nil, err
	}
	if kc != nil {
		if err := kafka.EnsureTopic(ctx, kc, cfg.Kafka.Topic, 1); err != nil {
			log.Warn("kafka topic not ensured", "topic", cfg.Kafka.Topic, "error", err)
		}
		deps.kafka = notify.NewKafka(kc, cfg.Kafka.Topic, log)
		deps.closers = append(deps.closers, kc.Close)
	}
	return deps, nil
}

func profileStore(deps *infra) service.ProfileStore {
	if deps.db != nil {
		return profile.NewPostgres(deps.db)
	}
	return profile.NewInMemory()
}

func serviceOptions(cfg *config.Config, deps *infra, log *slog.Logger, vm *vmetrics.Metrics) []service.Option {
	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(vm),
	}

	var auditStore audit.Store = auditmemory.NewInMemoryStore()
	if deps.db != nil {
		auditStore = auditpostgres.New(deps.db)
	}
	opts = append(opts, service.WithAuditPublisher(audit.NewPublisher(auditStore, log)))

	if deps.redis != nil {
		opts = append(opts,
			service.WithEventDedup(eventdedup.NewRedis(deps.redis.Client, cfg.Limits.DedupTTL)),
			service.WithSessionLimiter(sessionlimit.NewRedis(deps.redis.Client, cfg.Limits.SessionsPerWindow, cfg.Limits.SessionWindow)),
		)
	} else {
		opts = append(opts,
			service.WithEventDedup(eventdedup.NewInMemory(cfg.Limits.DedupTTL)),
			service.WithSessionLimiter(sessionlimit.NewInMemory(cfg.Limits.SessionsPerWindow, cfg.Limits.SessionWindow)),
		)
	}

	if deps.kafka != nil {
		opts = append(opts, service.WithNotifier(deps.kafka))
	}
	return opts
}

func healthChecks(deps *infra) map[string]httptransport.HealthCheck {
	checks := map[string]httptransport.HealthCheck{}
	if deps.db != nil {
		checks["postgres"] = func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return deps.db.PingContext(ctx)
		}
	}
	if deps.redis != nil {
		checks["redis"] = deps.redis.Health
	}
	return checks
}
