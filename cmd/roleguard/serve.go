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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/kelseyhightower/envconfig"
	"github.com/oarkflow/squealx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/unrolled/secure"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/roleguard"
	"github.com/oarkflow/roleguard/logger"
	"github.com/oarkflow/roleguard/stores"
)

// serverConfig is read from the environment.
type serverConfig struct {
	Addr            string        `envconfig:"ROLEGUARD_ADDR" default:":8080"`
	SQLiteDSN       string        `envconfig:"ROLEGUARD_SQLITE_DSN" default:"file:roleguard.db?_pragma=busy_timeout(5000)"`
	RedisAddr       string        `envconfig:"ROLEGUARD_REDIS_ADDR"`
	ConfigFile      string        `envconfig:"ROLEGUARD_CONFIG"`
	LogFormat       string        `envconfig:"ROLEGUARD_LOG_FORMAT" default:"pretty"`
	Production      bool          `envconfig:"ROLEGUARD_PRODUCTION" default:"false"`
	ReadTimeout     time.Duration `envconfig:"ROLEGUARD_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"ROLEGUARD_WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"ROLEGUARD_SHUTDOWN_TIMEOUT" default:"10s"`
	RateLimit       int           `envconfig:"ROLEGUARD_RATE_LIMIT" default:"600"`
	BehindProxy     bool          `envconfig:"ROLEGUARD_BEHIND_PROXY" default:"false"`
}

func newLogger(format string) logger.Logger {
	if format == "json" {
		return logger.NewSLogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	}
	return logger.NewPhusluLogger()
}

func runServe(args []string) error {
	var cfg serverConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return fmt.Errorf("load env config: %w", err)
	}
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	flags.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "configuration file seeded into the database on start")
	if err := flags.Parse(args); err != nil {
		return err
	}
	log := newLogger(cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := sql.Open("sqlite", cfg.SQLiteDSN)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer sqlDB.Close()
	db := squealx.NewDb(sqlDB, "sqlite", "roleguard")
	if err := stores.Migrate(ctx, db); err != nil {
		return err
	}

	roles := stores.NewSQLRoleStore(db)
	assignments := stores.NewSQLAssignmentStore(db)
	resources := stores.NewSQLResourceStore(db)
	actors := stores.NewSQLActorStore(db)

	var engineOpts []roleguard.EngineOption
	if cfg.ConfigFile != "" {
		fileCfg, err := loadConfig(cfg.ConfigFile)
		if err != nil {
			return err
		}
		if err := fileCfg.Seed(ctx, roleguard.SeedTargets{Roles: roles, Assignments: assignments, Actors: actors, Resources: resources}); err != nil {
			return err
		}
		if engineOpts, err = fileCfg.EngineOptions(); err != nil {
			return err
		}
		log.Info("configuration seeded", "file", cfg.ConfigFile, "roles", len(fileCfg.Roles), "assignments", len(fileCfg.Assignments))
	}

	var sessions interface {
		roleguard.SessionCounter
		roleguard.SessionRecorder
	} = stores.NewMemorySessionStore()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		sessions = stores.NewRedisSessionStore(client)
	}

	registry := prometheus.NewRegistry()
	engineOpts = append(engineOpts,
		roleguard.WithLogger(log),
		roleguard.WithMetrics(roleguard.NewMetrics(registry)),
		roleguard.WithResourceLookup(resources),
		roleguard.WithActorDirectory(actors),
		roleguard.WithSessionCounter(sessions),
		roleguard.WithAuditSink(stores.NewSQLAuditStore(db)),
	)
	engine, err := roleguard.NewEngine(roles, assignments, engineOpts...)
	if err != nil {
		return err
	}
	defer engine.Close()

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "no-referrer",
		SSLRedirect:        cfg.Production,
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:      !cfg.Production,
	})
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	// RealIP trusts X-Forwarded-For and X-Real-IP from any peer
	if cfg.BehindProxy {
		router.Use(middleware.RealIP)
	}
	router.Use(middleware.Recoverer, secureMiddleware.Handler)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.Group(func(r chi.Router) {
		// requests per minute per client IP; 0 disables
		if cfg.RateLimit > 0 {
			r.Use(httprate.Limit(cfg.RateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		roleguard.NewHandler(engine, log).MountRoutes(r)
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("roleguard listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
