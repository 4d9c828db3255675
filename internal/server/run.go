package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/rpcmesh/internal/config"
	"github.com/morezero/rpcmesh/pkg/auth"
	"github.com/morezero/rpcmesh/pkg/balancer"
	"github.com/morezero/rpcmesh/pkg/bootstrap"
	"github.com/morezero/rpcmesh/pkg/client"
	"github.com/morezero/rpcmesh/pkg/commsutil"
	"github.com/morezero/rpcmesh/pkg/db"
	"github.com/morezero/rpcmesh/pkg/dispatcher"
	"github.com/morezero/rpcmesh/pkg/registry"
	"github.com/morezero/rpcmesh/pkg/telemetry"
)

const runLogPrefix = "server:run"

// RegisterFunc registers the classes of a service. caller reaches other
// nodes through the server's balancer.
type RegisterFunc func(reg *registry.Registry, caller *client.Caller) error

// SetupLogging installs the default slog handler for level
// (debug|info|warn|error, anything else is info).
func SetupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// Run starts a node from cfg, blocks until SIGINT/SIGTERM or ctx is done,
// then drains and cleans up.
func Run(ctx context.Context, cfg *config.Config, register RegisterFunc) error {
	SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - Starting rpcmesh node\n%s", runLogPrefix, cfg))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Step 1: Auth backend
	authenticator, pool, err := buildAuth(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	// Step 2: Static endpoints
	b := balancer.New()
	endpoints, err := bootstrap.LoadEndpointsFile(cfg.EndpointsFile)
	if err != nil {
		return fmt.Errorf("%s - failed to load endpoints file: %w", runLogPrefix, err)
	}
	endpoints.Apply(b)
	if endpoints.Len() > 0 {
		slog.Info(fmt.Sprintf("%s - Loaded %d static endpoints for %v", runLogPrefix, endpoints.Len(), endpoints.Names()))
	}

	// Step 3: Discovery connection
	var nc *comms.Conn
	if cfg.COMMSURL != "" {
		nc, err = commsutil.Connect(cfg.COMMSURL, cfg.ServiceName)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to COMMS: %w", runLogPrefix, err)
		}
		defer nc.Drain()
		slog.Info(fmt.Sprintf("%s - Connected to COMMS at %s", runLogPrefix, cfg.COMMSURL))
	}

	// Step 4: Tracing
	var interceptors []dispatcher.Interceptor
	if cfg.TracingEnabled {
		shutdown, err := telemetry.SetupTracing(os.Stderr, cfg.ServiceName, cfg.Version)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				slog.Warn(fmt.Sprintf("%s - tracer shutdown: %v", runLogPrefix, err))
			}
		}()
		interceptors = append(interceptors, telemetry.NewInterceptor(telemetry.Config{
			ServiceName: cfg.ServiceName,
			Version:     cfg.Version,
		}))
	}

	// Step 5: Registry
	reg := registry.NewRegistry()
	caller := client.NewCaller(b, client.Options{Timeout: cfg.ClientTimeout, FeedStatus: cfg.ClientFeedStatus})
	if register != nil {
		if err := register(reg, caller); err != nil {
			return fmt.Errorf("%s - registration failed: %w", runLogPrefix, err)
		}
	}
	slog.Info(fmt.Sprintf("%s - %d classes registered", runLogPrefix, len(reg.Classes())))

	s, err := New(cfg, Options{
		Registry:     reg,
		Auth:         authenticator,
		Interceptors: interceptors,
		Balancer:     b,
		Static:       endpoints.Tiers(),
		Conn:         nc,
	})
	if err != nil {
		return err
	}
	return s.ListenAndServe(ctx)
}

// buildAuth creates the authenticator for cfg.AuthMode. The pool is non-nil
// for the postgres mode and must be closed by the caller.
func buildAuth(ctx context.Context, cfg *config.Config) (dispatcher.Authenticator, *pgxpool.Pool, error) {
	switch cfg.AuthMode {
	case auth.ModeStatic:
		tokens, err := auth.ParseStaticTokens(cfg.AuthStaticTokens)
		if err != nil {
			return nil, nil, fmt.Errorf("%s - %w", runLogPrefix, err)
		}
		slog.Info(fmt.Sprintf("%s - Static auth with %d tokens", runLogPrefix, len(tokens)))
		return auth.NewStatic(tokens), nil, nil

	case auth.ModePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("%s - failed to connect to database: %w", runLogPrefix, err)
		}
		if cfg.RunMigrations {
			migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
			if err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("%s - failed to load migrations: %w", runLogPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, migrations); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("%s - failed to run migrations: %w", runLogPrefix, err)
			}
		}
		slog.Info(fmt.Sprintf("%s - Postgres auth (cache %s)", runLogPrefix, cfg.AuthCacheTTL))
		return auth.NewPostgres(db.NewTokenStore(pool), cfg.AuthCacheTTL), pool, nil
	}
	return auth.DenyAll{}, nil, nil
}
