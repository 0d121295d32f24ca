// Command coreauthd runs the authorization server (AS) and the
// Zanzibar-style authorization engine (AZ) as one process, serving AS's
// OAuth2/OIDC endpoints at the root and AZ's check/expand/tuple RPC under
// /api/fga/, the two leaf-most subsystems in spec.md §2's dependency
// order. Configuration is entirely environment-driven per spec.md §6.3,
// following the original coreauth-core prototype rather than the
// teacher's config-file-plus-flags `cmd/dex`.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gosundheit "github.com/AppsFlyer/go-sundheit"
	"github.com/AppsFlyer/go-sundheit/checks"
	gosundheithttp "github.com/AppsFlyer/go-sundheit/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/coreauth/coreauth/internal/as"
	"github.com/coreauth/coreauth/internal/az"
	"github.com/coreauth/coreauth/internal/connector"
	connoidc "github.com/coreauth/coreauth/internal/connector/oidc"
	"github.com/coreauth/coreauth/internal/primitives"
	"github.com/coreauth/coreauth/internal/store"
	"github.com/coreauth/coreauth/internal/store/memory"
	"github.com/coreauth/coreauth/internal/store/rediscache"
	"github.com/coreauth/coreauth/internal/store/sql"
	"github.com/coreauth/coreauth/pkg/buildinfo"
)

// startupLogger is the CLI's own logrus logger for startup/fatal messages,
// mirroring the teacher's cmd/oidc-proxy/cmd.go and cmd/dex/logger.go;
// every internal package instead takes a constructor-injected *slog.Logger.
var startupLogger = &logrus.Logger{
	Out:       os.Stderr,
	Level:     logrus.InfoLevel,
	Formatter: &logrus.TextFormatter{DisableColors: true},
}

func main() {
	var (
		logLevel    string
		showVersion bool
	)

	cmd := &cobra.Command{
		Use:          "coreauthd",
		Short:        "Authorization server and authorization engine for CoreAuth.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Print(buildinfo.String("coreauthd"))
				return nil
			}
			if level, err := logrus.ParseLevel(logLevel); err == nil {
				startupLogger.Level = level
			}
			return run()
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Logging level for startup/fatal messages (error, warn, info, debug).")
	cmd.Flags().BoolVar(&showVersion, "version", false, "Print the version and exit.")

	if err := cmd.Execute(); err != nil {
		startupLogger.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfigFromEnv()
	if err != nil {
		return err
	}
	startupLogger.Infof("issuer: %s", cfg.issuerURL)

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	clock := primitives.SystemClock{}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	health := gosundheit.New()

	st, tuples, cache, closeStore, err := openBackends(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if sqlStore, ok := st.(*sql.Store); ok {
		health.RegisterCheck(&gosundheit.Config{
			Check: &checks.CustomCheck{
				CheckName: "database",
				CheckFunc: func(ctx context.Context) (details interface{}, err error) {
					return nil, sqlStore.DB().PingContext(ctx)
				},
			},
			ExecutionPeriod:  15 * time.Second,
			InitiallyPassing: true,
		})
	}

	connectors, err := buildConnectors(cfg)
	if err != nil {
		return err
	}

	asServer, err := as.NewServer(cfg.asConfig(), st, clock, logger, health, registry, connectors, cache)
	if err != nil {
		return err
	}

	keys := az.NewMemoryAPIKeyStore()
	if bootstrap := os.Getenv("AZ_BOOTSTRAP_API_KEY"); bootstrap != "" {
		if err := keys.Create(context.Background(), az.APIKey{
			Hash:      primitives.HashToken(bootstrap),
			StoreID:   cfg.azStoreName,
			Name:      "bootstrap",
			CreatedAt: clock.Now(),
		}); err != nil {
			return err
		}
		startupLogger.Infof("seeded bootstrap api key for store %q", cfg.azStoreName)
	}
	engine := az.New(tuples, cache, clock, logger)
	azServer := az.NewServer(engine, keys, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/fga/", azServer)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", gosundheithttp.HandleHealthJSON(health))
	mux.Handle("/", asServer)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go asServer.RunMaintenance(ctx, time.Hour, 10*time.Minute)

	srv := &http.Server{Addr: cfg.listenAddr(), Handler: mux}
	errc := make(chan error, 1)
	go func() {
		startupLogger.Infof("listening on %s", cfg.listenAddr())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		startupLogger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// openBackends builds the store/tuple-store/cache trio from DATABASE_URL
// and REDIS_URL, falling back to the in-memory reference implementations
// the teacher's own test suites use when neither is configured — a
// convenience for local development, not a production deployment mode.
func openBackends(cfg config, logger *slog.Logger) (store.Store, store.TupleStore, store.Cache, func(), error) {
	var (
		st     store.Store
		tuples store.TupleStore
		cache  store.Cache
		closer = func() {}
	)

	if cfg.databaseURL != "" {
		sqlStore, err := sql.Open(cfg.databaseURL, cfg.databaseMaxConns, logger)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		st = sqlStore
		tuples = sql.OpenTupleStore(sqlStore.DB())
		closer = func() { _ = sqlStore.Close() }
	} else {
		startupLogger.Warn("DATABASE_URL not set, using in-memory store (not for production)")
		st = memory.New(logger)
		tuples = memory.NewTupleStore()
	}

	if cfg.redisURL != "" {
		redisCache, err := rediscache.Open(cfg.redisURL)
		if err != nil {
			closer()
			return nil, nil, nil, nil, err
		}
		cache = redisCache
		prevCloser := closer
		closer = func() { prevCloser(); _ = redisCache.Close() }
	} else {
		startupLogger.Warn("REDIS_URL not set, using in-memory cache (not for production)")
		cache = memory.NewCache()
	}

	return st, tuples, cache, closer, nil
}

// buildConnectors wires the brokered-login OIDC connector when
// OIDC_CONNECTOR_ISSUER is configured; otherwise /oauth/login is the only
// login path, exactly as spec.md's core flow describes.
func buildConnectors(cfg config) (map[string]connector.Connector, error) {
	if cfg.oidcConnectorIssuer == "" {
		return nil, nil
	}
	conn, err := (&connoidc.Config{
		Issuer:       cfg.oidcConnectorIssuer,
		ClientID:     cfg.oidcClientID,
		ClientSecret: cfg.oidcClientSecret,
		RedirectURI:  cfg.oidcRedirectURI,
	}).Open(context.Background())
	if err != nil {
		return nil, err
	}
	return map[string]connector.Connector{"oidc": conn}, nil
}
