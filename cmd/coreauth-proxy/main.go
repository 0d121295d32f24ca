// Command coreauth-proxy runs the identity-aware reverse proxy (PS): route
// matching, session/bearer authentication, FGA-gated authorization, and
// transparent forwarding to the protected upstream. Configuration is a
// YAML file per spec.md §6.3 ("Proxy configuration is a YAML file..."),
// following the original coreauth-proxy prototype's config.rs shape and
// the teacher's flat single-command `cmd/oidc-proxy/cmd.go` CLI idiom
// rather than `cmd/dex`'s multi-subcommand layout.
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

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/coreauth/coreauth/internal/az"
	"github.com/coreauth/coreauth/internal/primitives"
	"github.com/coreauth/coreauth/internal/proxy"
	"github.com/coreauth/coreauth/internal/store"
	"github.com/coreauth/coreauth/internal/store/memory"
	"github.com/coreauth/coreauth/internal/store/rediscache"
	"github.com/coreauth/coreauth/pkg/buildinfo"
)

var startupLogger = &logrus.Logger{
	Out:       os.Stderr,
	Level:     logrus.InfoLevel,
	Formatter: &logrus.TextFormatter{DisableColors: true},
}

func main() {
	var (
		configPath  string
		logLevel    string
		showVersion bool
	)

	cmd := &cobra.Command{
		Use:          "coreauth-proxy [flags] config.yaml",
		Short:        "Identity-aware reverse proxy for CoreAuth.",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Print(buildinfo.String("coreauth-proxy"))
				return nil
			}
			if len(args) == 1 {
				configPath = args[0]
			}
			if configPath == "" {
				return fmt.Errorf("config file path is required")
			}
			if level, err := logrus.ParseLevel(logLevel); err == nil {
				startupLogger.Level = level
			}
			return run(configPath)
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Logging level for startup/fatal messages (error, warn, info, debug).")
	cmd.Flags().BoolVar(&showVersion, "version", false, "Print the version and exit.")

	if err := cmd.Execute(); err != nil {
		startupLogger.Fatal(err)
	}
}

func run(configPath string) error {
	cfg, err := proxy.LoadConfig(configPath)
	if err != nil {
		return err
	}
	startupLogger.Infof("coreauth: %s, upstream: %s", cfg.CoreAuth.URL, cfg.Server.Upstream)

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	var cache store.Cache
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisCache, err := rediscache.Open(redisURL)
		if err != nil {
			return err
		}
		defer redisCache.Close()
		cache = redisCache
	} else {
		startupLogger.Warn("REDIS_URL not set, rate limiting disabled")
	}

	fgaChecker, err := buildFGAChecker(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv, err := proxy.NewServer(ctx, cfg, proxy.Dependencies{
		FGA:    fgaChecker,
		Cache:  cache,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	go srv.RunSweeper(ctx)

	httpSrv := &http.Server{Addr: cfg.Server.Listen, Handler: srv}
	errc := make(chan error, 1)
	go func() {
		startupLogger.Infof("listening on %s", cfg.Server.Listen)
		errc <- httpSrv.ListenAndServe()
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
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// buildFGAChecker returns nil when fga.store_name is empty; otherwise it
// chooses between an HTTP FGAClient against a separate AZ deployment
// (cfg.FGA.URL set, the normal cross-process topology per spec.md §2's
// "PS consumes AZ via check RPC") and, when fga.url is empty, an
// in-process EngineChecker over an empty in-memory tuple store.
func buildFGAChecker(cfg proxy.Config, logger *slog.Logger) (proxy.FGAChecker, error) {
	if cfg.FGA.StoreName == "" {
		return nil, nil
	}
	if cfg.FGA.URL != "" {
		return proxy.NewFGAClient(&http.Client{Timeout: 10 * time.Second}, cfg.FGA.URL, cfg.FGA.StoreName, cfg.FGA.APIKey), nil
	}
	startupLogger.Warn("fga.url not set, running AZ in-process (single-binary deployment only)")
	engine := az.New(memory.NewTupleStore(), memory.NewCache(), primitives.SystemClock{}, logger)
	return proxy.NewEngineChecker(engine, cfg.FGA.StoreName), nil
}
