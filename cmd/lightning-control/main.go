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

	"github.com/spf13/cobra"

	"github.com/stormstack/lightning/pkg/api"
	"github.com/stormstack/lightning/pkg/auth"
	"github.com/stormstack/lightning/pkg/client"
	"github.com/stormstack/lightning/pkg/cluster"
	"github.com/stormstack/lightning/pkg/config"
	"github.com/stormstack/lightning/pkg/log"
	"github.com/stormstack/lightning/pkg/metrics"
	"github.com/stormstack/lightning/pkg/router"
	"github.com/stormstack/lightning/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	exitOK         = 0
	exitUserError  = 1
	exitUnexpected = 64
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitUserError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lightning-control",
	Short: "Lightning control plane - node registry, match router, token gate",
	Long: `The Lightning control plane tracks engine nodes, routes new matches
onto the least saturated node supporting the requested modules, admits
players, and mints match-scoped tokens. Match records persist in an
embedded BoltDB database so the registry survives restarts.`,
	Version: Version,
	RunE:    runControl,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Lightning control plane %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().String("config", "", "Path to YAML config file")
	rootCmd.Flags().String("listen", "", "Listen address (default :8081)")
	rootCmd.Flags().String("data-dir", "", "State directory")
	rootCmd.Flags().String("api-key", "", "Cluster api key")
	rootCmd.Flags().String("token-secret", "", "HMAC secret for match tokens")
	rootCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("log-format", "", "Log format (console, json)")
}

func runControl(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadControl(configPath)
	if err != nil {
		return err
	}
	applyControlFlags(cmd, &cfg)

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogFormat == "json",
	})
	logger := log.WithComponent("main")
	metrics.SetVersion(Version)
	metrics.SetCriticalComponents("storage", "registry")

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()
	metrics.RegisterComponent("storage", true, "")

	registry, err := cluster.NewRegistry(cluster.Config{
		HeartbeatInterval: time.Duration(cfg.HeartbeatIntervalMs) * time.Millisecond,
		ReattachWindow:    time.Duration(cfg.ReattachWindowMs) * time.Millisecond,
		Persistence:       store,
	})
	if err != nil {
		return err
	}
	metrics.RegisterComponent("registry", true, "")

	monitor := cluster.NewMonitor(registry)
	monitor.Start()
	defer monitor.Stop()

	collector := metrics.NewCollector(registry)
	collector.Start()
	defer collector.Stop()

	var secret []byte
	if cfg.TokenSecret != "" {
		secret = []byte(cfg.TokenSecret)
	}
	gate, err := auth.NewGate(secret, store)
	if err != nil {
		return err
	}

	rt := router.NewRouter(registry, gate, client.NewNodeControl(cfg.APIKey))
	server := api.NewControlServer(registry, rt, gate, api.NewAuthenticator(gate, cfg.APIKey))

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", cfg.Listen).Str("data_dir", cfg.DataDir).Msg("control plane listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Expired token sweep, hourly.
	sweepStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := gate.Sweep(); n > 0 {
					logger.Debug().Int("expired", n).Msg("swept expired tokens")
				}
			case <-sweepStop:
				return
			}
		}
	}()
	defer close(sweepStop)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("api server failed")
		os.Exit(exitUnexpected)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	logger.Info().Msg("control plane stopped")
	return nil
}

func applyControlFlags(cmd *cobra.Command, cfg *config.ControlConfig) {
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.Listen = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("api-key"); v != "" {
		cfg.APIKey = v
	}
	if v, _ := cmd.Flags().GetString("token-secret"); v != "" {
		cfg.TokenSecret = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
}
