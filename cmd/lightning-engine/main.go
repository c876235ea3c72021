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
	"github.com/stormstack/lightning/pkg/config"
	"github.com/stormstack/lightning/pkg/engine"
	"github.com/stormstack/lightning/pkg/log"
	"github.com/stormstack/lightning/pkg/metrics"
	"github.com/stormstack/lightning/pkg/storage"
	"github.com/stormstack/lightning/pkg/stream"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Process exit codes.
const (
	exitOK         = 0
	exitUserError  = 1
	exitNoControl  = 3
	exitUnexpected = 64
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitUserError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lightning-engine",
	Short: "Lightning engine node - real-time game simulation host",
	Long: `The Lightning engine node hosts simulation containers: each owns an
entity-component store, a module runtime, a command queue, and a tick
loop serving many matches. Nodes register with the control plane and
heartbeat their saturation so the match router can place new matches.`,
	Version: Version,
	RunE:    runEngine,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Lightning engine %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().String("config", "", "Path to YAML config file")
	rootCmd.Flags().String("listen", "", "Listen address (default :8080)")
	rootCmd.Flags().String("advertise-addr", "", "Address the control plane and clients reach this node at")
	rootCmd.Flags().String("control-plane", "", "Control plane address (empty = standalone)")
	rootCmd.Flags().String("api-key", "", "Cluster api key")
	rootCmd.Flags().String("token-secret", "", "HMAC secret for match tokens, shared with the control plane")
	rootCmd.Flags().String("data-dir", "", "Snapshot persistence directory (empty = in-memory only)")
	rootCmd.Flags().Int("max-matches", 0, "Maximum concurrent matches")
	rootCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("log-format", "", "Log format (console, json)")
}

func runEngine(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadEngine(configPath)
	if err != nil {
		return err
	}
	applyEngineFlags(cmd, &cfg)

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogFormat == "json",
	})
	logger := log.WithComponent("main")
	metrics.SetVersion(Version)
	metrics.SetCriticalComponents("engine", "api")

	hub := stream.NewHub()

	var control *client.ControlClient
	if cfg.ControlPlane != "" {
		control = client.NewControlClient(cfg.ControlPlane, cfg.APIKey)
	}

	var snapStore engine.SnapshotStore
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()
		snapStore = store
	}

	eng := engine.NewEngine(engine.Config{
		AdvertiseAddress: cfg.AdvertiseAddress,
		MaxMatches:       cfg.MaxMatches,
		Modules:          cfg.Modules,
		TickInterval:     time.Duration(cfg.TickIntervalMs) * time.Millisecond,
		MemoryMax:        cfg.MemoryMaxBytes,
		Publisher:        hub,
		Control:          controlPlaneOrNil(control),
		Store:            snapStore,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		logger.Error().Err(err).Str("control_plane", cfg.ControlPlane).Msg("cannot reach control plane")
		os.Exit(exitNoControl)
	}
	metrics.RegisterComponent("engine", true, "")

	var secret []byte
	if cfg.TokenSecret != "" {
		secret = []byte(cfg.TokenSecret)
	}
	gate, err := auth.NewGate(secret, nil)
	if err != nil {
		return err
	}
	if control != nil {
		gate.SetIntrospector(control)
	}

	server := api.NewEngineServer(eng, hub, api.NewAuthenticator(gate, cfg.APIKey))
	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming endpoints manage their own deadlines
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", cfg.Listen).Str("advertise", cfg.AdvertiseAddress).Msg("engine node listening")
		metrics.RegisterComponent("api", true, "")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("api server failed")
		eng.Stop()
		os.Exit(exitUnexpected)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	eng.Stop()
	logger.Info().Msg("engine node stopped")
	return nil
}

func applyEngineFlags(cmd *cobra.Command, cfg *config.EngineConfig) {
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.Listen = v
	}
	if v, _ := cmd.Flags().GetString("advertise-addr"); v != "" {
		cfg.AdvertiseAddress = v
	}
	if v, _ := cmd.Flags().GetString("control-plane"); v != "" {
		cfg.ControlPlane = v
	}
	if v, _ := cmd.Flags().GetString("api-key"); v != "" {
		cfg.APIKey = v
	}
	if v, _ := cmd.Flags().GetString("token-secret"); v != "" {
		cfg.TokenSecret = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetInt("max-matches"); v > 0 {
		cfg.MaxMatches = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
}

// controlPlaneOrNil avoids a typed-nil interface when no control plane
// is configured.
func controlPlaneOrNil(c *client.ControlClient) engine.ControlPlane {
	if c == nil {
		return nil
	}
	return c
}
