package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hutchlabs/hutch/pkg/api"
	"github.com/hutchlabs/hutch/pkg/config"
	"github.com/hutchlabs/hutch/pkg/creds"
	"github.com/hutchlabs/hutch/pkg/events"
	"github.com/hutchlabs/hutch/pkg/files"
	"github.com/hutchlabs/hutch/pkg/log"
	"github.com/hutchlabs/hutch/pkg/metrics"
	"github.com/hutchlabs/hutch/pkg/orchestrator"
	"github.com/hutchlabs/hutch/pkg/provision"
	"github.com/hutchlabs/hutch/pkg/report"
	"github.com/hutchlabs/hutch/pkg/runtime"
	"github.com/hutchlabs/hutch/pkg/state"
	"github.com/hutchlabs/hutch/pkg/telemetry"
	"github.com/hutchlabs/hutch/pkg/volume"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the hutch daemon",
	Long: `Start the node daemon: connect to containerd, reconcile persisted
workload state against the runtime, and serve the control API and
telemetry channels until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return runDaemon(configPath)
	},
}

func init() {
	daemonCmd.Flags().String("config", "/etc/hutch/config.yaml", "Path to the config file")
}

func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %v", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	logger := log.WithComponent("daemon")
	logger.Info().Str("version", Version).Str("listen", cfg.Listen).Msg("starting hutch")

	metrics.Register()
	health := metrics.NewHealthTracker(Version)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %v", err)
	}

	store, err := state.Open(filepath.Join(cfg.DataDir, "state.json"))
	if err != nil {
		return fmt.Errorf("failed to open state store: %v", err)
	}

	volumes, err := volume.NewManager(cfg.VolumesDir)
	if err != nil {
		return fmt.Errorf("failed to create volume manager: %v", err)
	}

	gateway, err := runtime.NewContainerdGateway(cfg.ContainerdSocket, cfg.Namespace, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to connect to containerd: %v", err)
	}
	defer gateway.Close()
	health.SetComponent("containerd", true, "")

	credsRepo, err := creds.Open(filepath.Join(cfg.DataDir, "credentials.db"))
	if err != nil {
		return fmt.Errorf("failed to open credentials repository: %v", err)
	}
	defer credsRepo.Close()

	broker := events.NewBroker()
	pipeline := provision.NewPipeline(store, gateway, volumes, broker)
	orch := orchestrator.New(orchestrator.Config{
		Store:       store,
		Gateway:     gateway,
		Volumes:     volumes,
		Pipeline:    pipeline,
		Broker:      broker,
		Creds:       credsRepo,
		StopTimeout: cfg.StopTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bring the persisted table back in line with what actually survived the
	// restart before accepting any control traffic.
	orch.ReconcileBoot(ctx)

	mux := http.NewServeMux()

	apiServer := api.NewServer(api.Config{
		Orchestrator: orch,
		Files:        files.NewManager(volumes),
		Creds:        credsRepo,
		Health:       health,
		AuthToken:    cfg.AuthToken,
	})
	apiServer.Routes(mux)

	telemetryServer := telemetry.NewServer(telemetry.Config{
		Secret:        cfg.TelemetrySecret,
		Directory:     orch,
		Power:         orch,
		Gateway:       gateway,
		Volumes:       volumes,
		Broker:        broker,
		StatsInterval: cfg.StatsInterval,
		ForwardOutput: true,
	})
	telemetryServer.Register(mux)

	nodeID, _ := os.Hostname()
	reporter, err := report.NewReporter(report.Config{
		URL:      cfg.Dashboard.URL,
		Token:    cfg.Dashboard.Token,
		Interval: cfg.Dashboard.Interval,
		NodeID:   nodeID,
		Store:    store,
		Gateway:  gateway,
		Health:   health,
	})
	if err != nil {
		return fmt.Errorf("failed to create reporter: %v", err)
	}
	if err := reporter.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reporter: %v", err)
	}

	logger.Info().Msg("daemon ready")
	err = api.Serve(ctx, cfg.Listen, mux)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("http server failed")
	}

	logger.Info().Msg("shutting down")
	if err := reporter.Stop(); err != nil {
		logger.Warn().Err(err).Msg("failed to stop reporter")
	}
	// Let in-flight provisioning runs record a terminal state before exit.
	orch.Drain()
	broker.Close()

	logger.Info().Msg("daemon stopped")
	return nil
}
