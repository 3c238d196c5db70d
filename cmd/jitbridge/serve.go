package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jitbridge/jitbridge/pkg/api"
	"github.com/jitbridge/jitbridge/pkg/config"
	"github.com/jitbridge/jitbridge/pkg/events"
	"github.com/jitbridge/jitbridge/pkg/log"
	"github.com/jitbridge/jitbridge/pkg/metrics"
	"github.com/jitbridge/jitbridge/pkg/muxer"
	"github.com/jitbridge/jitbridge/pkg/orchestrator"
	"github.com/jitbridge/jitbridge/pkg/registry"
	"github.com/jitbridge/jitbridge/pkg/runner"
	"github.com/jitbridge/jitbridge/pkg/session"
	"github.com/jitbridge/jitbridge/pkg/storage"
	"github.com/jitbridge/jitbridge/pkg/tunneld"
	"github.com/jitbridge/jitbridge/pkg/types"
	"github.com/jitbridge/jitbridge/pkg/wireguard"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the activation daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			cfg.Listen = listen
		}
		if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
			cfg.DataDir = dataDir
		}
		if fake, _ := cmd.Flags().GetBool("fake-wireguard"); fake {
			cfg.WireGuard.Fake = true
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})
		metrics.SetVersion(Version)

		return serve(cfg)
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config file")
	serveCmd.Flags().String("listen", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	serveCmd.Flags().Bool("fake-wireguard", false, "Use an in-memory control plane (development)")
}

func serve(cfg *config.Config) error {
	logger := log.WithComponent("serve")

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := registry.NewRegistry(store)
	reg.SetPolicy(cfg.RegistrationPolicy())

	var applier wireguard.Applier
	if cfg.WireGuard.Fake {
		logger.Warn().Msg("using fake WireGuard control plane")
		applier = wireguard.NewFakeApplier()
	} else {
		applier, err = wireguard.NewWGCtrlApplier(cfg.WireGuard.Interface)
		if err != nil {
			return err
		}
	}
	defer applier.Close()

	prov, err := wireguard.NewProvisioner(reg, applier, wireguard.Config{
		PoolCIDR:   cfg.WireGuard.PoolCIDR,
		Endpoint:   cfg.WireGuard.Endpoint,
		AllowedIPs: cfg.WireGuard.AllowedIPs,
		DNS:        cfg.WireGuard.DNS,
		Keepalive:  cfg.WireGuard.Keepalive,
		MaxDevices: cfg.WireGuard.MaxDevices,
	})
	if err != nil {
		return err
	}

	sessions := session.NewManager(session.Config{
		Cooldown:  cfg.Session.Cooldown,
		Retention: cfg.Session.Retention,
	})
	sessions.Start()
	defer sessions.Stop()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	go logEvents(broker)

	mux := muxer.NewClient(cfg.Muxer.Socket)
	tun := tunneld.NewClient(cfg.Tunneld.URL)

	// Workers need the device visible to tunneld before the activation
	// exchange can start. Development mode runs without the daemons.
	var preflight func(ctx context.Context, job *types.Job) error
	if !cfg.WireGuard.Fake {
		preflight = func(ctx context.Context, job *types.Job) error {
			waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			return tun.WaitForDevice(waitCtx, job.UDID, 0)
		}
	}

	pool := runner.NewPool(runner.Config{
		Capacity:  cfg.Pool.Capacity,
		Timeout:   cfg.Pool.JobTimeout,
		Command:   cfg.Pool.Command,
		Args:      cfg.Pool.Args,
		KillGrace: cfg.Pool.KillGrace,
		Preflight: preflight,
		OnSaturated: func(job *types.Job) {
			broker.Publish(&events.Event{
				ID:   uuid.New().String(),
				Type: events.EventPoolSaturated,
				Metadata: map[string]string{
					"job_id": job.ID,
					"udid":   job.UDID,
				},
			})
		},
	})
	pool.Start()

	orch := orchestrator.New(reg, prov, sessions, pool, broker, mux, orchestrator.Config{
		JobTimeout: cfg.Pool.JobTimeout,
		PairingDir: cfg.PairingDir,
	})

	stopHealth := make(chan struct{})
	go watchCollaborators(applier, mux, tun, stopHealth)
	defer close(stopHealth)

	server := api.NewServer(orch, reg, Version)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Listen); err != nil {
			errCh <- err
		}
	}()

	logger.Info().
		Str("listen", cfg.Listen).
		Int("pool_capacity", cfg.Pool.Capacity).
		Str("registration", cfg.Registration.Mode).
		Msg("jitbridge running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("API server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("API shutdown incomplete")
	}
	pool.Shutdown()

	return nil
}

// logEvents mirrors the event stream into the debug log
func logEvents(broker *events.Broker) {
	logger := log.WithComponent("events")
	sub := broker.Subscribe()
	for event := range sub {
		logger.Debug().
			Str("type", string(event.Type)).
			Fields(map[string]interface{}{"metadata": event.Metadata}).
			Msg("event")
	}
}

// watchCollaborators keeps /healthz current for the external systems the
// activation path depends on
func watchCollaborators(applier wireguard.Applier, mux *muxer.Client, tun *tunneld.Client, stopCh chan struct{}) {
	check := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := applier.ServerPublicKey(); err != nil {
			metrics.UpdateComponent("wireguard", false, err.Error())
		} else {
			metrics.UpdateComponent("wireguard", true, "")
		}

		if mux.Reachable(ctx) {
			metrics.UpdateComponent("muxer", true, "")
		} else {
			metrics.UpdateComponent("muxer", false, "socket unreachable")
		}

		if tun.Reachable(ctx) {
			metrics.UpdateComponent("tunneld", true, "")
		} else {
			metrics.UpdateComponent("tunneld", false, "no response")
		}
	}

	check()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			check()
		case <-stopCh:
			return
		}
	}
}
