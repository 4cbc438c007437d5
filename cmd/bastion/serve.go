package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/bastion/internal/agentmgr"
	"github.com/cuemby/bastion/internal/api"
	"github.com/cuemby/bastion/internal/config"
	"github.com/cuemby/bastion/internal/events"
	"github.com/cuemby/bastion/internal/hub"
	"github.com/cuemby/bastion/internal/keyring"
	"github.com/cuemby/bastion/internal/model"
	"github.com/cuemby/bastion/internal/notify"
	"github.com/cuemby/bastion/internal/protocol"
	"github.com/cuemby/bastion/internal/scheduler"
	"github.com/cuemby/bastion/internal/snapshot"
	"github.com/cuemby/bastion/internal/store"
	"github.com/cuemby/bastion/internal/supervise"
	"github.com/cuemby/bastion/internal/target"
	"github.com/cuemby/bastion/pkg/log"
	"github.com/cuemby/bastion/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Bastion Hub: API, scheduler, and background workers",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen-addr", "", "Address to bind the HTTP API (default: BASTION_LISTEN_ADDR or 127.0.0.1:8443)")
	serveCmd.Flags().Bool("insecure-http", false, "Allow binding a non-loopback address without TLS")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	if v, _ := cmd.Flags().GetString("listen-addr"); v != "" {
		cfg.ListenAddr = v
	}
	if v, _ := cmd.Flags().GetBool("insecure-http"); v {
		cfg.InsecureHTTP = true
	}
	if err := config.EnsureDataDir(cfg.DataDir); err != nil {
		return err
	}
	logger := log.WithComponent("hub")

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	keys, err := keyring.Load(cfg.DataDir)
	if err != nil {
		return err
	}

	bus := events.NewBus(db, store.NextRunEventSeq)
	notifier := notify.New(db, notify.LogTransport{Logger: log.WithComponent("notify")}, log.WithComponent("notify"))

	agents := agentmgr.New(db, log.WithComponent("agentmgr"), agentmgr.Hooks{
		OnRunEvent: func(ctx context.Context, agentID string, msg protocol.RunEventMsg) {
			runID, err := uuid.Parse(msg.RunID)
			if err != nil {
				logger.Warn().Err(err).Str("agent_id", agentID).Msg("agent reported event for invalid run id")
				return
			}
			if msg.Type == "run_started" {
				_ = db.TransitionRun(ctx, runID, model.RunQueued, model.RunRunning, func(r *model.Run) {
					now := time.Now().UTC()
					r.StartedAt = &now
				})
			}
			if err := bus.Publish(ctx, runID, msg.Type, msg.Data); err != nil {
				logger.Warn().Err(err).Str("run_id", msg.RunID).Msg("failed to ingest agent run event")
			}
		},
		OnTaskResult: func(ctx context.Context, agentID string, msg protocol.TaskResultMsg) {
			handleAgentTaskResult(ctx, db, bus, notifier, agentID, msg, logger)
		},
		OnFsListResult: func(ctx context.Context, agentID, requestID string, msg protocol.FsListResult) {
			logger.Debug().Str("agent_id", agentID).Str("request_id", requestID).Msg("fs list result received")
		},
	})

	executor := hub.NewExecutor(db, agents, bus, notifier, keys, cfg.DataDir, log.WithComponent("hub-executor"))

	sched, err := scheduler.New(db, executor, bus, log.WithComponent("scheduler"))
	if err != nil {
		return err
	}

	deleteWorker := snapshot.NewDeleteWorker(db, func(snap *model.Snapshot) (target.Backend, error) {
		return hub.BackendFromTarget(snap.TargetType, snap.TargetSnapshotJSON)
	}, log.WithComponent("snapshot-delete"))

	retention := snapshot.NewRetentionLoop(db, log.WithComponent("retention"))

	collector := metrics.NewCollector(db, agents)

	group := supervise.New(cmd.Context(), logger)
	if err := sched.Start(group.Context()); err != nil {
		return err
	}
	group.Spawn("notify-queue", notifier.Run)
	group.Spawn("snapshot-delete", deleteWorker.Run)
	group.Spawn("retention-loop", retention.Run)
	collector.Start()

	srv := &api.Server{
		Store: db, Scheduler: sched, Agents: agents, Bus: bus, Retention: retention, Cfg: cfg, Logger: logger,
	}
	if err := srv.CheckBindAddr(cfg.ListenAddr); err != nil {
		return err
	}
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: srv.NewRouter()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("hub listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error().Err(err).Msg("api server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	collector.Stop()
	sched.Stop()
	group.Shutdown()
	return nil
}
