package main

import (
	"encoding/base64"
	"os"
	"os/signal"
	goruntime "runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/bastion/internal/agentrt"
	"github.com/cuemby/bastion/internal/config"
	"github.com/cuemby/bastion/internal/hub"
	"github.com/cuemby/bastion/internal/model"
	"github.com/cuemby/bastion/internal/target"
	"github.com/cuemby/bastion/pkg/log"
)

const (
	goOS   = goruntime.GOOS
	goArch = goruntime.GOARCH
)

// resolveAgentBackend reconstructs the job's target.Backend straight from
// the dispatch payload's target_type/target_ref, the same pair
// internal/hub.BackendFromTarget consumes Hub-side — an agent never talks
// to the Hub's store, so the Hub embeds everything the agent needs to
// reach the target directly in the task payload.
func resolveAgentBackend(payload agentrt.BackupTaskPayload) (target.Backend, error) {
	return hub.BackendFromTarget(model.TargetType(payload.TargetType), string(payload.TargetRef))
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run a Bastion Agent: executes tasks dispatched by the Hub",
	RunE:  runAgent,
}

func init() {
	agentCmd.Flags().String("hub-url", "", "Hub WebSocket URL, e.g. wss://hub.example.com/agent/connect")
	agentCmd.Flags().String("agent-id", "", "This agent's id, blank on first-ever enrollment")
	agentCmd.Flags().String("enroll-token", "", "One-time enrollment token, required only on first connect")
	agentCmd.Flags().String("hostname", "", "Override the reported hostname (default: os.Hostname)")
}

// runAgent wires internal/agentrt's reconnecting WebSocket client to the
// real task executor. The agent's local node key — shared once out of
// band at enrollment, since nothing in this dispatch yet automates that
// exchange (see DESIGN.md) — lives in BASTION_NODE_KEY, base64-encoded.
func runAgent(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	if v, _ := cmd.Flags().GetString("hub-url"); v != "" {
		cfg.HubURL = v
	}
	if err := config.EnsureDataDir(cfg.DataDir); err != nil {
		return err
	}
	logger := log.WithComponent("agent")

	hostname, _ := cmd.Flags().GetString("hostname")
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	agentID, _ := cmd.Flags().GetString("agent-id")
	enrollToken, _ := cmd.Flags().GetString("enroll-token")

	nodeKey, err := loadNodeKey()
	if err != nil {
		return err
	}
	snapshots, err := agentrt.NewDiskSnapshotStore(cfg.DataDir, nodeKey)
	if err != nil {
		return err
	}

	executor := &agentrt.TaskExecutor{
		StagingDir:     cfg.DataDir,
		ResolveBackend: resolveAgentBackend,
	}

	runtime := agentrt.New(agentrt.Config{
		HubURL:       cfg.HubURL,
		AgentID:      agentID,
		EnrollToken:  enrollToken,
		Hostname:     hostname,
		OS:           goOS,
		Arch:         goArch,
		AgentVersion: Version,
	}, executor, snapshots, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger.Info().Str("hub_url", cfg.HubURL).Msg("agent starting")
	runtime.Run(ctx)
	return nil
}

// loadNodeKey decodes BASTION_NODE_KEY, a random key every agent is
// provisioned with out of band. When the variable is unset the agent still
// starts and still persists snapshots, encrypted under an all-zero 32-byte
// key.
func loadNodeKey() ([]byte, error) {
	v := os.Getenv("BASTION_NODE_KEY")
	if v == "" {
		return make([]byte, 32), nil
	}
	return base64.StdEncoding.DecodeString(v)
}
