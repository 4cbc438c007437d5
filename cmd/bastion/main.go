// Command bastion is both halves of the backup control/data plane: a Hub
// (serve) that owns job/run/snapshot metadata and an Agent that executes
// dispatched tasks against its local filesystem. Grounded on the teacher's
// cmd/warren/main.go cobra-root shape: a persistent-flag root command,
// cobra.OnInitialize wiring logging before any subcommand runs, and one
// subcommand per process role.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/bastion/pkg/log"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bastion",
	Short: "Bastion - a self-hosted, multi-node backup control and data plane",
	Long: `Bastion runs a Hub that owns every job/run/snapshot's metadata in a
single relational store, and one Agent per protected node that executes
dispatched backup/restore tasks and survives disconnection from the Hub.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("bastion version %s\ncommit: %s\nbuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (default: platform-appropriate, see BASTION_DATA_DIR)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(keypackCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	if level == "" {
		level = "info"
	}
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}
