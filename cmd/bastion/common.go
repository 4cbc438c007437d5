package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cuemby/bastion/internal/config"
)

// loadConfig resolves config.Defaults against the running executable's
// directory, then applies any persistent flags the user passed on top —
// the same flag-then-env-then-default precedence internal/config
// documents for every setting.
func loadConfig(cmd *cobra.Command) config.Config {
	exe, err := os.Executable()
	exeDir := "."
	if err == nil {
		exeDir = filepath.Dir(exe)
	}
	cfg := config.Defaults(exeDir)

	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetBool("log-json"); v {
		cfg.LogJSON = true
	}
	return cfg
}
