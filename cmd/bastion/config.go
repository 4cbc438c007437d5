package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	RunE:  runConfig,
}

func init() {
	configCmd.Flags().Bool("json", false, "Print as JSON instead of key=value lines")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	asJSON, _ := cmd.Flags().GetBool("json")

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "data_dir=%s\n", cfg.DataDir)
	fmt.Fprintf(cmd.OutOrStdout(), "listen_addr=%s\n", cfg.ListenAddr)
	fmt.Fprintf(cmd.OutOrStdout(), "log_level=%s\n", cfg.LogLevel)
	fmt.Fprintf(cmd.OutOrStdout(), "log_json=%t\n", cfg.LogJSON)
	fmt.Fprintf(cmd.OutOrStdout(), "lang=%s\n", cfg.Lang)
	fmt.Fprintf(cmd.OutOrStdout(), "hub_url=%s\n", cfg.HubURL)
	fmt.Fprintf(cmd.OutOrStdout(), "insecure_http=%t\n", cfg.InsecureHTTP)
	fmt.Fprintf(cmd.OutOrStdout(), "admin_password_hash_set=%t\n", cfg.AdminPasswordHash != "")
	return nil
}
