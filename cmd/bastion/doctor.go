package main

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/cuemby/bastion/internal/config"
	"github.com/cuemby/bastion/internal/keyring"
	"github.com/cuemby/bastion/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the Hub's data directory, database, and keyring are healthy",
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().Bool("json", false, "Print results as JSON instead of pass/fail lines")
}

type doctorCheck struct {
	Name string `json:"name"`
	OK   bool   `json:"ok"`
	Err  string `json:"error,omitempty"`
}

// runDoctor runs each check independently so one failure (say, a malformed
// listen address) doesn't hide whether the database and keyring
// are otherwise healthy.
func runDoctor(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	asJSON, _ := cmd.Flags().GetBool("json")
	var checks []doctorCheck

	checks = append(checks, check("data_dir writable", func() error {
		return config.EnsureDataDir(cfg.DataDir)
	}))

	checks = append(checks, check("database opens", func() error {
		db, err := store.Open(cfg.DataDir)
		if err != nil {
			return err
		}
		return db.Close()
	}))

	checks = append(checks, check("keyring loads", func() error {
		_, err := keyring.Load(cfg.DataDir)
		return err
	}))

	checks = append(checks, check("listen_addr resolvable", func() error {
		_, _, err := net.SplitHostPort(cfg.ListenAddr)
		return err
	}))

	failed := false
	for _, c := range checks {
		if !c.OK {
			failed = true
		}
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(checks); err != nil {
			return err
		}
	} else {
		for _, c := range checks {
			status := "ok"
			if !c.OK {
				status = "FAIL: " + c.Err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-28s %s\n", c.Name, status)
		}
	}

	if failed {
		return fmt.Errorf("one or more checks failed")
	}
	return nil
}

func check(name string, fn func() error) doctorCheck {
	if err := fn(); err != nil {
		return doctorCheck{Name: name, OK: false, Err: err.Error()}
	}
	return doctorCheck{Name: name, OK: true}
}
