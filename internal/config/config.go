// Package config resolves Bastion's runtime configuration from flags,
// environment variables, and platform defaults, following the same
// precedence order for every setting: explicit flag, then BASTION_* env var,
// then a computed default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// Config is the fully resolved configuration for a Hub or Agent process.
type Config struct {
	DataDir    string
	ListenAddr string
	LogLevel   string
	LogJSON    bool
	Lang       string

	// Agent-only.
	HubURL     string
	EnrollAddr string

	// InsecureHTTP allows serving the API over plain HTTP on any address.
	// While it is false the server refuses to bind a non-loopback address
	// (spec §6).
	InsecureHTTP bool

	// AdminPasswordHash is an argon2id hash of the dashboard admin
	// password, encoded as "<salt-b64>.<hash-b64>" by api.HashPassword with
	// the same Argon2id parameters internal/keyring's keypack KDF uses. Empty disables password login entirely, which is only
	// acceptable when the API is bound to loopback.
	AdminPasswordHash string
}

// Defaults returns a Config populated purely from environment and platform
// fallbacks, before any command-line flags are applied on top.
func Defaults(exeDir string) Config {
	return Config{
		DataDir:      resolveDataDir(exeDir),
		ListenAddr:   envOr("BASTION_LISTEN_ADDR", "127.0.0.1:8443"),
		LogLevel:     envOr("BASTION_LOG_LEVEL", "info"),
		LogJSON:      envBoolOr("BASTION_LOG_JSON", false),
		Lang:         resolveLang(),
		HubURL:       os.Getenv("BASTION_HUB_URL"),
		EnrollAddr:   os.Getenv("BASTION_ENROLL_ADDR"),
		InsecureHTTP:      envBoolOr("BASTION_INSECURE_HTTP", false),
		AdminPasswordHash: os.Getenv("BASTION_ADMIN_PASSWORD_HASH"),
	}
}

// resolveDataDir implements the precedence: BASTION_DATA_DIR env var, then
// "<executable dir>/data" when that directory is writable, then an
// OS-appropriate per-user application-data directory.
func resolveDataDir(exeDir string) string {
	if v := os.Getenv("BASTION_DATA_DIR"); v != "" {
		return v
	}
	candidate := filepath.Join(exeDir, "data")
	if writable(exeDir) {
		return candidate
	}
	return osFallbackDataDir()
}

func writable(dir string) bool {
	probe := filepath.Join(dir, ".bastion-write-test")
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}

func osFallbackDataDir() string {
	switch runtime.GOOS {
	case "windows":
		if v := os.Getenv("APPDATA"); v != "" {
			return filepath.Join(v, "bastion")
		}
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "Library", "Application Support", "bastion")
		}
	default:
		if v := os.Getenv("XDG_DATA_HOME"); v != "" {
			return filepath.Join(v, "bastion")
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".local", "share", "bastion")
		}
	}
	return filepath.Join(os.TempDir(), "bastion")
}

// resolveLang implements BASTION_LANG, then LC_ALL/LC_MESSAGES/LANG,
// defaulting to en-US. Only zh-CN is currently recognized beyond the
// default; anything else falls back to en-US rather than erroring.
func resolveLang() string {
	for _, key := range []string{"BASTION_LANG", "LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(key); v != "" {
			if normalized := normalizeLang(v); normalized != "" {
				return normalized
			}
		}
	}
	return "en-US"
}

func normalizeLang(v string) string {
	switch {
	case len(v) >= 5 && (v[:5] == "zh_CN" || v[:5] == "zh-CN"):
		return "zh-CN"
	case len(v) >= 2 && v[:2] == "zh":
		return "zh-CN"
	case len(v) >= 2 && v[:2] == "en":
		return "en-US"
	}
	return ""
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBoolOr(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// EnsureDataDir creates the data directory (and parents) if missing.
func EnsureDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return nil
}
