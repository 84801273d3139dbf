package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the NFCRELAY_ prefix. Boolean values
// accept "1", "true", "yes" (case-insensitive).

// EnvPrefix is prepended to every variable LoadFromEnv reads.
const EnvPrefix = "NFCRELAY_"

// LoadFromEnv overlays environment variables onto cfg. Only non-empty
// env vars override the existing value. Call it on the defaults and
// before CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := env("HOST"); v != "" {
		cfg.Host = v
	}
	if v := envInt("PEER_PORT"); v > 0 {
		cfg.Port = v
	}
	if v := envInt("PORT"); v > 0 {
		cfg.LocalPort = v
	}
	if envBool("LISTEN") {
		cfg.Listen = true
	}
	if v := envInt("TIMEOUT"); v > 0 {
		cfg.Timeout = time.Duration(v) * time.Second
	}

	// SSH tunnel
	if v := env("TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := env("SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := env("KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Role and hardware
	if v := env("ROLE"); v != "" {
		cfg.Role = Role(strings.ToLower(v))
	}
	if v := env("REPLAY"); v != "" {
		cfg.ReplayPath = v
	}
	if v := env("CHIPSET"); v != "" {
		cfg.Chipset = v
	}

	// Relay
	if envBool("CLONE") {
		cfg.CloneMode = true
	}
	if envBool("NO_WORKAROUND") {
		cfg.WorkaroundDisabled = true
	}
	if v := envDuration("WORKAROUND_INTERVAL"); v > 0 {
		cfg.WorkaroundInterval = v
	}
	if v := env("FILTERS"); v != "" {
		cfg.Filters = splitList(v)
	}

	// Recording
	if v := env("RECORD"); v != "" {
		cfg.RecordPath = v
	}
	if v := envInt("SINK_CAPACITY"); v > 0 {
		cfg.SinkCapacity = v
	}

	// Retry
	if v, ok := envIntSet("RECONNECT"); ok && v >= 0 {
		cfg.ReconnectAttempts = v
	}

	// Output
	if v := envInt("VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func env(key string) string { return os.Getenv(EnvPrefix + key) }

func envInt(key string) int {
	n, _ := envIntSet(key)
	return n
}

func envIntSet(key string) (int, bool) {
	v := env(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) bool {
	v := strings.ToLower(env(key))
	return v == "1" || v == "true" || v == "yes"
}

// envDuration accepts Go duration syntax ("75ms") or a bare number of
// milliseconds.
func envDuration(key string) time.Duration {
	v := env(key)
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	return 0
}

// splitList splits a semicolon-separated filter list.
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
