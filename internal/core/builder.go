package core

import (
	"fmt"

	"nfcrelay/config"
	rerr "nfcrelay/internal/errors"
	"nfcrelay/internal/filter"
	"nfcrelay/internal/metrics"
	"nfcrelay/internal/retry"
	"nfcrelay/internal/sink"
	"nfcrelay/internal/transport"
	"nfcrelay/tunnel"
	"nfcrelay/util"
)

// Build constructs the relay mode for cfg. cfg must already be
// validated; Build only fails on inputs it has to read, such as the
// replay trace or a filter spec.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	pipeline, err := filter.ParseAll(cfg.Filters)
	if err != nil {
		return nil, &rerr.ConfigError{Field: "filter", Message: err.Error()}
	}

	var trace []sink.Entry
	if cfg.ReplayPath != "" {
		trace, err = sink.LoadTraceFile(cfg.ReplayPath)
		if err != nil {
			return nil, &rerr.ConfigError{
				Field:   "replay",
				Value:   cfg.ReplayPath,
				Message: err.Error(),
				Hint:    "traces are the JSON-lines files written by --record",
			}
		}
		logger.Verbose("loaded %d trace entries from %s", len(trace), cfg.ReplayPath)
	}

	m := &RelayMode{
		Role:               cfg.Role,
		Timeout:            cfg.Timeout,
		Backoff:            buildBackoff(cfg),
		WriteTimeout:       config.DefaultWriteTimeout,
		Trace:              trace,
		ReplyTimeout:       config.DefaultReplyTimeout,
		Pipeline:           pipeline,
		Chipset:            cfg.Chipset,
		CloneMode:          cfg.CloneMode,
		WorkaroundDisabled: cfg.WorkaroundDisabled,
		WorkaroundInterval: cfg.WorkaroundInterval,
		RecordPath:         cfg.RecordPath,
		SinkCapacity:       cfg.SinkCapacity,
		Logger:             logger,
		Metrics:            metrics.New(),
	}
	if cfg.Listen {
		m.Listen = true
		m.ListenAddress = util.ListenAddr(cfg.LocalPort)
		if cfg.Host != "" {
			m.ListenAddress = util.FormatAddr(cfg.Host, cfg.LocalPort)
		}
	} else {
		m.Address = util.FormatAddr(cfg.Host, cfg.Port)
		m.Dialer = buildDialer(cfg, logger)
	}
	return m, nil
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer creates the right transport.Dialer for the given config.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.TunnelEnabled {
		return transport.NewSSHDialer(sshConfig(cfg), logger, func() {
			logger.Error("relay link to %s lost with the SSH tunnel", util.FormatAddr(cfg.Host, cfg.Port))
		})
	}
	return &transport.TCPDialer{
		Timeout:   cfg.Timeout,
		LocalPort: cfg.LocalPort,
	}
}

func sshConfig(cfg *config.Config) *tunnel.SSHConfig {
	return &tunnel.SSHConfig{
		User:          cfg.TunnelUser,
		Host:          cfg.TunnelHost,
		Port:          cfg.TunnelPort,
		KeyPath:       cfg.SSHKeyPath,
		PromptPass:    cfg.SSHPassword,
		UseAgent:      cfg.UseSSHAgent,
		StrictHostKey: cfg.StrictHostKey,
		KnownHosts:    cfg.KnownHostsPath,
		ConnTimeout:   cfg.Timeout,
	}
}

// buildBackoff turns the reconnect budget into a dial policy. The
// budget counts retries, so the first attempt is extra.
func buildBackoff(cfg *config.Config) *retry.Backoff {
	return &retry.Backoff{
		InitialDelay: config.DefaultInitialBackoff,
		MaxDelay:     config.DefaultMaxReconnectBackoff,
		Multiplier:   2.0,
		MaxAttempts:  cfg.ReconnectAttempts + 1,
		Jitter:       true,
	}
}

// Describe summarises a built mode for --dry-run output.
func Describe(mode Mode) string {
	m, ok := mode.(*RelayMode)
	if !ok {
		return fmt.Sprintf("%T", mode)
	}
	peer := "connect " + m.Address
	if m.Listen {
		peer = "listen " + m.ListenAddress
	}
	return fmt.Sprintf("role=%s peer=%q trace=%d stages=%d clone=%t workaround=%s record=%q",
		m.Role, peer, len(m.Trace), m.Pipeline.Len(), m.CloneMode, workaroundState(m), m.RecordPath)
}

func workaroundState(m *RelayMode) string {
	if m.WorkaroundDisabled {
		return "disabled"
	}
	return m.WorkaroundInterval.String()
}
