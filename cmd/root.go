// Package cmd wires up the CLI flags and dispatches to the relay core.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"nfcrelay/config"
	"nfcrelay/internal/core"
	"nfcrelay/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X nfcrelay/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// stdout receives --version and --dry-run output. Tests replace it.
var stdout io.Writer = os.Stdout //nolint:gochecknoglobals

// Execute parses args and runs one relay side.
func Execute(ctx context.Context, args []string) error {
	cfg := config.Default()
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("nfcrelay", flag.ContinueOnError)

	// ── peer ─────────────────────────────────────────────────────
	fs.BoolVarP(&cfg.Listen, "listen", "l", cfg.Listen, "Wait for the relay peer")
	fs.IntVarP(&cfg.LocalPort, "port", "p", cfg.LocalPort, "Local port number")

	timeoutSec := int(cfg.Timeout / time.Second)
	fs.IntVarP(&timeoutSec, "timeout", "w", timeoutSec, "Connect/accept timeout in seconds")
	fs.IntVar(&cfg.ReconnectAttempts, "reconnect", cfg.ReconnectAttempts, "Dial retries before giving up")

	// ── role and hardware ────────────────────────────────────────
	role := string(cfg.Role)
	fs.StringVar(&role, "role", role, "Relay side: card or emulator")
	fs.StringVar(&cfg.ReplayPath, "replay", cfg.ReplayPath, "Trace driving the replay card or reader script")
	fs.StringVar(&cfg.Chipset, "chipset", cfg.Chipset, "NFC chipset reported by the hardware")

	// ── relay ────────────────────────────────────────────────────
	fs.BoolVar(&cfg.CloneMode, "clone", cfg.CloneMode, "Clone mode: relay identity only")
	fs.BoolVar(&cfg.WorkaroundDisabled, "no-workaround", cfg.WorkaroundDisabled, "Disable the chipset workaround")
	fs.DurationVar(&cfg.WorkaroundInterval, "workaround-interval", cfg.WorkaroundInterval, "Workaround keep-alive period")
	fs.StringArrayVar(&cfg.Filters, "filter", cfg.Filters, "Filter stage shape:action[=arg] (repeatable)")

	// ── recording ────────────────────────────────────────────────
	fs.StringVar(&cfg.RecordPath, "record", cfg.RecordPath, "Append relayed messages to a JSON-lines trace")
	fs.IntVar(&cfg.SinkCapacity, "sink-capacity", cfg.SinkCapacity, "Recording queue capacity")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "SSH tunnel via [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")

	var showVersion, showHelp, dryRun bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.BoolVar(&dryRun, "dry-run", false, "Validate, print the plan and exit")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp || len(args) == 0 {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "nfcrelay %s\n", version)
		return nil
	}

	cfg.Role = config.Role(role)
	cfg.Timeout = time.Duration(timeoutSec) * time.Second

	// ── positional arguments ─────────────────────────────────────
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}

	if err := cfg.ApplyTunnelSpec(); err != nil {
		return err
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}

	// ── build ────────────────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)

	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	if dryRun {
		fmt.Fprintf(stdout, "nfcrelay: %s\n", core.Describe(mode))
		return nil
	}
	return mode.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

func parsePositional(cfg *config.Config, remaining []string) error {
	if cfg.Listen {
		switch len(remaining) {
		case 0: // nfcrelay -l -p PORT
		case 1: // nfcrelay -l -p PORT BIND-HOST
			cfg.Host = remaining[0]
		default:
			return fmt.Errorf("too many arguments for listen mode")
		}
		return nil
	}

	switch len(remaining) {
	case 0:
		if cfg.Host == "" {
			return fmt.Errorf("peer hostname required (use --help for usage)")
		}
		return nil
	case 1:
		cfg.Host = remaining[0]
		if cfg.Port == 0 {
			return fmt.Errorf("peer port required")
		}
		return nil
	case 2:
		cfg.Host = remaining[0]
		port, err := config.ParsePort(remaining[1])
		if err != nil {
			return fmt.Errorf("port: %w", err)
		}
		cfg.Port = port
		return nil
	default:
		return fmt.Errorf("too many arguments: expected <host> <port>")
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `nfcrelay - NFC relay between a card and an emulator v%s

Relays ISO 14443 traffic between a card-side and an emulator-side
instance over TCP, optionally through an SSH gateway.

Usage:
  nfcrelay [options] <host> <port>            Connect to relay peer
  nfcrelay -l -p <port> [options]             Wait for relay peer
  nfcrelay -T user@gateway <host> <port>      Reach peer through SSH

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  nfcrelay -l -p 7000 --replay card.jsonl --record session.jsonl
  nfcrelay --role emulator --replay card.jsonl relay.example 7000
  nfcrelay --role emulator --clone --replay card.jsonl relay.example 7000
  nfcrelay -T relay@bastion --filter anticol:redact-uid 10.0.0.5 7000

Environment:
  NFCRELAY_* variables (e.g. NFCRELAY_ROLE, NFCRELAY_FILTERS) set
  defaults; flags win.
`)
}
