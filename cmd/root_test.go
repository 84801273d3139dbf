package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nfcrelay/config"
	rerr "nfcrelay/internal/errors"
	"nfcrelay/internal/nfc"
	"nfcrelay/internal/sink"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

// TestExecute_Version verifies --version prints a version string.
func TestExecute_Version(t *testing.T) {
	out := captureStdout(t)
	require.NoError(t, Execute(context.Background(), []string{"--version"}))
	assert.Equal(t, "nfcrelay "+version+"\n", out.String())
}

// TestExecute_Help verifies --help (and no args) returns without error.
func TestExecute_Help(t *testing.T) {
	for _, args := range [][]string{{"--help"}, {}} {
		name := "no-args"
		if len(args) > 0 {
			name = args[0]
		}
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, Execute(context.Background(), args))
		})
	}
}

// TestExecute_DryRun verifies --dry-run validates and exits cleanly.
func TestExecute_DryRun(t *testing.T) {
	out := captureStdout(t)
	err := Execute(context.Background(), []string{"-l", "-p", "7000", "--dry-run"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "role=card")
	assert.Contains(t, out.String(), `peer="listen :7000"`)
}

func TestExecute_DryRunEmulator(t *testing.T) {
	trace := filepath.Join(t.TempDir(), "card.jsonl")
	fs, err := sink.NewFileSink(trace)
	require.NoError(t, err)
	require.NoError(t, fs.Consume(sink.Entry{
		Seq:     1,
		Message: nfc.NewAnticollision(nfc.OriginCard, []byte{0x04, 0x11}, []byte{0x00, 0x44}, 0x08, nil),
	}))
	require.NoError(t, fs.Close())

	out := captureStdout(t)
	err = Execute(context.Background(), []string{
		"--role", "emulator", "--replay", trace, "--clone",
		"--filter", "anticol:redact-uid", "--filter", "card:checksum",
		"relay.example", "7000", "--dry-run",
	})
	require.NoError(t, err)
	for _, want := range []string{"role=emulator", `peer="connect relay.example:7000"`, "trace=1", "stages=2", "clone=true"} {
		assert.Contains(t, out.String(), want)
	}
}

// TestExecute_DryRunInvalid verifies --dry-run still catches bad configs.
func TestExecute_DryRunInvalid(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		field string
	}{
		{"listen without port", []string{"-l", "--dry-run"}, "port"},
		{"unknown role", []string{"--role", "reader", "peer", "7000", "--dry-run"}, "role"},
		{"emulator without replay", []string{"--role", "emulator", "peer", "7000", "--dry-run"}, "replay"},
		{"tunnel while listening", []string{"-l", "-p", "7000", "-T", "relay@gw", "--dry-run"}, "tunnel"},
		{"bad filter", []string{"--filter", "card", "peer", "7000", "--dry-run"}, "filter"},
		{"bad capacity", []string{"--sink-capacity", "0", "peer", "7000", "--dry-run"}, "sink-capacity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Execute(context.Background(), tt.args)
			var cfgErr *rerr.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

// TestExecute_InvalidFlags verifies unknown flags produce an error.
func TestExecute_InvalidFlags(t *testing.T) {
	assert.Error(t, Execute(context.Background(), []string{"--nonexistent-flag"}))
}

func TestExecute_EnvDefaults(t *testing.T) {
	t.Setenv("NFCRELAY_ROLE", "emulator")
	out := captureStdout(t)

	// The env role needs a replay script; the flag overrides it.
	err := Execute(context.Background(), []string{"--role", "card", "peer", "7000", "--dry-run"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "role=card")
}

func TestParsePositional(t *testing.T) {
	tests := []struct {
		name     string
		listen   bool
		args     []string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{name: "connect", args: []string{"peer", "7000"}, wantHost: "peer", wantPort: 7000},
		{name: "connect missing port", args: []string{"peer"}, wantErr: true},
		{name: "connect bad port", args: []string{"peer", "x"}, wantErr: true},
		{name: "connect no args", wantErr: true},
		{name: "connect extra", args: []string{"a", "1", "2"}, wantErr: true},
		{name: "listen bare", listen: true},
		{name: "listen bind host", listen: true, args: []string{"127.0.0.1"}, wantHost: "127.0.0.1"},
		{name: "listen extra", listen: true, args: []string{"a", "b"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Listen = tt.listen
			err := parsePositional(cfg, tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, cfg.Host)
			assert.Equal(t, tt.wantPort, cfg.Port)
		})
	}
}
