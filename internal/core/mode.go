// Package core is the orchestration layer. It composes the transport,
// the network link, the relay coordinator and the simulated hardware
// into a runnable mode and provides a builder that assembles it from a
// Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  netlink  →  relay  →  core  →  cmd (CLI)
//
// Hardware (card, emulator) and recording (sink) plug into relay; core
// is the only package that knows all of them.
package core

import "context"

// Mode is a complete run of one relay side. It owns its full lifecycle
// from reaching the peer to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
