// Package transport opens the byte stream the relay link runs over.
// A Dialer either connects straight to the peer over TCP or forwards
// the connection through an SSH gateway; the framing on top is the
// netlink package's job.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound connections to the relay peer.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session). Stateless dialers return nil.
	Close() error
}
