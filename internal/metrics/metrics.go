// Package metrics provides lightweight, lock-free counters for tracking
// runtime statistics of a relay session.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Origin indexes the per-origin message counters.  It mirrors the
// message origins without importing the nfc package.
type Origin int

const (
	OriginCard Origin = iota
	OriginReader
	OriginEmulator
	OriginNetwork
	numOrigins
)

// Collector tracks runtime metrics for a relay session.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	messages          [numOrigins]atomic.Int64
	sinkOffered       atomic.Int64
	sinkDropped       atomic.Int64
	filterErrors      atomic.Int64
	connectionLosses  atomic.Int64
	notConnected      atomic.Int64
	workaroundStarts  atomic.Int64
	workaroundFailure atomic.Int64
	framesIn          atomic.Int64
	framesOut         atomic.Int64
	linkErrors        atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Relay metrics ────────────────────────────────────────────────────

// MessageRelayed counts one message that passed the pipeline.
func (c *Collector) MessageRelayed(o Origin) {
	if c == nil || o < 0 || o >= numOrigins {
		return
	}
	c.messages[o].Add(1)
}

// Messages returns the number of relayed messages from origin o.
func (c *Collector) Messages(o Origin) int64 {
	if c == nil || o < 0 || o >= numOrigins {
		return 0
	}
	return c.messages[o].Load()
}

// FilterError counts a pipeline failure.
func (c *Collector) FilterError() {
	if c == nil {
		return
	}
	c.filterErrors.Add(1)
}

// ConnectionLost counts a card that stopped answering.
func (c *Collector) ConnectionLost() {
	if c == nil {
		return
	}
	c.connectionLosses.Add(1)
}

// ConnectionLosses returns the number of lost card connections.
func (c *Collector) ConnectionLosses() int64 {
	if c == nil {
		return 0
	}
	return c.connectionLosses.Load()
}

// NotConnected counts a not-connected notification sent to the peer.
func (c *Collector) NotConnected() {
	if c == nil {
		return
	}
	c.notConnected.Add(1)
}

// ── Sink metrics ─────────────────────────────────────────────────────

// SinkOffered counts an entry accepted by the sink queue.
func (c *Collector) SinkOffered() {
	if c == nil {
		return
	}
	c.sinkOffered.Add(1)
}

// SinkDropped counts an entry discarded because the queue was full.
func (c *Collector) SinkDropped() {
	if c == nil {
		return
	}
	c.sinkDropped.Add(1)
}

// SinkDrops returns the total number of dropped sink entries.
func (c *Collector) SinkDrops() int64 {
	if c == nil {
		return 0
	}
	return c.sinkDropped.Load()
}

// ── Workaround metrics ───────────────────────────────────────────────

// WorkaroundStarted counts a started workaround task.
func (c *Collector) WorkaroundStarted() {
	if c == nil {
		return
	}
	c.workaroundStarts.Add(1)
}

// WorkaroundStarts returns the number of started workaround tasks.
func (c *Collector) WorkaroundStarts() int64 {
	if c == nil {
		return 0
	}
	return c.workaroundStarts.Load()
}

// WorkaroundFailed counts a workaround loop that stopped on error.
func (c *Collector) WorkaroundFailed() {
	if c == nil {
		return
	}
	c.workaroundFailure.Add(1)
}

// ── Link metrics ─────────────────────────────────────────────────────

// FrameReceived counts an inbound network link frame.
func (c *Collector) FrameReceived() {
	if c == nil {
		return
	}
	c.framesIn.Add(1)
}

// FrameSent counts an outbound network link frame.
func (c *Collector) FrameSent() {
	if c == nil {
		return
	}
	c.framesOut.Add(1)
}

// FramesSent returns the total outbound frame count.
func (c *Collector) FramesSent() int64 {
	if c == nil {
		return 0
	}
	return c.framesOut.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the link error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.linkErrors.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of link errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.linkErrors.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime             string `json:"uptime"`
	CardMessages       int64  `json:"card_messages"`
	ReaderMessages     int64  `json:"reader_messages"`
	EmulatorMessages   int64  `json:"emulator_messages"`
	NetworkMessages    int64  `json:"network_messages"`
	SinkOffered        int64  `json:"sink_offered"`
	SinkDropped        int64  `json:"sink_dropped"`
	FilterErrors       int64  `json:"filter_errors"`
	ConnectionLosses   int64  `json:"connection_losses"`
	NotConnected       int64  `json:"not_connected"`
	WorkaroundStarts   int64  `json:"workaround_starts"`
	WorkaroundFailures int64  `json:"workaround_failures"`
	FramesIn           int64  `json:"frames_in"`
	FramesOut          int64  `json:"frames_out"`
	LinkErrors         int64  `json:"link_errors"`
	LastError          string `json:"last_error,omitempty"`
	LastErrorMessage   string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:             time.Since(c.startTime).Truncate(time.Second).String(),
		CardMessages:       c.messages[OriginCard].Load(),
		ReaderMessages:     c.messages[OriginReader].Load(),
		EmulatorMessages:   c.messages[OriginEmulator].Load(),
		NetworkMessages:    c.messages[OriginNetwork].Load(),
		SinkOffered:        c.sinkOffered.Load(),
		SinkDropped:        c.sinkDropped.Load(),
		FilterErrors:       c.filterErrors.Load(),
		ConnectionLosses:   c.connectionLosses.Load(),
		NotConnected:       c.notConnected.Load(),
		WorkaroundStarts:   c.workaroundStarts.Load(),
		WorkaroundFailures: c.workaroundFailure.Load(),
		FramesIn:           c.framesIn.Load(),
		FramesOut:          c.framesOut.Load(),
		LinkErrors:         c.linkErrors.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
