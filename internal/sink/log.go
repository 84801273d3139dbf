package sink

import "nfcrelay/util"

// LogSink writes each entry as one log line at Info level.
type LogSink struct {
	Logger *util.Logger
}

// Consume logs the entry.
func (s *LogSink) Consume(e Entry) error {
	s.Logger.Info("#%d %s", e.Seq, e.Message)
	return nil
}

// Close is a no-op.
func (s *LogSink) Close() error { return nil }
