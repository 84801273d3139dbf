package sink

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"nfcrelay/internal/nfc"
	"nfcrelay/util"
)

// record is the JSON-lines form of an Entry.  Byte fields are hex.
type record struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Run     string    `json:"run"`
	Origin  string    `json:"origin"`
	Kind    string    `json:"kind"`
	Payload string    `json:"payload,omitempty"`
	UID     string    `json:"uid,omitempty"`
	ATQA    string    `json:"atqa,omitempty"`
	SAK     string    `json:"sak,omitempty"`
	Hist    string    `json:"hist,omitempty"`
}

func toRecord(e Entry) record {
	m := e.Message
	r := record{
		Seq:    e.Seq,
		Time:   e.Time.UTC(),
		Run:    e.Run,
		Origin: m.Origin.String(),
		Kind:   m.Kind.String(),
	}
	if m.Kind == nfc.KindAnticollision {
		r.UID = util.Hex(m.UID)
		r.ATQA = util.Hex(m.ATQA)
		r.SAK = fmt.Sprintf("%02X", m.SAK)
		r.Hist = util.Hex(m.Historical)
	} else {
		r.Payload = util.Hex(m.Payload)
	}
	return r
}

func (r record) entry() (Entry, error) {
	origin, err := nfc.ParseOrigin(r.Origin)
	if err != nil {
		return Entry{}, err
	}
	kind, err := nfc.ParseKind(r.Kind)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Seq: r.Seq, Time: r.Time, Run: r.Run}
	if kind == nfc.KindApplicationData {
		payload, err := hex.DecodeString(r.Payload)
		if err != nil {
			return Entry{}, fmt.Errorf("payload: %w", err)
		}
		e.Message = nfc.NewApplicationData(origin, payload)
		return e, nil
	}

	fields := make([][]byte, 3)
	for i, s := range []string{r.UID, r.ATQA, r.Hist} {
		if fields[i], err = hex.DecodeString(s); err != nil {
			return Entry{}, fmt.Errorf("anticollision field: %w", err)
		}
	}
	sak, err := hex.DecodeString(r.SAK)
	if err != nil || len(sak) > 1 {
		return Entry{}, fmt.Errorf("sak %q: invalid", r.SAK)
	}
	var sakByte byte
	if len(sak) == 1 {
		sakByte = sak[0]
	}
	e.Message = nfc.NewAnticollision(origin, fields[0], fields[1], sakByte, fields[2])
	return e, nil
}

// FileSink appends entries as JSON lines.
type FileSink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
}

// NewFileSink opens (creating or appending to) path.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open record file: %w", err)
	}
	return &FileSink{w: bufio.NewWriter(f), closer: f}, nil
}

// NewWriterSink writes JSON lines to w.  Close flushes but does not
// close w.
func NewWriterSink(w io.Writer) *FileSink {
	return &FileSink{w: bufio.NewWriter(w)}
}

// Consume writes one line and flushes it.
func (s *FileSink) Consume(e Entry) error {
	line, err := json.Marshal(toRecord(e))
	if err != nil {
		return fmt.Errorf("encode entry %d: %w", e.Seq, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write entry %d: %w", e.Seq, err)
	}
	return s.w.Flush()
}

// Close flushes buffered output and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.w.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
		s.closer = nil
	}
	return err
}

// LoadTrace reads JSON-lines entries written by a FileSink.  Blank
// lines are skipped.
func LoadTrace(r io.Reader) ([]Entry, error) {
	var out []Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		e, err := rec.entry()
		if err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	return out, nil
}

// LoadTraceFile is LoadTrace on the file at path.
func LoadTraceFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()
	return LoadTrace(f)
}
