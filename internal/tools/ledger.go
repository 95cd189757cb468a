package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"anima/internal/logging"
)

// DefaultLedgerRetention is how many records the in-memory ring keeps
// before FIFO eviction.
const DefaultLedgerRetention = 5000

// ===== Status =====

// Status is the terminal state of one invocation as seen by the ledger.
type Status int

const (
	// StatusCompleted means the tool ran and reported success.
	StatusCompleted Status = iota
	// StatusFailed means the tool ran and reported failure.
	StatusFailed
	// StatusCancelled means the invocation was cancelled mid-flight.
	StatusCancelled
	// StatusTimedOut means the cooperative deadline expired.
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	case StatusTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseStatus converts a status name back to its value.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	case "cancelled":
		return StatusCancelled, nil
	case "timed_out":
		return StatusTimedOut, nil
	default:
		return StatusFailed, fmt.Errorf("unknown status %q", s)
	}
}

// MarshalJSON encodes the status by name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status from its name.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ===== Record =====

// Record is one ledger entry. Exactly one is appended per executed
// invocation; pre-execution rejections never reach the ledger.
type Record struct {
	Seq            int64     `json:"seq"`
	EnvelopeDigest string    `json:"envelope_digest"`
	Tool           string    `json:"tool"`
	Action         string    `json:"action"`
	Status         Status    `json:"status"`
	CostSpent      float64   `json:"cost_spent"`
	DurationMS     int64     `json:"duration_ms"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Failed reports whether the record describes an unsuccessful execution.
func (r Record) Failed() bool {
	return r.Status != StatusCompleted
}

// ===== Ledger =====

// Ledger is the append-only record of every executed invocation. It keeps
// a bounded in-memory ring (single producer, many consumers) and fans each
// record out to subscribers on a buffered channel; a slow subscriber drops
// records rather than stalling the producer. The in-memory ring is the
// source of truth for the Observer; file persistence is a subscriber like
// any other.
type Ledger struct {
	mu        sync.Mutex
	records   []Record
	retention int
	seq       int64
	subs      map[int]chan Record
	nextSub   int
}

// NewLedger creates a ledger retaining the last retention records.
// Non-positive retention selects the default of 5,000.
func NewLedger(retention int) *Ledger {
	if retention <= 0 {
		retention = DefaultLedgerRetention
	}
	return &Ledger{
		records:   make([]Record, 0, 64),
		retention: retention,
		subs:      make(map[int]chan Record),
	}
}

// Append stamps the record with the next sequence number, stores it, and
// fans it out. Returns the stamped record.
func (l *Ledger) Append(rec Record) Record {
	l.mu.Lock()
	l.seq++
	rec.Seq = l.seq
	l.records = append(l.records, rec)
	if len(l.records) > l.retention {
		l.records = l.records[len(l.records)-l.retention:]
	}
	for _, ch := range l.subs {
		select {
		case ch <- rec:
		default:
			// Subscriber is behind; drop rather than block the producer.
		}
	}
	l.mu.Unlock()
	return rec
}

// Recent returns the last n records in insertion order. n <= 0 or larger
// than the ring returns everything retained.
func (l *Ledger) Recent(n int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.records) {
		n = len(l.records)
	}
	out := make([]Record, n)
	copy(out, l.records[len(l.records)-n:])
	return out
}

// Len returns the number of retained records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// LastSeq returns the sequence number of the newest record, 0 if empty.
func (l *Ledger) LastSeq() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Subscribe registers a consumer and returns its channel plus a cancel
// function. The channel is closed on cancel. A non-positive buffer selects
// a default of 64.
func (l *Ledger) Subscribe(buffer int) (<-chan Record, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Record, buffer)

	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		if _, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(ch)
		}
		l.mu.Unlock()
	}
	return ch, cancel
}

// ===== File writer =====

// LedgerWriter persists ledger records as JSON lines. It is a plain
// subscriber: the in-memory ring never waits for it.
type LedgerWriter struct {
	f      *os.File
	enc    *json.Encoder
	cancel func()
	done   chan struct{}
}

// NewLedgerWriter subscribes to the ledger and appends every record to the
// file at path, one JSON object per line.
func NewLedgerWriter(l *Ledger, path string) (*LedgerWriter, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}

	ch, cancel := l.Subscribe(256)
	w := &LedgerWriter{
		f:      f,
		enc:    json.NewEncoder(f),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run(ch)
	return w, nil
}

func (w *LedgerWriter) run(ch <-chan Record) {
	defer close(w.done)
	for rec := range ch {
		if err := w.enc.Encode(rec); err != nil {
			logging.ToolsWarn("ledger write failed: %v", err)
		}
	}
}

// Close drains the subscription and closes the file.
func (w *LedgerWriter) Close() error {
	w.cancel()
	<-w.done
	return w.f.Close()
}
