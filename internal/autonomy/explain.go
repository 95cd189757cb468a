package autonomy

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"anima/internal/intent"
	"anima/internal/logging"
	"anima/internal/tools"
)

// Record is one explainability entry: what the loop decided, what it was
// seeing at the time, and how the action turned out. One JSON object per
// line, append-only.
type Record struct {
	Time        time.Time     `json:"time"`
	Decision    DecisionInfo  `json:"decision"`
	Observation Observation   `json:"observation"`
	Result      *tools.Result `json:"result,omitempty"`
	Evaluation  *Evaluation   `json:"evaluation,omitempty"`
}

// DecisionInfo is the decision part of an explainability record.
type DecisionInfo struct {
	Action string         `json:"action"`
	Reason string         `json:"reason"`
	Intent *intent.Intent `json:"intent,omitempty"`
}

// Observation is the sensory part of an explainability record.
type Observation struct {
	PainScore       float64  `json:"pain_score"`
	PressureSources []string `json:"pressure_sources"`
	RecentActions   []string `json:"recent_actions"`
}

// Writer appends explainability records to a JSONL file. Older releases
// persisted the log as one JSON array; the writer migrates such a file to
// JSONL in place before its first append.
type Writer struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	checked bool
}

// NewWriter builds a writer for path. The file is opened lazily on the
// first append.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Append writes one record as a single JSON line.
func (w *Writer) Append(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.openLocked(); err != nil {
		return err
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode explain record: %w", err)
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append explain record: %w", err)
	}
	return nil
}

// Close closes the underlying file. Append after Close reopens it.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.checked = false
	return err
}

func (w *Writer) openLocked() error {
	if w.file != nil {
		return nil
	}
	if !w.checked {
		if err := migrateLegacy(w.path); err != nil {
			return err
		}
		w.checked = true
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create explain dir: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open explain log: %w", err)
	}
	w.file = f
	return nil
}

// migrateLegacy rewrites a JSON-array explain log as JSONL. Files that are
// missing, empty, or already line-oriented are left alone.
func migrateLegacy(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read explain log: %w", err)
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return fmt.Errorf("parse legacy explain log: %w", err)
	}

	var buf bytes.Buffer
	for _, item := range items {
		compact := bytes.Buffer{}
		if err := json.Compact(&compact, item); err != nil {
			return fmt.Errorf("compact legacy record: %w", err)
		}
		buf.Write(compact.Bytes())
		buf.WriteByte('\n')
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write migrated explain log: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace explain log: %w", err)
	}
	logging.Autonomy("migrated legacy explain log to JSONL (%d records)", len(items))
	return nil
}

// ReadRecords loads every record from an explain log, accepting both the
// JSONL format and the legacy array format.
func ReadRecords(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read explain log: %w", err)
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var records []Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("parse legacy explain log: %w", err)
		}
		return records, nil
	}

	var records []Record
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("parse explain record: %w", err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan explain log: %w", err)
	}
	return records, nil
}
