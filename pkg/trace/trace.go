// Package trace records finished assistant runs for external audit. The
// router emits one record per dispatched handler run; recorders store or
// forward them and never influence the run itself.
package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ToolEvent mirrors one tool invocation inside a run.
type ToolEvent struct {
	Iteration int           `json:"iteration"`
	ToolID    string        `json:"tool_id"`
	OK        bool          `json:"ok"`
	Error     string        `json:"error,omitempty"`
	Sources   []string      `json:"sources,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Step mirrors one reasoning step of a run.
type Step struct {
	Phase string `json:"phase"`
	Note  string `json:"note"`
}

// RunRecord captures one handler run end to end.
type RunRecord struct {
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	Query      string        `json:"query,omitempty"`
	QueryHash  string        `json:"query_hash"`
	UserID     string        `json:"user_id,omitempty"`
	Role       string        `json:"role,omitempty"`
	Intent     string        `json:"intent"`
	Answer     string        `json:"answer,omitempty"`
	Confidence float64       `json:"confidence"`
	Sources    []string      `json:"sources,omitempty"`
	Tools      []ToolEvent   `json:"tools,omitempty"`
	Steps      []Step        `json:"steps,omitempty"`
	Iterations int           `json:"iterations"`
	Elapsed    time.Duration `json:"elapsed"`
	Signature  *Signature    `json:"signature,omitempty"`
}

// HashQuery returns the sha256 hex digest recorded alongside query text.
func HashQuery(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// Recorder receives finished run records. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(rec RunRecord) error
}

// NopRecorder discards every record.
type NopRecorder struct{}

// Record discards the record.
func (NopRecorder) Record(RunRecord) error { return nil }

// MemoryRecorder keeps records in memory, oldest first.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []RunRecord
}

// Record appends the record.
func (m *MemoryRecorder) Record(rec RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of everything recorded so far.
func (m *MemoryRecorder) Records() []RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RunRecord(nil), m.records...)
}

// Writer persists one JSON file per run, sharded by UTC day:
// <base>/<2006-01-02>/<id>.json.
type Writer struct {
	baseDir string
	signer  *Signer
	mu      sync.Mutex
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithSigner signs each record before it is written.
func WithSigner(s *Signer) WriterOption {
	return func(w *Writer) { w.signer = s }
}

// NewWriter creates a run record writer rooted at baseDir.
func NewWriter(baseDir string, opts ...WriterOption) (*Writer, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	w := &Writer{baseDir: baseDir}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Record writes the record to disk, signing it first when a signer is set.
func (w *Writer) Record(rec RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("record ID is required")
	}
	if w.signer != nil {
		sig, err := w.signer.Sign(rec)
		if err != nil {
			return fmt.Errorf("sign record: %w", err)
		}
		rec.Signature = sig
	}

	day := rec.Timestamp.UTC().Format("2006-01-02")
	dir := filepath.Join(w.baseDir, day)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, rec.ID+".json"), rec)
}

// Read loads a previously written record by day and id.
func (w *Writer) Read(day, id string) (*RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(w.baseDir, day, id+".json"))
	if err != nil {
		return nil, err
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
