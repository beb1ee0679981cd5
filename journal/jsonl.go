package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// JSONL appends every record to one newline-delimited JSON file. Each line
// is an envelope {"kind": ..., "record": ...} so tailers can demultiplex.
type JSONL struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

type envelope struct {
	Kind   string `json:"kind"`
	Record any    `json:"record"`
}

func NewJSONL(path string) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONL{file: f, w: bufio.NewWriterSize(f, 64*1024)}, nil
}

func (j *JSONL) write(kind string, v any) error {
	b, err := json.Marshal(envelope{Kind: kind, Record: v})
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.w.Write(b); err != nil {
		return err
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return err
	}
	return j.w.Flush()
}

func (j *JSONL) RecordSignal(s SignalRecord) error         { return j.write("signal", s) }
func (j *JSONL) RecordDecision(d DecisionRecord) error     { return j.write("decision", d) }
func (j *JSONL) RecordTransition(t TransitionRecord) error { return j.write("transition", t) }
func (j *JSONL) RecordPosition(p PositionRecord) error     { return j.write("position", p) }

func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.w.Flush(); err != nil {
		_ = j.file.Close()
		return err
	}
	return j.file.Close()
}
