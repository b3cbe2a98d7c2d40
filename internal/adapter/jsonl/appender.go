// Package jsonl appends JSON records, one per line, to an output file.
package jsonl

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Appender writes newline-delimited JSON. Each Append is a single Write
// call, so a record is never interleaved with another.
type Appender struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	name   string
}

// Open opens path for appending, creating it and its directory if needed.
// The path "-" writes to stdout.
func Open(path string) (*Appender, error) {
	if path == "-" {
		return NewWriter(os.Stdout, "stdout"), nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", path, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Appender{w: f, closer: f, name: path}, nil
}

// NewWriter wraps an existing writer. Close does not close w.
func NewWriter(w io.Writer, name string) *Appender {
	return &Appender{w: w, name: name}
}

// Append encodes v as one JSON line.
func (a *Appender) Append(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record for %s: %w", a.name, err)
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.w.Write(line); err != nil {
		return fmt.Errorf("write %s: %w", a.name, err)
	}
	return nil
}

// Name returns the output path or label.
func (a *Appender) Name() string { return a.name }

func (a *Appender) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
