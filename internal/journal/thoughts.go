// Package journal holds the daemon's append-only records: the thought
// journal (NDJSON, read back by tail window) and the terminal transcript
// (bounded in-memory ring mirrored to NDJSON).
package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Thought is one journaled thought. Records are never mutated.
type Thought struct {
	ThoughtNumber  int       `json:"thought_number"`
	Text           string    `json:"text"`
	Zone           string    `json:"zone"`
	EmotionalState string    `json:"emotional_state"`
	Presence       int       `json:"presence"`
	RxTime         time.Time `json:"rx_time"`
}

// tailChunk is the read size used when scanning a journal backwards.
const tailChunk = 64 * 1024

// ThoughtJournal appends thoughts to an NDJSON file.
type ThoughtJournal struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenThoughts opens (creating if absent) the journal at path.
func OpenThoughts(path string) (*ThoughtJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening thought journal: %w", err)
	}
	return &ThoughtJournal{path: path, f: f}, nil
}

// Path returns the journal file path.
func (j *ThoughtJournal) Path() string { return j.path }

// Append writes one thought as a single line.
func (j *ThoughtJournal) Append(t Thought) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding thought: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return os.ErrClosed
	}
	if _, err := j.f.Write(data); err != nil {
		return fmt.Errorf("appending thought: %w", err)
	}
	return nil
}

// Tail returns up to n of the most recent thoughts, oldest first.
// Lines that do not decode (a torn final write) are skipped.
func (j *ThoughtJournal) Tail(n int) ([]Thought, error) {
	if n <= 0 {
		return nil, nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	lines, err := tailLines(j.path, n)
	if err != nil {
		return nil, err
	}
	thoughts := make([]Thought, 0, len(lines))
	for _, line := range lines {
		var t Thought
		if err := json.Unmarshal(line, &t); err != nil {
			continue
		}
		thoughts = append(thoughts, t)
	}
	return thoughts, nil
}

// Close closes the journal file.
func (j *ThoughtJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// tailLines reads the last n non-empty lines of the file at path without
// loading the whole file.
func tailLines(path string, n int) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	var buf []byte
	var lines [][]byte
	off := info.Size()
	for off > 0 {
		size := int64(tailChunk)
		if size > off {
			size = off
		}
		off -= size
		chunk := make([]byte, size)
		if _, err := f.ReadAt(chunk, off); err != nil && err != io.EOF {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		buf = append(chunk, buf...)

		lines = splitLines(buf, off > 0)
		if len(lines) >= n {
			break
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// splitLines splits buf into non-empty lines. When partial is set the first
// segment may be the tail of an earlier line and is dropped.
func splitLines(buf []byte, partial bool) [][]byte {
	segments := bytes.Split(buf, []byte{'\n'})
	if partial && len(segments) > 0 {
		segments = segments[1:]
	}
	lines := make([][]byte, 0, len(segments))
	for _, s := range segments {
		if len(bytes.TrimSpace(s)) > 0 {
			lines = append(lines, s)
		}
	}
	return lines
}
