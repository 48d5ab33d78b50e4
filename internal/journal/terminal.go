package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LineType classifies a terminal transcript line.
type LineType string

const (
	LineCmd      LineType = "cmd"
	LineOutput   LineType = "output"
	LineError    LineType = "error"
	LineIntent   LineType = "intent"
	LineResponse LineType = "response"
	LineSystem   LineType = "system"
)

// TerminalLine is one transcript entry.
type TerminalLine struct {
	Text      string    `json:"text"`
	Type      LineType  `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultRecent is the window Recent uses when n is not positive.
const DefaultRecent = 50

// Terminal is a bounded ring of transcript lines. When full the oldest line
// is evicted. Every line is also appended to an NDJSON mirror file when one
// is configured; the mirror is never truncated.
type Terminal struct {
	mu     sync.Mutex
	lines  []TerminalLine
	start  int
	count  int
	mirror *os.File
	logger *slog.Logger
}

// NewTerminal creates a ring holding at most capacity lines. mirrorPath may
// be empty to keep the transcript in memory only.
func NewTerminal(capacity int, mirrorPath string, logger *slog.Logger) (*Terminal, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("terminal capacity must be positive, got %d", capacity)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	t := &Terminal{
		lines:  make([]TerminalLine, capacity),
		logger: logger.With("component", "terminal"),
	}
	if mirrorPath != "" {
		if err := os.MkdirAll(filepath.Dir(mirrorPath), 0755); err != nil {
			return nil, fmt.Errorf("creating terminal directory: %w", err)
		}
		f, err := os.OpenFile(mirrorPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening terminal transcript: %w", err)
		}
		t.mirror = f
	}
	return t, nil
}

// Capacity returns the ring size.
func (t *Terminal) Capacity() int { return len(t.lines) }

// Append records a line and returns it.
func (t *Terminal) Append(typ LineType, text string) TerminalLine {
	line := TerminalLine{Text: text, Type: typ, Timestamp: time.Now().UTC()}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := (t.start + t.count) % len(t.lines)
	t.lines[idx] = line
	if t.count < len(t.lines) {
		t.count++
	} else {
		t.start = (t.start + 1) % len(t.lines)
	}

	if t.mirror != nil {
		data, err := json.Marshal(line)
		if err == nil {
			_, err = t.mirror.Write(append(data, '\n'))
		}
		if err != nil {
			t.logger.Warn("terminal transcript write failed", "error", err)
		}
	}
	return line
}

// Recent returns up to n of the newest lines, oldest first. n <= 0 means
// DefaultRecent; n is capped at the ring capacity.
func (t *Terminal) Recent(n int) []TerminalLine {
	if n <= 0 {
		n = DefaultRecent
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if n > t.count {
		n = t.count
	}
	out := make([]TerminalLine, n)
	first := t.start + t.count - n
	for i := 0; i < n; i++ {
		out[i] = t.lines[(first+i)%len(t.lines)]
	}
	return out
}

// RecentOfType returns up to n of the newest lines of the given type,
// oldest first.
func (t *Terminal) RecentOfType(typ LineType, n int) []TerminalLine {
	if n <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var rev []TerminalLine
	for i := t.count - 1; i >= 0 && len(rev) < n; i-- {
		line := t.lines[(t.start+i)%len(t.lines)]
		if line.Type == typ {
			rev = append(rev, line)
		}
	}
	out := make([]TerminalLine, len(rev))
	for i, line := range rev {
		out[len(rev)-1-i] = line
	}
	return out
}

// Len returns the number of lines held.
func (t *Terminal) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Close closes the transcript mirror.
func (t *Terminal) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mirror == nil {
		return nil
	}
	err := t.mirror.Close()
	t.mirror = nil
	return err
}
