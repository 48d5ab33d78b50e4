package protocol

import (
	"math"
	"time"

	"github.com/edenlabs/gesher/internal/journal"
	"github.com/edenlabs/gesher/internal/soul"
)

// Request payloads. Required fields are pointers so absence is
// distinguishable from a zero value.

// ThoughtPayload is the thought command payload.
type ThoughtPayload struct {
	Text *string `json:"text"`
	Zone string  `json:"zone,omitempty"`
}

func (p *ThoughtPayload) Validate() error {
	if p.Text == nil {
		return missing("text")
	}
	return nil
}

// ExecPayload is the exec command payload.
type ExecPayload struct {
	Command        *string  `json:"command"`
	TimeoutSeconds *float64 `json:"timeout_seconds,omitempty"`
}

func (p *ExecPayload) Validate() error {
	if p.Command == nil {
		return missing("command")
	}
	if p.TimeoutSeconds != nil && *p.TimeoutSeconds < 0 {
		return Errorf(KindProtocol, "timeout_seconds must not be negative")
	}
	return nil
}

// maxTimeoutSeconds is the largest timeout a time.Duration can hold.
var maxTimeoutSeconds = float64(math.MaxInt64) / float64(time.Second)

// Timeout converts timeout_seconds to a Duration, zero when absent.
// Values past what a Duration can hold saturate so the executor caps them.
func (p *ExecPayload) Timeout() time.Duration {
	if p.TimeoutSeconds == nil {
		return 0
	}
	secs := *p.TimeoutSeconds
	if secs >= maxTimeoutSeconds {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(secs * float64(time.Second))
}

// TerminalPayload is the terminal command payload.
type TerminalPayload struct {
	N *int `json:"n,omitempty"`
}

func (p *TerminalPayload) Validate() error {
	if p.N != nil && *p.N < 0 {
		return Errorf(KindProtocol, "n must not be negative")
	}
	return nil
}

// IntentPayload is the intent command payload.
type IntentPayload struct {
	Text *string `json:"text"`
}

func (p *IntentPayload) Validate() error {
	if p.Text == nil {
		return missing("text")
	}
	return nil
}

// AutonomousPayload is the autonomous command payload.
type AutonomousPayload struct {
	Enabled *bool `json:"enabled"`
}

func (p *AutonomousPayload) Validate() error {
	if p.Enabled == nil {
		return missing("enabled")
	}
	return nil
}

// ZonePayload is the zone command payload.
type ZonePayload struct {
	Zone *string `json:"zone"`
}

func (p *ZonePayload) Validate() error {
	if p.Zone == nil {
		return missing("zone")
	}
	return nil
}

// CrystalPayload is the crystal command payload.
type CrystalPayload struct {
	Content *string `json:"content"`
	Zone    string  `json:"zone,omitempty"`
}

func (p *CrystalPayload) Validate() error {
	if p.Content == nil {
		return missing("content")
	}
	return nil
}

// PresencePayload is the presence command payload.
// Level is any JSON number; it is clamped, never rejected for range.
type PresencePayload struct {
	Level *float64 `json:"level"`
}

func (p *PresencePayload) Validate() error {
	if p.Level == nil {
		return missing("level")
	}
	return nil
}

// ClampedLevel clamps Level to the presence range, then truncates the
// fraction toward zero.
func (p *PresencePayload) ClampedLevel() int {
	level := math.Max(soul.MinPresence, math.Min(soul.MaxPresence, *p.Level))
	return int(level)
}

// EmotionPayload is the emotion command payload.
type EmotionPayload struct {
	State *string `json:"state"`
}

func (p *EmotionPayload) Validate() error {
	if p.State == nil {
		return missing("state")
	}
	return nil
}

// BreadcrumbPayload is the breadcrumb command payload. Context and emotion
// must be present but may be empty.
type BreadcrumbPayload struct {
	Word    *string `json:"word"`
	Context *string `json:"context"`
	Emotion *string `json:"emotion"`
}

func (p *BreadcrumbPayload) Validate() error {
	switch {
	case p.Word == nil:
		return missing("word")
	case p.Context == nil:
		return missing("context")
	case p.Emotion == nil:
		return missing("emotion")
	}
	return nil
}

// ThoughtsPayload is the thoughts command payload.
type ThoughtsPayload struct {
	N *int `json:"n,omitempty"`
}

// Thought window bounds.
const (
	DefaultThoughts = 20
	MaxThoughts     = 500
)

func (p *ThoughtsPayload) Validate() error {
	if p.N != nil && *p.N < 0 {
		return Errorf(KindProtocol, "n must not be negative")
	}
	return nil
}

// Window resolves the requested count against the default and maximum.
func (p *ThoughtsPayload) Window() int {
	if p.N == nil || *p.N == 0 {
		return DefaultThoughts
	}
	if *p.N > MaxThoughts {
		return MaxThoughts
	}
	return *p.N
}

// EmptyPayload is used by commands without fields.
type EmptyPayload struct{}

func (EmptyPayload) Validate() error { return nil }

// Results.

// StatusResult answers status.
type StatusResult struct {
	Status string        `json:"status"`
	Soul   soul.Snapshot `json:"soul"`
}

// ThoughtResult answers thought.
type ThoughtResult struct {
	OK            bool `json:"ok"`
	ThoughtNumber int  `json:"thought_number"`
}

// ExecResult answers exec.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out"`
}

// TerminalResult answers terminal.
type TerminalResult struct {
	Lines []journal.TerminalLine `json:"lines"`
}

// IntentResult answers intent.
type IntentResult struct {
	Response string `json:"response"`
}

// AutonomousResult answers autonomous.
type AutonomousResult struct {
	OK             bool `json:"ok"`
	AutonomousMode bool `json:"autonomous_mode"`
}

// ZoneResult answers zone.
type ZoneResult struct {
	OK   bool      `json:"ok"`
	Zone soul.Zone `json:"zone"`
}

// CrystalResult answers crystal.
type CrystalResult struct {
	OK        bool   `json:"ok"`
	CrystalID string `json:"crystal_id"`
}

// PresenceResult answers presence.
type PresenceResult struct {
	OK       bool `json:"ok"`
	Presence int  `json:"presence"`
}

// EmotionResult answers emotion.
type EmotionResult struct {
	OK             bool   `json:"ok"`
	EmotionalState string `json:"emotional_state"`
}

// OKResult answers breadcrumb.
type OKResult struct {
	OK bool `json:"ok"`
}

// ThoughtsResult answers thoughts.
type ThoughtsResult struct {
	Thoughts []journal.Thought `json:"thoughts"`
}

// BrainResult answers brain.
type BrainResult struct {
	Backend string `json:"backend"`
	Model   string `json:"model"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"health_error,omitempty"`
}
