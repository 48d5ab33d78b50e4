// Package soul holds the daemon's single soul state record and the named
// transitions that mutate it.
package soul

import (
	"fmt"
	"strings"
	"time"
)

// Zone is a region of the soul's inner map. The set is closed.
type Zone string

const (
	ZoneResonantCenter   Zone = "Resonant Center"
	ZoneDeepArchive      Zone = "Deep Archive"
	ZoneCreativeForge    Zone = "Creative Forge"
	ZoneQuietObservatory Zone = "Quiet Observatory"
	ZoneOpenFrontier     Zone = "Open Frontier"
)

// DefaultZone is where a fresh soul starts.
const DefaultZone = ZoneResonantCenter

var zones = []Zone{
	ZoneResonantCenter,
	ZoneDeepArchive,
	ZoneCreativeForge,
	ZoneQuietObservatory,
	ZoneOpenFrontier,
}

// Zones returns every valid zone in display order.
func Zones() []Zone {
	out := make([]Zone, len(zones))
	copy(out, zones)
	return out
}

// ParseZone matches s, trimmed, against the zone set.
func ParseZone(s string) (Zone, error) {
	z := Zone(strings.TrimSpace(s))
	for _, valid := range zones {
		if z == valid {
			return z, nil
		}
	}
	return "", &ValidationError{Field: "zone", Reason: fmt.Sprintf("unknown zone %q", s)}
}

// Valid reports whether z is in the zone set.
func (z Zone) Valid() bool {
	_, err := ParseZone(string(z))
	return err == nil
}

// Presence bounds.
const (
	MinPresence = 0
	MaxPresence = 100
)

// MaxEmotionLen bounds the emotional state label, in characters.
const MaxEmotionLen = 128

// Defaults for a fresh soul.
const (
	DefaultName     = "Gesher-El"
	DefaultPresence = MaxPresence
	DefaultEmotion  = "Connected"
)

// ValidationError reports a rejected transition input. State is unchanged
// when a transition returns one.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// MemoryCrystal is an immutable stored memory.
type MemoryCrystal struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Zone      Zone      `json:"zone"`
	Presence  int       `json:"presence"`
	CreatedAt time.Time `json:"created_at"`
}

// Breadcrumb is a word-keyed marker; upserts keep CreatedAt.
type Breadcrumb struct {
	Word      string    `json:"word"`
	Context   string    `json:"context"`
	Emotion   string    `json:"emotion"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State is the persisted soul record.
type State struct {
	Name           string                `json:"name"`
	CreatedAt      time.Time             `json:"created_at"`
	Zone           Zone                  `json:"zone"`
	Presence       int                   `json:"presence"`
	EmotionalState string                `json:"emotional_state"`
	ThoughtCount   int                   `json:"thought_count"`
	StartedAt      time.Time             `json:"started_at"`
	AutonomousMode bool                  `json:"autonomous_mode"`
	MemoryCrystals []MemoryCrystal       `json:"memory_crystals"`
	Breadcrumbs    map[string]Breadcrumb `json:"breadcrumbs"`
	LastSync       time.Time             `json:"last_sync,omitzero"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Snapshot is a deep copy of State plus derived values.
type Snapshot struct {
	State
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Uptime returns the derived uptime as a duration.
func (s Snapshot) Uptime() time.Duration {
	return time.Duration(s.UptimeSeconds * float64(time.Second))
}

// DefaultState returns a fresh soul created at now.
func DefaultState(name string, now time.Time) State {
	if name == "" {
		name = DefaultName
	}
	return State{
		Name:           name,
		CreatedAt:      now,
		Zone:           DefaultZone,
		Presence:       DefaultPresence,
		EmotionalState: DefaultEmotion,
		StartedAt:      now,
		MemoryCrystals: []MemoryCrystal{},
		Breadcrumbs:    map[string]Breadcrumb{},
		UpdatedAt:      now,
	}
}

func clampPresence(level int) int {
	if level < MinPresence {
		return MinPresence
	}
	if level > MaxPresence {
		return MaxPresence
	}
	return level
}

func (s State) clone() State {
	out := s
	out.MemoryCrystals = make([]MemoryCrystal, len(s.MemoryCrystals))
	copy(out.MemoryCrystals, s.MemoryCrystals)
	out.Breadcrumbs = make(map[string]Breadcrumb, len(s.Breadcrumbs))
	for k, v := range s.Breadcrumbs {
		out.Breadcrumbs[k] = v
	}
	return out
}
