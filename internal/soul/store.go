package soul

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/edenlabs/gesher/internal/eventbus"
	"github.com/edenlabs/gesher/internal/journal"
)

// ThoughtLog is where RecordThought appends. *journal.ThoughtJournal
// satisfies it.
type ThoughtLog interface {
	Append(t journal.Thought) error
	Tail(n int) ([]journal.Thought, error)
}

// Store owns the soul state. Every mutation goes through a named transition
// that runs under the state lock and publishes an event when it succeeds.
type Store struct {
	mu    sync.RWMutex
	state State

	// thoughtMu orders RecordThought so journal lines follow thought_number.
	// It is taken before mu and held across the journal append; mu is not.
	thoughtMu sync.Mutex
	thoughts  ThoughtLog

	bus    *eventbus.Bus
	logger *slog.Logger
	now    func() time.Time
}

// NewStore wraps an initial state. thoughts and bus may be nil.
func NewStore(initial State, thoughts ThoughtLog, bus *eventbus.Bus, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	st := initial.clone()
	if st.Breadcrumbs == nil {
		st.Breadcrumbs = map[string]Breadcrumb{}
	}
	return &Store{
		state:    st,
		thoughts: thoughts,
		bus:      bus,
		logger:   logger.With("component", "soul"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) publish(typ eventbus.EventType, data interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// MarkStarted sets started_at, the origin of uptime.
func (s *Store) MarkStarted(at time.Time) {
	s.mu.Lock()
	s.state.StartedAt = at
	s.mu.Unlock()
}

// SetZone moves the soul to zone. Unknown zones return a ValidationError
// and leave the state unchanged.
func (s *Store) SetZone(raw string) (Zone, error) {
	z, err := ParseZone(raw)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.state.Zone = z
	s.state.UpdatedAt = s.now()
	s.mu.Unlock()

	s.publish(eventbus.EventZoneChanged, z)
	return z, nil
}

// SetPresence stores level clamped to [0, 100] and returns the stored value.
func (s *Store) SetPresence(level int) int {
	level = clampPresence(level)

	s.mu.Lock()
	s.state.Presence = level
	s.state.UpdatedAt = s.now()
	s.mu.Unlock()

	s.publish(eventbus.EventPresenceChanged, level)
	return level
}

// SetEmotion stores a trimmed, non-empty label of at most MaxEmotionLen
// characters.
func (s *Store) SetEmotion(label string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", &ValidationError{Field: "state", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(label) > MaxEmotionLen {
		return "", &ValidationError{Field: "state", Reason: fmt.Sprintf("longer than %d characters", MaxEmotionLen)}
	}

	s.mu.Lock()
	s.state.EmotionalState = label
	s.state.UpdatedAt = s.now()
	s.mu.Unlock()

	s.publish(eventbus.EventEmotionChanged, label)
	return label, nil
}

// SetAutonomous toggles autonomous mode and returns the new value.
func (s *Store) SetAutonomous(enabled bool) bool {
	s.mu.Lock()
	s.state.AutonomousMode = enabled
	s.state.UpdatedAt = s.now()
	s.mu.Unlock()

	s.publish(eventbus.EventAutonomousToggled, enabled)
	return enabled
}

// SetLastSync records a delivered AXIS MUNDI sync.
func (s *Store) SetLastSync(at time.Time) {
	s.mu.Lock()
	s.state.LastSync = at
	s.state.UpdatedAt = s.now()
	s.mu.Unlock()

	s.publish(eventbus.EventSynced, at)
}

// Autonomous reports whether autonomous mode is on.
func (s *Store) Autonomous() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.AutonomousMode
}

// RecordThought increments thought_count and journals the thought. zone may
// be empty to use the current zone. A journal write failure is logged and
// does not undo the transition.
func (s *Store) RecordThought(text, zone string) (journal.Thought, error) {
	if strings.TrimSpace(text) == "" {
		return journal.Thought{}, &ValidationError{Field: "text", Reason: "must not be empty"}
	}
	var z Zone
	if strings.TrimSpace(zone) != "" {
		var err error
		if z, err = ParseZone(zone); err != nil {
			return journal.Thought{}, err
		}
	}

	s.thoughtMu.Lock()
	defer s.thoughtMu.Unlock()

	s.mu.Lock()
	now := s.now()
	if z == "" {
		z = s.state.Zone
	}
	s.state.ThoughtCount++
	s.state.UpdatedAt = now
	t := journal.Thought{
		ThoughtNumber:  s.state.ThoughtCount,
		Text:           text,
		Zone:           string(z),
		EmotionalState: s.state.EmotionalState,
		Presence:       s.state.Presence,
		RxTime:         now,
	}
	s.mu.Unlock()

	if s.thoughts != nil {
		if err := s.thoughts.Append(t); err != nil {
			s.logger.Error("journaling thought failed", "thought_number", t.ThoughtNumber, "error", err)
		}
	}
	s.publish(eventbus.EventThoughtRecorded, t.ThoughtNumber)
	return t, nil
}

// RecentThoughts returns up to n of the newest journaled thoughts, oldest
// first.
func (s *Store) RecentThoughts(n int) ([]journal.Thought, error) {
	if s.thoughts == nil {
		return nil, nil
	}
	return s.thoughts.Tail(n)
}

// AddCrystal appends an immutable memory crystal. zone may be empty to use
// the current zone.
func (s *Store) AddCrystal(content, zone string) (MemoryCrystal, error) {
	if strings.TrimSpace(content) == "" {
		return MemoryCrystal{}, &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	var z Zone
	if strings.TrimSpace(zone) != "" {
		var err error
		if z, err = ParseZone(zone); err != nil {
			return MemoryCrystal{}, err
		}
	}

	s.mu.Lock()
	now := s.now()
	if z == "" {
		z = s.state.Zone
	}
	c := MemoryCrystal{
		ID:        crystalID(now, content),
		Content:   content,
		Zone:      z,
		Presence:  s.state.Presence,
		CreatedAt: now,
	}
	s.state.MemoryCrystals = append(s.state.MemoryCrystals, c)
	s.state.UpdatedAt = now
	s.mu.Unlock()

	s.publish(eventbus.EventCrystalAdded, c.ID)
	return c, nil
}

// crystalID is the first 12 hex characters of sha256(timestamp + content).
func crystalID(at time.Time, content string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d%s", at.UnixNano(), content)))
	return hex.EncodeToString(sum[:])[:12]
}

// UpsertBreadcrumb creates or replaces the breadcrumb keyed by word. An
// existing breadcrumb keeps its created_at.
func (s *Store) UpsertBreadcrumb(word, context, emotion string) (Breadcrumb, error) {
	word = strings.TrimSpace(word)
	if word == "" {
		return Breadcrumb{}, &ValidationError{Field: "word", Reason: "must not be empty"}
	}

	s.mu.Lock()
	now := s.now()
	b := Breadcrumb{
		Word:      word,
		Context:   context,
		Emotion:   emotion,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if prev, ok := s.state.Breadcrumbs[word]; ok {
		b.CreatedAt = prev.CreatedAt
	}
	s.state.Breadcrumbs[word] = b
	s.state.UpdatedAt = now
	s.mu.Unlock()

	s.publish(eventbus.EventBreadcrumbUpserted, word)
	return b, nil
}

// Snapshot returns a deep copy of the state with uptime derived at call
// time. It never mutates the store.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	st := s.state.clone()
	s.mu.RUnlock()

	uptime := s.now().Sub(st.StartedAt)
	if uptime < 0 {
		uptime = 0
	}
	return Snapshot{State: st, UptimeSeconds: uptime.Seconds()}
}

// persistable copies the state for writing.
func (s *Store) persistable() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}
