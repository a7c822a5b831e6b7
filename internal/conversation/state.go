// Package conversation holds the append-only turn log of one chat session.
package conversation

import (
	"sync"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the transcript.
type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// State is the ordered turn log owned by a single session. Append is the only
// mutator; turns are never reordered or removed.
type State struct {
	mu    sync.RWMutex
	turns []Turn
}

func New() *State { return &State{} }

// Initialize seeds the greeting as the first assistant turn. It reports
// whether it seeded; on a non-empty state it does nothing.
func (s *State) Initialize(greeting string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.turns) > 0 {
		return false
	}
	s.turns = append(s.turns, Turn{Role: RoleAssistant, Text: greeting, At: time.Now().UTC()})
	return true
}

func (s *State) Append(t Turn) Turn {
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}
	s.mu.Lock()
	s.turns = append(s.turns, t)
	s.mu.Unlock()
	return t
}

func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Turns returns a copy of the full transcript in order.
func (s *State) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Turn(nil), s.turns...)
}

// Window returns turns[from-limit:from], i.e. at most limit turns that precede
// index from. limit <= 0 returns everything before from.
func (s *State) Window(from, limit int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if from > len(s.turns) {
		from = len(s.turns)
	}
	if from < 0 {
		from = 0
	}
	start := 0
	if limit > 0 && from-limit > 0 {
		start = from - limit
	}
	return append([]Turn(nil), s.turns[start:from]...)
}
