package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/curator/internal/conversation"
	"github.com/ent0n29/curator/internal/persona"
	"github.com/ent0n29/curator/internal/turn"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrEnded    = errors.New("session ended")
)

const DefaultPersonaID = "curator"

type Session struct {
	ID             string     `json:"session_id"`
	UserID         string     `json:"user_id"`
	Status         Status     `json:"status"`
	PersonaID      string     `json:"persona_id"`
	Phase          turn.Phase `json:"phase"`
	TurnCount      int        `json:"turn_count"`
	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
}

type entry struct {
	meta       Session
	state      *conversation.State
	dispatcher *turn.Dispatcher
}

// Config wires the collaborators every session shares.
type Config struct {
	InactivityTimeout time.Duration
	// EndedRetention is how long an ended session stays readable before the
	// janitor drops it with its transcript.
	EndedRetention    time.Duration
	Resolver          turn.Resolver
	Persona           persona.Persona
	PersonaID         string
	HistoryLimit      int
	UpstreamTimeout   time.Duration
	Logger            *zap.Logger
	Hooks             turn.Hooks
}

// Manager owns the live chat sessions. Each session has its own transcript
// and dispatcher; the grounding resolver is shared.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*entry
	onExpire func(*Session)
}

func NewManager(cfg Config) *Manager {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = 30 * time.Minute
	}
	if cfg.EndedRetention <= 0 {
		cfg.EndedRetention = 10 * time.Minute
	}
	if cfg.PersonaID == "" {
		cfg.PersonaID = DefaultPersonaID
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		logger:   cfg.Logger.Named("session"),
		sessions: make(map[string]*entry),
	}
}

func (m *Manager) InactivityTimeout() time.Duration { return m.cfg.InactivityTimeout }

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create starts a session whose transcript holds only the persona greeting.
func (m *Manager) Create(userID string) (*Session, conversation.Turn) {
	now := time.Now().UTC()
	state := conversation.New()
	state.Initialize(m.cfg.Persona.Greeting)

	e := &entry{
		meta: Session{
			ID:             uuid.NewString(),
			UserID:         userID,
			Status:         StatusActive,
			PersonaID:      m.cfg.PersonaID,
			StartedAt:      now,
			LastActivityAt: now,
		},
		state: state,
		dispatcher: turn.New(turn.Config{
			State:        state,
			Resolver:     m.cfg.Resolver,
			Persona:      m.cfg.Persona,
			HistoryLimit: m.cfg.HistoryLimit,
			Timeout:      m.cfg.UpstreamTimeout,
			Logger:       m.cfg.Logger,
			Hooks:        m.cfg.Hooks,
		}),
	}

	m.mu.Lock()
	m.sessions[e.meta.ID] = e
	m.mu.Unlock()

	m.logger.Info("session created", zap.String("session_id", e.meta.ID), zap.String("user_id", userID))
	return m.snapshot(e), state.Turns()[0]
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return m.snapshot(e), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.meta.LastActivityAt = time.Now().UTC()
	return nil
}

// Send runs one message through the session's dispatcher. Only ErrNotFound,
// ErrEnded, turn.ErrEmptyInput and turn.ErrBusy come back as errors; failed
// turns are reported through the Outcome.
func (m *Manager) Send(ctx context.Context, sessionID, text string) (turn.Outcome, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return turn.Outcome{}, err
	}
	if m.statusOf(e) != StatusActive {
		return turn.Outcome{}, ErrEnded
	}
	_ = m.Touch(sessionID)

	out, err := e.dispatcher.Dispatch(ctx, text)
	if err != nil {
		return out, err
	}
	_ = m.Touch(sessionID)
	return out, nil
}

// Transcript returns every turn of the session, ended or not.
func (m *Manager) Transcript(sessionID string) ([]conversation.Turn, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return e.state.Turns(), nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	e.meta.Status = StatusEnded
	e.meta.LastActivityAt = time.Now().UTC()
	m.mu.Unlock()

	m.logger.Info("session ended", zap.String("session_id", sessionID))
	return m.snapshot(e), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.sessions {
		if e.meta.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*entry
	evicted := 0

	m.mu.Lock()
	for id, e := range m.sessions {
		if e.meta.Status == StatusEnded {
			if now.Sub(e.meta.LastActivityAt) >= m.cfg.EndedRetention && e.dispatcher.Phase() == turn.PhaseIdle {
				delete(m.sessions, id)
				evicted++
			}
			continue
		}
		if e.dispatcher.Phase() != turn.PhaseIdle {
			continue
		}
		if now.Sub(e.meta.LastActivityAt) < m.cfg.InactivityTimeout {
			continue
		}
		e.meta.Status = StatusEnded
		e.meta.LastActivityAt = now
		expired = append(expired, e)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if evicted > 0 {
		m.logger.Debug("ended sessions evicted", zap.Int("count", evicted))
	}

	for _, e := range expired {
		s := m.snapshot(e)
		m.logger.Info("session expired", zap.String("session_id", s.ID), zap.Int("turns", s.TurnCount))
		if hook != nil {
			hook(s)
		}
	}
}

func (m *Manager) lookup(sessionID string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func (m *Manager) statusOf(e *entry) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return e.meta.Status
}

func (m *Manager) snapshot(e *entry) *Session {
	m.mu.RLock()
	s := e.meta
	m.mu.RUnlock()
	s.Phase = e.dispatcher.Phase()
	s.TurnCount = e.state.Len()
	return &s
}
