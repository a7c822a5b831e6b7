package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ent0n29/curator/internal/brain"
	"github.com/ent0n29/curator/internal/conversation"
	"github.com/ent0n29/curator/internal/grounding"
	"github.com/ent0n29/curator/internal/persona"
	"github.com/ent0n29/curator/internal/turn"
)

type mockResolver struct {
	block persona.ContextBlock
}

func (r mockResolver) Resolve(ctx context.Context) (grounding.Grounding, error) {
	g := grounding.Grounding{Block: r.block}
	if r.block.Empty() {
		return g, nil
	}
	h, err := brain.NewMockClient().NewSession(ctx, "instruction")
	g.Handle = h
	return g, err
}

func (mockResolver) Discard(brain.Handle, error) bool { return false }

func newTestManager(timeout time.Duration, block persona.ContextBlock) *Manager {
	return NewManager(Config{
		InactivityTimeout: timeout,
		Resolver:          mockResolver{block: block},
		Persona:           persona.Curator,
	})
}

func TestManagerCreateGetEnd(t *testing.T) {
	m := newTestManager(time.Minute, "- Tên: X\n")
	s, greeting := m.Create("u1")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}
	if greeting.Role != conversation.RoleAssistant || greeting.Text != persona.Curator.Greeting {
		t.Fatalf("unexpected greeting: %+v", greeting)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || got.PersonaID != DefaultPersonaID || got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}
	if got.TurnCount != 1 || got.Phase != turn.PhaseIdle {
		t.Fatalf("TurnCount = %d Phase = %q, want 1 and idle", got.TurnCount, got.Phase)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}

func TestManagerSendGrowsTranscript(t *testing.T) {
	m := newTestManager(time.Minute, "- Tên: X\n")
	s, _ := m.Create("")

	out, err := m.Send(context.Background(), s.ID, "Có sách trinh thám không?")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if out.Phase != turn.PhaseFulfilled || out.Reply == nil {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	turns, err := m.Transcript(s.ID)
	if err != nil {
		t.Fatalf("Transcript() error = %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("len(turns) = %d, want 3", len(turns))
	}
	if turns[1].Text != "Có sách trinh thám không?" || turns[2].Role != conversation.RoleAssistant {
		t.Fatalf("unexpected transcript: %+v", turns)
	}
}

func TestManagerSendWithoutCatalogKeepsUserTurn(t *testing.T) {
	m := newTestManager(time.Minute, "")
	s, _ := m.Create("")

	out, err := m.Send(context.Background(), s.ID, "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if out.Phase != turn.PhaseFailed || out.Diagnostic == nil || out.Diagnostic.Code != turn.CodeGroundingUnavailable {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	got, _ := m.Get(s.ID)
	if got.TurnCount != 2 {
		t.Fatalf("TurnCount = %d, want 2", got.TurnCount)
	}
}

func TestManagerSessionsAreIsolated(t *testing.T) {
	m := newTestManager(time.Minute, "- Tên: X\n")
	a, _ := m.Create("a")
	b, _ := m.Create("b")

	if _, err := m.Send(context.Background(), a.ID, "q"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	turns, _ := m.Transcript(b.ID)
	if len(turns) != 1 {
		t.Fatalf("len(turns) for untouched session = %d, want 1", len(turns))
	}
}

func TestManagerSendRejectsUnknownAndEnded(t *testing.T) {
	m := newTestManager(time.Minute, "- Tên: X\n")
	if _, err := m.Send(context.Background(), "missing", "q"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Send() error = %v, want ErrNotFound", err)
	}

	s, _ := m.Create("")
	if _, err := m.End(s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if _, err := m.Send(context.Background(), s.ID, "q"); !errors.Is(err, ErrEnded) {
		t.Fatalf("Send() error = %v, want ErrEnded", err)
	}
	turns, err := m.Transcript(s.ID)
	if err != nil || len(turns) != 1 {
		t.Fatalf("Transcript() = %d turns, err %v; want 1 turn", len(turns), err)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := newTestManager(30*time.Millisecond, "")
	s, _ := m.Create("u1")

	expired := make(chan string, 1)
	m.SetExpireHook(func(s *Session) { expired <- s.ID })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case id := <-expired:
		if id != s.ID {
			t.Fatalf("expired %q, want %q", id, s.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("session was not expired")
	}
	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
}

func TestManagerJanitorEvictsEndedSessions(t *testing.T) {
	m := NewManager(Config{
		InactivityTimeout: time.Hour,
		EndedRetention:    20 * time.Millisecond,
		Resolver:          mockResolver{},
		Persona:           persona.Curator,
	})
	ended, _ := m.Create("u1")
	live, _ := m.Create("u2")
	if _, err := m.End(ended.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if _, err := m.Transcript(ended.ID); err != nil {
		t.Fatalf("Transcript() right after End error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for {
		_, err := m.Get(ended.ID)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ended session still present after retention, Get() error = %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := m.Get(live.ID); err != nil {
		t.Fatalf("active session evicted: Get() error = %v", err)
	}
}
