// Package turn runs one user message through the model: append the user turn,
// replay prior turns as history, and append the reply or surface a diagnostic.
package turn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ent0n29/curator/internal/brain"
	"github.com/ent0n29/curator/internal/conversation"
	"github.com/ent0n29/curator/internal/grounding"
	"github.com/ent0n29/curator/internal/persona"
	"github.com/ent0n29/curator/internal/policy"
	"github.com/ent0n29/curator/internal/reliability"
)

type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseAwaitingUserInput Phase = "awaiting_user_input"
	PhaseDispatching       Phase = "dispatching"
	PhaseFulfilled         Phase = "fulfilled"
	PhaseFailed            Phase = "failed"
)

var (
	// ErrEmptyInput rejects blank messages; nothing is appended.
	ErrEmptyInput = errors.New("empty user input")
	// ErrBusy rejects a message while another dispatch runs on the same session.
	ErrBusy = errors.New("dispatch already in progress")
	// ErrNoGrounding marks a turn failed because the catalog is empty.
	ErrNoGrounding = errors.New("no catalog grounding available")
	// ErrSessionUnavailable marks a turn failed because no model handle exists.
	ErrSessionUnavailable = errors.New("model session unavailable")
)

// Diagnostic codes surfaced for failed turns, besides reliability class codes.
const (
	CodeGroundingUnavailable = "grounding_unavailable"
	CodeSessionUnavailable   = "session_unavailable"
)

// Stages reported through Hooks.OnStage.
const (
	StageResolveGrounding = "resolve_grounding"
	StageUpstreamCall     = "upstream_call"
)

// Diagnostic is the transient, user-visible message for a failed turn. It is
// never written to the transcript.
type Diagnostic struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Outcome reports a completed dispatch cycle.
type Outcome struct {
	Phase      Phase              `json:"phase"`
	UserTurn   conversation.Turn  `json:"user_turn"`
	Reply      *conversation.Turn `json:"reply,omitempty"`
	Diagnostic *Diagnostic        `json:"diagnostic,omitempty"`
	HistoryLen int                `json:"history_len"`
	Duration   time.Duration      `json:"-"`
	Err        error              `json:"-"`
}

// Resolver supplies grounding for a turn.
type Resolver interface {
	Resolve(ctx context.Context) (grounding.Grounding, error)
	Discard(h brain.Handle, err error) bool
}

// Hooks observe dispatcher activity; all fields are optional.
type Hooks struct {
	OnPhase   func(Phase)
	OnOutcome func(Outcome)
	OnStage   func(stage string, d time.Duration)
}

type Config struct {
	State        *conversation.State
	Resolver     Resolver
	Persona      persona.Persona
	HistoryLimit int
	Timeout      time.Duration
	Logger       *zap.Logger
	Hooks        Hooks
}

// Dispatcher serialises turns for one conversation.
type Dispatcher struct {
	state        *conversation.State
	resolver     Resolver
	persona      persona.Persona
	historyLimit int
	timeout      time.Duration
	logger       *zap.Logger
	hooks        Hooks

	sem   *semaphore.Weighted
	mu    sync.RWMutex
	phase Phase
}

func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		state:        cfg.State,
		resolver:     cfg.Resolver,
		persona:      cfg.Persona,
		historyLimit: cfg.HistoryLimit,
		timeout:      cfg.Timeout,
		logger:       logger.Named("turn"),
		hooks:        cfg.Hooks,
		sem:          semaphore.NewWeighted(1),
		phase:        PhaseIdle,
	}
}

func (d *Dispatcher) Phase() Phase {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.phase
}

func (d *Dispatcher) setPhase(p Phase) {
	d.mu.Lock()
	d.phase = p
	d.mu.Unlock()
	if d.hooks.OnPhase != nil {
		d.hooks.OnPhase(p)
	}
}

// Dispatch processes one user message to completion. Failed turns are not
// errors: they come back as an Outcome with PhaseFailed and a Diagnostic.
// The returned error is only ErrEmptyInput or ErrBusy, in which case nothing
// was appended. Cancelling ctx does not abort a running dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, text string) (Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return Outcome{Phase: d.Phase()}, ErrEmptyInput
	}
	if !d.sem.TryAcquire(1) {
		return Outcome{Phase: PhaseDispatching}, ErrBusy
	}
	defer d.sem.Release(1)

	ctx = context.WithoutCancel(ctx)
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	started := time.Now()
	d.setPhase(PhaseAwaitingUserInput)
	index := d.state.Len()
	userTurn := d.state.Append(conversation.Turn{Role: conversation.RoleUser, Text: text})
	d.setPhase(PhaseDispatching)

	out := d.run(ctx, index, text)
	out.UserTurn = userTurn
	out.Duration = time.Since(started)

	d.setPhase(out.Phase)
	d.logOutcome(out, text)
	if d.hooks.OnOutcome != nil {
		d.hooks.OnOutcome(out)
	}
	d.setPhase(PhaseIdle)
	return out, nil
}

func (d *Dispatcher) run(ctx context.Context, index int, text string) Outcome {
	resolveStart := time.Now()
	g, err := d.resolver.Resolve(ctx)
	d.observeStage(StageResolveGrounding, time.Since(resolveStart))

	if g.Block.Empty() {
		return d.fail(CodeGroundingUnavailable, d.persona.NoDataText, true, ErrNoGrounding)
	}
	if err != nil || g.Handle == nil {
		if err == nil {
			err = ErrSessionUnavailable
		}
		return d.fail(CodeSessionUnavailable, d.persona.BusyPrefix, false, errors.Join(ErrSessionUnavailable, err))
	}

	history := brain.FromTurns(d.state.Window(index, d.historyLimit))

	callStart := time.Now()
	reply, err := g.Handle.Send(ctx, history, text)
	d.observeStage(StageUpstreamCall, time.Since(callStart))
	if err != nil {
		d.resolver.Discard(g.Handle, err)
		class := reliability.Classify(err)
		out := d.fail(class.Code, d.persona.BusyPrefix+": "+class.Code, class.Retryable, err)
		out.HistoryLen = len(history)
		return out
	}

	assistant := d.state.Append(conversation.Turn{Role: conversation.RoleAssistant, Text: reply})
	return Outcome{Phase: PhaseFulfilled, Reply: &assistant, HistoryLen: len(history)}
}

func (d *Dispatcher) fail(code, message string, retryable bool, err error) Outcome {
	return Outcome{
		Phase:      PhaseFailed,
		Diagnostic: &Diagnostic{Code: code, Message: message, Retryable: retryable},
		Err:        err,
	}
}

func (d *Dispatcher) observeStage(stage string, dur time.Duration) {
	if d.hooks.OnStage != nil {
		d.hooks.OnStage(stage, dur)
	}
}

func (d *Dispatcher) logOutcome(out Outcome, text string) {
	fields := []zap.Field{
		zap.String("phase", string(out.Phase)),
		zap.String("user_text", policy.ForLog(text, 120)),
		zap.Int("history_len", out.HistoryLen),
		zap.Duration("duration", out.Duration),
	}
	if out.Phase == PhaseFulfilled {
		d.logger.Info("turn fulfilled", fields...)
		return
	}
	fields = append(fields, zap.String("code", out.Diagnostic.Code), zap.Error(out.Err))
	d.logger.Warn("turn failed", fields...)
}
