package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/ent0n29/curator/internal/turn"
)

// StageTurn is the whole dispatch, from the user message to the terminal phase.
const StageTurn = "turn_total"

// resolveBudget bounds catalog lookup plus instruction compile; both are
// in-memory after the first load.
const resolveBudget = 250 * time.Millisecond

// StageLatency summarises one dispatch stage over the window.
type StageLatency struct {
	Stage      string  `json:"stage"`
	Samples    int     `json:"samples"`
	LastMS     float64 `json:"last_ms"`
	MeanMS     float64 `json:"mean_ms"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	MaxMS      float64 `json:"max_ms"`
	BudgetMS   float64 `json:"budget_ms,omitempty"`
	OverBudget int     `json:"over_budget"`
}

// FailureCount counts failed turns by diagnostic code since the last reset.
type FailureCount struct {
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
	Count     int    `json:"count"`
}

// LatencySnapshot is the payload of /v1/perf/latency.
type LatencySnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Fulfilled   int            `json:"fulfilled"`
	Failed      int            `json:"failed"`
	Stages      []StageLatency `json:"stages"`
	Failures    []FailureCount `json:"failures,omitempty"`
}

// StageBudgets derives per-stage latency budgets from the upstream timeout:
// a model call may use the whole timeout, and a turn adds grounding on top.
func StageBudgets(upstreamTimeout time.Duration) map[string]time.Duration {
	budgets := map[string]time.Duration{turn.StageResolveGrounding: resolveBudget}
	if upstreamTimeout > 0 {
		budgets[turn.StageUpstreamCall] = upstreamTimeout
		budgets[StageTurn] = upstreamTimeout + resolveBudget
	}
	return budgets
}

type sampleRing struct {
	buf  []time.Duration
	head int
	size int
}

func (r *sampleRing) add(d time.Duration) {
	r.buf[r.head] = d
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

func (r *sampleRing) latest() time.Duration {
	return r.buf[(r.head-1+len(r.buf))%len(r.buf)]
}

func (r *sampleRing) sorted() []time.Duration {
	out := make([]time.Duration, r.size)
	copy(out, r.buf[:r.size])
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// latencyWindow keeps the last N samples per stage and the turn outcome
// counts behind /v1/perf/latency.
type latencyWindow struct {
	capacity int
	budgets  map[string]time.Duration

	mu        sync.Mutex
	rings     map[string]*sampleRing
	fulfilled int
	failed    int
	failures  map[string]*FailureCount
}

func newLatencyWindow(capacity int, budgets map[string]time.Duration) *latencyWindow {
	if capacity <= 0 {
		capacity = 256
	}
	w := &latencyWindow{capacity: capacity, budgets: budgets}
	w.clear()
	return w
}

func (w *latencyWindow) clear() {
	w.rings = make(map[string]*sampleRing)
	w.failures = make(map[string]*FailureCount)
	w.fulfilled, w.failed = 0, 0
}

func (w *latencyWindow) observe(stage string, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rings[stage]
	if !ok {
		r = &sampleRing{buf: make([]time.Duration, w.capacity)}
		w.rings[stage] = r
	}
	r.add(d)
}

func (w *latencyWindow) observeOutcome(out turn.Outcome) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch out.Phase {
	case turn.PhaseFulfilled:
		w.fulfilled++
	case turn.PhaseFailed:
		w.failed++
		if out.Diagnostic == nil {
			return
		}
		fc, ok := w.failures[out.Diagnostic.Code]
		if !ok {
			fc = &FailureCount{Code: out.Diagnostic.Code, Retryable: out.Diagnostic.Retryable}
			w.failures[out.Diagnostic.Code] = fc
		}
		fc.Count++
	}
}

func (w *latencyWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clear()
}

func (w *latencyWindow) snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.capacity,
		Fulfilled:   w.fulfilled,
		Failed:      w.failed,
		Stages:      make([]StageLatency, 0, len(w.rings)),
	}
	for stage, r := range w.rings {
		snap.Stages = append(snap.Stages, w.summarize(stage, r))
	}
	sort.Slice(snap.Stages, func(i, j int) bool { return snap.Stages[i].Stage < snap.Stages[j].Stage })

	for _, fc := range w.failures {
		snap.Failures = append(snap.Failures, *fc)
	}
	sort.Slice(snap.Failures, func(i, j int) bool {
		if snap.Failures[i].Count != snap.Failures[j].Count {
			return snap.Failures[i].Count > snap.Failures[j].Count
		}
		return snap.Failures[i].Code < snap.Failures[j].Code
	})
	return snap
}

func (w *latencyWindow) summarize(stage string, r *sampleRing) StageLatency {
	samples := r.sorted()
	budget := w.budgets[stage]
	var total time.Duration
	over := 0
	for _, d := range samples {
		total += d
		if budget > 0 && d > budget {
			over++
		}
	}
	return StageLatency{
		Stage:      stage,
		Samples:    len(samples),
		LastMS:     millis(r.latest()),
		MeanMS:     millis(total / time.Duration(len(samples))),
		P50MS:      millis(nearestRank(samples, 50)),
		P95MS:      millis(nearestRank(samples, 95)),
		MaxMS:      millis(samples[len(samples)-1]),
		BudgetMS:   millis(budget),
		OverBudget: over,
	}
}

// nearestRank returns the smallest sample with at least pct percent of the
// samples at or below it. samples must be sorted and non-empty.
func nearestRank(samples []time.Duration, pct int) time.Duration {
	rank := (pct*len(samples) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return samples[rank-1]
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()/10) / 100
}
