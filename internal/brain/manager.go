package brain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ent0n29/curator/internal/persona"
	"github.com/ent0n29/curator/internal/reliability"
)

// Manager owns the model handle for the current instruction. Handles are built
// lazily, reused while the instruction is unchanged and never retried on failure.
type Manager struct {
	client Client
	logger *zap.Logger

	mu          sync.Mutex
	fingerprint string
	handle      Handle
	builds      int
}

func NewManager(client Client, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{client: client, logger: logger.Named("brain")}
}

func (m *Manager) Client() Client { return m.client }

// Session returns the handle for instruction, constructing it when the
// instruction differs from the cached one.
func (m *Manager) Session(ctx context.Context, instruction string) (Handle, error) {
	if m.client == nil {
		return nil, fmt.Errorf("%w: no model client configured", ErrModelConstruction)
	}
	fp := persona.Fingerprint(instruction)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != nil && m.fingerprint == fp {
		return m.handle, nil
	}

	h, err := m.client.NewSession(ctx, instruction)
	if err != nil {
		m.logger.Error("model session construction failed", zap.String("client", m.client.Name()), zap.Error(err))
		if IsFatal(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrModelConstruction, err)
	}
	m.handle = h
	m.fingerprint = fp
	m.builds++
	m.logger.Info("model session ready",
		zap.String("client", m.client.Name()),
		zap.String("instruction_fingerprint", fp[:12]),
		zap.Int("instruction_bytes", len(instruction)),
	)
	return h, nil
}

// Discard drops h from the cache when err shows it can no longer be used.
// It reports whether the handle was dropped.
func (m *Manager) Discard(h Handle, err error) bool {
	if !errors.Is(err, ErrCredentialInvalid) && reliability.Classify(err) != reliability.ClassInvalidCredentials {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != h {
		return false
	}
	m.handle = nil
	m.fingerprint = ""
	m.logger.Warn("model session discarded", zap.Error(err))
	return true
}

// Reset forces the next Session call to rebuild the handle.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handle = nil
	m.fingerprint = ""
}

// Builds reports how many handles have been constructed.
func (m *Manager) Builds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.builds
}
