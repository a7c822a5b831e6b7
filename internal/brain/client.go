// Package brain talks to the hosted language model: it owns client
// construction, credential checks and the per-instruction session handles.
package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/curator/internal/conversation"
)

var (
	// ErrCredentialMissing means no API key was configured. Fatal at startup.
	ErrCredentialMissing = errors.New("model credentials missing")
	// ErrCredentialInvalid means the provider rejected the API key. Fatal at startup.
	ErrCredentialInvalid = errors.New("model credentials invalid")
	// ErrModelConstruction means a session handle could not be built.
	ErrModelConstruction = errors.New("model construction failed")
	// ErrUpstreamCall wraps every failed send; recoverable per turn.
	ErrUpstreamCall = errors.New("upstream call failed")
)

// Role is the model provider's role vocabulary.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one history entry in the provider's vocabulary.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// FromTurns maps transcript turns onto provider messages, preserving order.
func FromTurns(turns []conversation.Turn) []Message {
	out := make([]Message, 0, len(turns))
	for _, t := range turns {
		role := RoleUser
		if t.Role == conversation.RoleAssistant {
			role = RoleModel
		}
		out = append(out, Message{Role: role, Text: t.Text})
	}
	return out
}

// Handle is a model session bound to one system instruction.
type Handle interface {
	Send(ctx context.Context, history []Message, text string) (string, error)
}

// Client builds handles for a provider.
type Client interface {
	Name() string
	NewSession(ctx context.Context, instruction string) (Handle, error)
}

// UpstreamError carries provider failure details. It matches ErrUpstreamCall
// and the underlying cause with errors.Is.
type UpstreamError struct {
	Provider string
	Status   int
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s upstream status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s upstream: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() []error { return []error{ErrUpstreamCall, e.Err} }

func (e *UpstreamError) StatusCode() int { return e.Status }

// Config controls client construction.
type Config struct {
	Mode          string
	APIKey        string
	Model         string
	HTTPURL       string
	VerifyOnStart bool
	Timeout       time.Duration
}

// NewClient picks a provider. In auto mode a Gemini API key wins, then an HTTP
// endpoint; with neither the credentials are missing and startup must stop.
// The mock provider is only used when asked for explicitly.
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewGeminiClient(ctx, cfg)
		}
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPClient(cfg.HTTPURL, cfg.APIKey, cfg.Timeout), nil
		}
		return nil, fmt.Errorf("%w: set GEMINI_API_KEY or BRAIN_HTTP_URL", ErrCredentialMissing)
	case "gemini":
		return NewGeminiClient(ctx, cfg)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, fmt.Errorf("%w: brain HTTP url is required for http mode", ErrModelConstruction)
		}
		return NewHTTPClient(cfg.HTTPURL, cfg.APIKey, cfg.Timeout), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported brain mode %q", ErrModelConstruction, cfg.Mode)
	}
}

// IsFatal reports whether err must stop session initialisation.
func IsFatal(err error) bool {
	return errors.Is(err, ErrCredentialMissing) ||
		errors.Is(err, ErrCredentialInvalid) ||
		errors.Is(err, ErrModelConstruction)
}
