package catalog

import "errors"

var (
	// ErrCatalogUnavailable reports a missing or unreachable source.
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	// ErrCatalogCorrupt reports a source whose contents could not be decoded.
	ErrCatalogCorrupt = errors.New("catalog corrupt")
)

// ConditionKind classifies the outcome of a catalog load.
type ConditionKind string

const (
	ConditionOK          ConditionKind = "ok"
	ConditionUnavailable ConditionKind = "unavailable"
	ConditionCorrupt     ConditionKind = "corrupt"
)

// Condition describes how a load went. Non-OK conditions always come with an
// empty catalog and are safe to show to the user.
type Condition struct {
	Kind   ConditionKind `json:"kind"`
	Source string        `json:"source"`
	Detail string        `json:"detail,omitempty"`
}

func (c Condition) OK() bool { return c.Kind == ConditionOK || c.Kind == "" }

// Err returns the sentinel matching the condition, or nil when the load succeeded.
func (c Condition) Err() error {
	switch c.Kind {
	case ConditionUnavailable:
		return ErrCatalogUnavailable
	case ConditionCorrupt:
		return ErrCatalogCorrupt
	default:
		return nil
	}
}

func conditionFor(source string, err error) Condition {
	switch {
	case err == nil:
		return Condition{Kind: ConditionOK, Source: source}
	case errors.Is(err, ErrCatalogCorrupt):
		return Condition{Kind: ConditionCorrupt, Source: source, Detail: err.Error()}
	default:
		return Condition{Kind: ConditionUnavailable, Source: source, Detail: err.Error()}
	}
}
