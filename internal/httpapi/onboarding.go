package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/curator/internal/catalog"
)

type onboardingCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type onboardingStatusResponse struct {
	BrainMode     string            `json:"brain_mode"`
	BrainProvider string            `json:"brain_provider"`
	CatalogSource string            `json:"catalog_source"`
	Checks        []onboardingCheck `json:"checks"`
}

func (s *Server) handleOnboardingStatus(w http.ResponseWriter, r *http.Request) {
	mode := strings.ToLower(strings.TrimSpace(s.cfg.BrainMode))
	if mode == "" {
		mode = "auto"
	}

	checks := make([]onboardingCheck, 0, 6)
	checks = append(checks, s.brainChecks(mode)...)

	source := "file:" + s.cfg.CatalogPath
	if s.cfg.CatalogDatabaseURL != "" {
		source = "postgres"
	}
	checks = append(checks, s.catalogChecks(r.Context())...)

	if s.cfg.HistoryMaxTurns > 0 {
		checks = append(checks, onboardingCheck{
			ID:     "history_window",
			Status: "ok",
			Label:  "Conversation history",
			Detail: fmt.Sprintf("last %d turns replayed", s.cfg.HistoryMaxTurns),
		})
	} else {
		checks = append(checks, onboardingCheck{
			ID:     "history_window",
			Status: "ok",
			Label:  "Conversation history",
			Detail: "full transcript replayed",
			Fix:    "Set HISTORY_MAX_TURNS to bound very long conversations.",
		})
	}

	respondJSON(w, http.StatusOK, onboardingStatusResponse{
		BrainMode:     mode,
		BrainProvider: s.brainName,
		CatalogSource: source,
		Checks:        checks,
	})
}

func (s *Server) brainChecks(mode string) []onboardingCheck {
	var checks []onboardingCheck
	key := strings.TrimSpace(s.cfg.GeminiAPIKey)
	httpURL := strings.TrimSpace(s.cfg.BrainHTTPURL)

	switch mode {
	case "mock":
		checks = append(checks, onboardingCheck{
			ID:     "brain_mock",
			Status: "warn",
			Label:  "Model is mock",
			Detail: "Replies are echoes, not recommendations.",
			Fix:    "Set GEMINI_API_KEY and BRAIN_MODE=gemini.",
		})
	case "http":
		checks = append(checks, httpEndpointCheck(httpURL))
	default:
		if key == "" && (mode == "gemini" || httpURL == "") {
			checks = append(checks, onboardingCheck{
				ID:     "gemini_key",
				Status: "error",
				Label:  "Gemini API key",
				Detail: "GEMINI_API_KEY is not set",
				Fix:    "Export GEMINI_API_KEY before starting the server.",
			})
			break
		}
		if key != "" {
			checks = append(checks, onboardingCheck{
				ID:     "gemini_key",
				Status: "ok",
				Label:  "Gemini API key",
				Detail: "present (model " + s.cfg.GeminiModel + ")",
			})
			if !s.cfg.GeminiVerifyOnStart {
				checks = append(checks, onboardingCheck{
					ID:     "gemini_verify",
					Status: "warn",
					Label:  "Gemini key verification",
					Detail: "key is checked on the first turn only",
					Fix:    "Set GEMINI_VERIFY_ON_START=true to reject a bad key at startup.",
				})
			}
			break
		}
		checks = append(checks, httpEndpointCheck(httpURL))
	}
	return checks
}

func (s *Server) catalogChecks(ctx context.Context) []onboardingCheck {
	if s.catalog == nil {
		return []onboardingCheck{{ID: "catalog", Status: "error", Label: "Book catalog", Detail: "not configured"}}
	}
	c, cond := s.catalog.Catalog(ctx)
	switch cond.Kind {
	case catalog.ConditionUnavailable:
		return []onboardingCheck{{
			ID:     "catalog",
			Status: "error",
			Label:  "Book catalog",
			Detail: cond.Detail,
			Fix:    "Place library_database.json next to the binary or set CATALOG_PATH.",
		}}
	case catalog.ConditionCorrupt:
		return []onboardingCheck{{
			ID:     "catalog",
			Status: "error",
			Label:  "Book catalog",
			Detail: cond.Detail,
			Fix:    "The catalog must be a JSON or YAML list of book objects.",
		}}
	}
	if c.Empty() {
		return []onboardingCheck{{ID: "catalog", Status: "warn", Label: "Book catalog", Detail: "catalog is empty"}}
	}
	stats := c.Stats()
	return []onboardingCheck{{
		ID:     "catalog",
		Status: "ok",
		Label:  "Book catalog",
		Detail: fmt.Sprintf("%d books (%d Vietnamese, %d English)", stats.Total, stats.Vietnamese, stats.English),
	}}
}

func httpEndpointCheck(raw string) onboardingCheck {
	check := onboardingCheck{ID: "brain_http", Label: "Model HTTP endpoint"}
	if raw == "" {
		check.Status = "error"
		check.Detail = "BRAIN_HTTP_URL is not set"
		check.Fix = "Set BRAIN_HTTP_URL or GEMINI_API_KEY."
		return check
	}
	if err := probeTCP(raw); err != nil {
		check.Status = "warn"
		check.Detail = fmt.Sprintf("%s unreachable: %v", raw, err)
		return check
	}
	check.Status = "ok"
	check.Detail = raw
	return check
}

func probeTCP(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	host := strings.TrimSpace(u.Host)
	if host == "" {
		return fmt.Errorf("host missing")
	}
	addr := host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}
	c, err := net.DialTimeout("tcp", addr, 250*time.Millisecond)
	if err != nil {
		return err
	}
	_ = c.Close()
	return nil
}
