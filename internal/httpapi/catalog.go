package httpapi

import (
	"net/http"

	"github.com/ent0n29/curator/internal/catalog"
	"github.com/ent0n29/curator/internal/persona"
)

type catalogStatsResponse struct {
	catalog.Stats
	Condition catalog.Condition `json:"condition"`
	// Notice is set when there is nothing to count.
	Notice string `json:"notice,omitempty"`
}

func (s *Server) handleCatalogStats(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "catalog not configured")
		return
	}
	c, cond := s.catalog.Catalog(r.Context())
	respondJSON(w, http.StatusOK, statsResponse(c, cond))
}

func (s *Server) handleCatalogReload(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "catalog not configured")
		return
	}
	c, cond := s.catalog.Reload(r.Context())
	s.metrics.SessionEvents.WithLabelValues("catalog_reloaded").Inc()
	respondJSON(w, http.StatusOK, statsResponse(c, cond))
}

func statsResponse(c catalog.Catalog, cond catalog.Condition) catalogStatsResponse {
	resp := catalogStatsResponse{Stats: c.Stats(), Condition: cond}
	if c.Empty() {
		resp.Notice = persona.EmptyCatalogNotice
	}
	return resp
}
