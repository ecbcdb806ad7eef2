package api

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// handleHealth handles GET /healthz. When a read-model database is
// configured it reports that database's connection health; otherwise
// the node is running off the KV schema alone and is reported healthy
// by virtue of having served the request at all.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.Repos == nil || s.Repos.Client == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"healthy": true, "read_model": "disabled"})
		return
	}
	status := s.Repos.Client.Health(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
