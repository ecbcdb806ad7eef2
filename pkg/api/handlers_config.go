package api

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// handleConfig handles GET /config: the full anchoring config active at
// the host chain's current height.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	cfg, err := s.Schema.ActiveConfig(s.Oracle.Height())
	if err != nil {
		writeError(w, http.StatusNotFound, "no active config: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
