package api

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// handleAddressActual handles GET /address/actual: the P2WSH address the
// anchoring state machine currently proposes and signs against.
func (s *Server) handleAddressActual(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	cfg, err := s.Schema.ActiveConfig(s.Oracle.Height())
	if err != nil {
		writeError(w, http.StatusNotFound, "no active config: "+err.Error())
		return
	}
	addr, err := cfg.Address()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "derive address: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":     addr,
		"actual_from": cfg.ActualFrom,
	})
}

// handleAddressFollowing handles GET /address/following: the address the
// chain will move to on its next config change, if one is already
// committed, so validators can prepare ahead of a transition.
func (s *Server) handleAddressFollowing(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	cfg, ok, err := s.Schema.FollowingConfig(s.Oracle.Height())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup following config: "+err.Error())
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"following": false})
		return
	}
	addr, err := cfg.Address()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "derive address: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"following":   true,
		"address":     addr,
		"actual_from": cfg.ActualFrom,
	})
}
