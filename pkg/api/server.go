// Package api implements the thin public HTTP surface of spec.md §6: the
// read/write endpoints operators and tooling use to inspect the
// anchoring address, chain, and config, to manually submit a signature
// or a funding transaction outside the normal host-message path, and to
// probe liveness. Handlers are grouped one file per concern and
// registered on an httprouter.Router with explicit method+path pairs
// rather than net/http's ServeMux pattern matching.
package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/certen/btc-anchoring/pkg/anchor"
	"github.com/certen/btc-anchoring/pkg/database"
	"github.com/certen/btc-anchoring/pkg/hostchain"
	"github.com/certen/btc-anchoring/pkg/ledger"
)

// Server wires the anchoring schema, machine, and block oracle into an
// httprouter.Handler. Repos is optional: find-transaction uses its
// indexed lookup when set and walks the KV schema when nil; every other
// handler, transactions-count included, reads Schema alone.
type Server struct {
	Schema  *ledger.Schema
	Machine *anchor.Machine
	Oracle  hostchain.BlockOracle
	Repos   *database.Repositories
	Logger  *log.Logger

	router *httprouter.Router
}

// NewServer builds a Server and registers all nine routes.
func NewServer(schema *ledger.Schema, machine *anchor.Machine, oracle hostchain.BlockOracle, repos *database.Repositories) *Server {
	s := &Server{
		Schema:  schema,
		Machine: machine,
		Oracle:  oracle,
		Repos:   repos,
		Logger:  log.New(log.Writer(), "[API] ", log.LstdFlags),
		router:  httprouter.New(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/address/actual", s.handleAddressActual)
	s.router.GET("/address/following", s.handleAddressFollowing)
	s.router.GET("/find-transaction", s.handleFindTransaction)
	s.router.GET("/config", s.handleConfig)
	s.router.GET("/transaction", s.handleTransaction)
	s.router.GET("/transactions-count", s.handleTransactionsCount)
	s.router.POST("/sign-input", s.handleSignInput)
	s.router.POST("/add-funds", s.handleAddFunds)
	s.router.GET("/healthz", s.handleHealth)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
