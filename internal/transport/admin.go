package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// AdminServer exposes a Transport's aggregate state over HTTP, in the
// shape ocx/backend's internal/api.APIServer uses for its own engines:
// construct the engine, wrap it in a thin router.
type AdminServer struct {
	transport *Transport
}

// NewAdminServer wraps t for HTTP exposition.
func NewAdminServer(t *Transport) *AdminServer {
	return &AdminServer{transport: t}
}

// Router builds the mux.Router for this admin surface. Callers mount it
// directly or embed it under a larger router.
func (s *AdminServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/api/pool/stats", s.handlePoolStats).Methods(http.MethodGet)
	r.HandleFunc("/api/pool/workers", s.handleWorkers).Methods(http.MethodGet)
	return r
}

func (s *AdminServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *AdminServer) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"pool_size":         len(s.transport.workers),
		"total_components":  s.transport.GetNumIOComponents(),
		"checked_at":        time.Now().UTC(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

func (s *AdminServer) handleWorkers(w http.ResponseWriter, r *http.Request) {
	type workerStat struct {
		Index      int `json:"index"`
		Components int `json:"components"`
	}
	out := make([]workerStat, 0, len(s.transport.workers))
	for _, wk := range s.transport.workers {
		out = append(out, workerStat{Index: wk.Index(), Components: wk.GetNumIOComponents()})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
