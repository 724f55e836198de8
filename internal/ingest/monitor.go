package ingest

import (
	"encoding/json"
	"net/http"
)

// Index responds to GET / with the welcome banner filter operators use to
// confirm the server is reachable.
func (c *Controller) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Welcome to Vaulty!"))
}

// MonitorCache responds to GET /monitor/cache with a read-only snapshot of
// the session cache's processing metrics.
func (c *Controller) MonitorCache(w http.ResponseWriter, r *http.Request) {
	snap := c.Cache.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(snap)
}
