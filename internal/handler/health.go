package handler

import (
	"net/http"

	"github.com/pkordes/tripsync/spec"
)

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
}

// GetHealth handles GET /healthz.
// It returns HTTP 200 with {"status":"ok"} and the live websocket counts.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if s.sessions != nil {
		resp.Connections = s.sessions.Connections()
		resp.Rooms = s.sessions.Rooms()
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// GetOpenAPI handles GET /openapi.yaml.
func (s *Server) GetOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(spec.OpenAPI)
}
