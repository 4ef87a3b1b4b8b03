package server

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gorilla/mux"

	"github.com/calign/retime/internal/errors"
	"github.com/calign/retime/internal/video"
	"github.com/calign/retime/pkg/version"
)

// statsResponse is the /api/v1/stats payload consumed by retime-top.
type statsResponse struct {
	SessionID       string          `json:"session_id"`
	FramesIn        uint64          `json:"frames_in"`
	FramesOut       uint64          `json:"frames_out"`
	Errors          uint64          `json:"errors"`
	FramesBlended   uint64          `json:"frames_blended"`
	FramesCloned    uint64          `json:"frames_cloned"`
	FramesDropped   uint64          `json:"frames_dropped"`
	Discontinuities uint64          `json:"discontinuities"`
	SceneFallbacks  uint64          `json:"scene_fallbacks"`
	SceneScore      float64         `json:"scene_score"`
	Flushing        bool            `json:"flushing"`
	Budget          *budgetResponse `json:"budget,omitempty"`
}

type budgetResponse struct {
	UsageBytes int64   `json:"usage_bytes"`
	LimitBytes int64   `json:"limit_bytes"`
	Pressure   float64 `json:"pressure"`
	Rejected   int64   `json:"rejected"`
	Sessions   int     `json:"sessions"`
}

// sessionResponse is the /api/v1/session payload.
type sessionResponse struct {
	SessionID     string         `json:"session_id"`
	StartedAt     time.Time      `json:"started_at"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	FramesIn      uint64         `json:"frames_in"`
	FramesOut     uint64         `json:"frames_out"`
	Memory        []sessionUsage `json:"memory,omitempty"`
}

type sessionUsage struct {
	SessionID  string  `json:"session_id"`
	UsageBytes int64   `json:"usage_bytes"`
	Percent    float64 `json:"percent"`
}

// handleVersion handles the /version endpoint
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	versionInfo := version.GetInfo()

	w.Header().Set("Cache-Control", "public, max-age=3600")

	if err := s.writeJSON(w, http.StatusOK, versionInfo); err != nil {
		s.logger.WithError(err).Error("Failed to encode version response")
	}
}

// handleIndex describes the service and its endpoints at the root path.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	index := struct {
		Service   string   `json:"service"`
		Version   string   `json:"version"`
		Endpoints []string `json:"endpoints"`
	}{
		Service: "retime",
		Version: version.GetInfo().Version,
		Endpoints: []string{
			"/health", "/ready", "/live", "/version", "/metrics",
			"/api/v1/stats", "/api/v1/session",
		},
	}

	if err := s.writeJSON(w, http.StatusOK, index); err != nil {
		s.logger.WithError(err).Error("Failed to encode index response")
	}
}

// handleStats reports live conversion counters for the active session.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		s.writeError(w, r, errors.NewNotFoundError("conversion session"))
		return
	}

	st := s.source.GetStats()
	resp := statsResponse{
		SessionID:       st.SessionID,
		FramesIn:        st.FramesIn,
		FramesOut:       st.FramesOut,
		Errors:          st.Errors,
		FramesBlended:   st.Converter.FramesBlended,
		FramesCloned:    st.Converter.FramesCloned,
		FramesDropped:   st.Converter.FramesDropped,
		Discontinuities: st.Converter.Discontinuities,
		SceneFallbacks:  st.Converter.SceneFallbacks,
		SceneScore:      st.Converter.SceneScore,
		Flushing:        st.Converter.Flushing,
		Budget:          budgetSection(s.budget),
	}

	if err := s.writeJSON(w, http.StatusOK, resp); err != nil {
		s.logger.WithError(err).Error("Failed to encode stats response")
	}
}

// handleSession reports session metadata and per-session memory shares.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		s.writeError(w, r, errors.NewNotFoundError("conversion session"))
		return
	}

	st := s.source.GetStats()
	resp := sessionResponse{
		SessionID:     s.source.SessionID(),
		StartedAt:     s.startTime,
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		FramesIn:      st.FramesIn,
		FramesOut:     st.FramesOut,
	}
	if s.budget != nil {
		for _, sess := range s.budget.Stats().Sessions {
			resp.Memory = append(resp.Memory, sessionUsage{
				SessionID:  sess.SessionID,
				UsageBytes: sess.Usage,
				Percent:    sess.Percent,
			})
		}
	}

	if err := s.writeJSON(w, http.StatusOK, resp); err != nil {
		s.logger.WithError(err).Error("Failed to encode session response")
	}
}

func budgetSection(budget *video.Budget) *budgetResponse {
	if budget == nil {
		return nil
	}
	st := budget.Stats()
	return &budgetResponse{
		UsageBytes: st.Usage,
		LimitBytes: st.Limit,
		Pressure:   st.Pressure,
		Rejected:   st.RejectedCount,
		Sessions:   len(st.Sessions),
	}
}

// registerPprof mounts the net/http/pprof handlers on the router. The
// blank-import registration only reaches http.DefaultServeMux, which
// this server does not use.
func registerPprof(router *mux.Router) {
	router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	router.HandleFunc("/debug/pprof/trace", pprof.Trace)
	router.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
}

// writeJSON is a helper to write JSON responses
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// writeError is a helper to write error responses
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.errorHandler.HandleError(w, r, err)
}
