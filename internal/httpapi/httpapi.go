// Package httpapi exposes the configured cameras over a small JSON API:
// snapshots, face lists, the video switch, manual refreshes, face mapping
// options, a WebSocket event stream and Prometheus metrics.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trymwestin/aqara/internal/config"
	"github.com/trymwestin/aqara/internal/core/coordinator"
	"github.com/trymwestin/aqara/internal/core/registry"
	"github.com/trymwestin/aqara/internal/core/state"
	"github.com/trymwestin/aqara/internal/core/transport"
)

// Server is the HTTP API server.
type Server struct {
	reg     *registry.Registry
	cfg     *config.File // nil disables option persistence
	corsAll bool
	log     *slog.Logger
	router  chi.Router
	metrics *prometheus.Registry
}

// NewServer creates a new HTTP API server.
func NewServer(reg *registry.Registry, cfg *config.File, corsAll bool, log *slog.Logger) *Server {
	s := &Server{
		reg:     reg,
		cfg:     cfg,
		corsAll: corsAll,
		log:     log,
		router:  chi.NewRouter(),
		metrics: prometheus.NewRegistry(),
	}
	s.metrics.MustRegister(&collector{reg: reg, now: time.Now})
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	if !s.corsAll {
		return s.router
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.router.ServeHTTP(w, r)
	})
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/api/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	s.router.Get("/api/entries", s.handleListEntries)
	s.router.Post("/api/refresh-face-list", s.handleRefreshFaceListAction)

	s.router.Route("/api/entries/{entryID}", func(r chi.Router) {
		r.Get("/snapshot", s.handleGetSnapshot)
		r.Get("/faces", s.handleGetFaces)
		r.Get("/options", s.handleGetOptions)
		r.Put("/options", s.handlePutOptions)
		r.Get("/ws", s.handleWS)

		r.Post("/video", s.handleSetVideo)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/refresh-face-list", s.handleRefreshFaceList)
	})
}

func (s *Server) corsHeaders(w http.ResponseWriter) {
	if s.corsAll {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// errorStatus maps a domain error to an HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, registry.ErrNoEntry), errors.Is(err, config.ErrNoEntry):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrNoCoordinator):
		return http.StatusServiceUnavailable
	case errors.Is(err, transport.ErrInvalidAuth):
		return http.StatusUnauthorized
	case errors.Is(err, transport.ErrCannotConnect):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// entry resolves the {entryID} path parameter to a polled entry.
func (s *Server) entry(w http.ResponseWriter, r *http.Request) (*registry.Entry, bool) {
	e, err := s.reg.Get(chi.URLParam(r, "entryID"))
	if err == nil && e.Coordinator == nil {
		err = fmt.Errorf("%w: %s", registry.ErrNoCoordinator, e.ID)
	}
	if err != nil {
		s.writeError(w, errorStatus(err), err.Error())
		return nil, false
	}
	return e, true
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type entryResponse struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	SubjectID   string       `json:"subject_id"`
	Health      state.Health `json:"health"`
	HasSnapshot bool         `json:"has_snapshot"`
}

func (s *Server) handleListEntries(w http.ResponseWriter, _ *http.Request) {
	out := make([]entryResponse, 0)
	for _, e := range s.reg.List() {
		resp := entryResponse{ID: e.ID, Title: e.Title, SubjectID: e.SubjectID}
		if e.Coordinator != nil {
			resp.Health = e.Coordinator.State().Health()
			_, resp.HasSnapshot = e.Coordinator.Snapshot()
		}
		out = append(out, resp)
	}
	s.writeJSON(w, http.StatusOK, out)
}

type snapshotResponse struct {
	Health   state.Health    `json:"health"`
	Snapshot *state.Snapshot `json:"snapshot"`
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	resp := snapshotResponse{Health: e.Coordinator.State().Health()}
	if snap, ok := e.Coordinator.Snapshot(); ok {
		resp.Snapshot = &snap
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type facesResponse struct {
	Faces map[string]string `json:"faces"`
	Error string            `json:"error,omitempty"`
}

func (s *Server) handleGetFaces(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	faces, err := e.Coordinator.FaceMap(r.Context(), force)
	resp := facesResponse{Faces: faces}
	if err != nil {
		s.log.Warn("face map fetch failed", "entry_id", e.ID, "error", err)
		resp.Error = err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type enabledBody struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleSetVideo(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	var body enabledBody
	if err := s.readJSON(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if body.Enabled == nil {
		s.writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := e.Coordinator.SetVideo(r.Context(), *body.Enabled); err != nil {
		s.writeError(w, errorStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	if faces, _ := strconv.ParseBool(r.URL.Query().Get("faces")); faces {
		e.Coordinator.RequestFaceRefresh()
	} else {
		e.Coordinator.RequestRefresh()
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) handleRefreshFaceList(w http.ResponseWriter, r *http.Request) {
	s.refreshFaceList(w, r, chi.URLParam(r, "entryID"))
}

type faceListAction struct {
	EntryID string `json:"entry_id"`
}

// handleRefreshFaceListAction runs the operator action for entry_id, or for
// the sole entry when the body is empty or has no entry_id.
func (s *Server) handleRefreshFaceListAction(w http.ResponseWriter, r *http.Request) {
	var body faceListAction
	if err := s.readJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	s.refreshFaceList(w, r, strings.TrimSpace(body.EntryID))
}

// refreshFaceList answers with the listing even when notifying failed; the
// failure is only logged.
func (s *Server) refreshFaceList(w http.ResponseWriter, r *http.Request, entryID string) {
	msg, err := s.reg.RefreshFaceList(r.Context(), entryID)
	if err != nil && msg == "" {
		s.writeError(w, errorStatus(err), err.Error())
		return
	}
	if err != nil {
		s.log.Warn("face list notification failed", "error", err)
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

type optionsBody struct {
	FaceNameMap map[string]string `json:"face_name_map"`
	FaceIDMap   map[string]string `json:"face_id_map"`
}

func (s *Server) handleGetOptions(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	m := e.Coordinator.Mappings()
	s.writeJSON(w, http.StatusOK, optionsBody{FaceNameMap: m.ByName, FaceIDMap: m.ByID})
}

// handlePutOptions replaces both mapping tables. Empty keys and values are
// dropped. The new tables apply from the next cycle.
func (s *Server) handlePutOptions(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	var body optionsBody
	if err := s.readJSON(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	m := coordinator.Mappings{
		ByName: config.CleanMapping(body.FaceNameMap),
		ByID:   config.CleanMapping(body.FaceIDMap),
	}

	if s.cfg != nil {
		err := s.cfg.Update(func(c *config.Config) error {
			ec, err := c.Entry(e.ID)
			if err != nil {
				return err
			}
			ec.Options = config.OptionsConfig{FaceNameMap: m.ByName, FaceIDMap: m.ByID}
			return nil
		})
		if err != nil {
			s.log.Error("failed to persist options", "entry_id", e.ID, "error", err)
			s.writeError(w, errorStatus(err), err.Error())
			return
		}
	}

	e.Coordinator.SetMappings(m)
	s.log.Info("face mappings updated", "entry_id", e.ID, "by_name", len(m.ByName), "by_id", len(m.ByID))
	s.writeJSON(w, http.StatusOK, optionsBody{FaceNameMap: m.ByName, FaceIDMap: m.ByID})
}
