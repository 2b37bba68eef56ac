// Package api exposes viewer sessions over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spatialscope/server/internal/gate"
	"github.com/spatialscope/server/internal/session"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *Registry
	CORSOrigins []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Global endpoints (not session-scoped)
	r.Get("/api/datasets", datasetsHandler(cfg.Registry))
	r.Post("/api/sessions", sessionOpenHandler(cfg.Registry))

	// Session-scoped routes: /api/sessions/{session}/...
	r.Route("/api/sessions/{session}", func(r chi.Router) {
		r.Use(sessionMiddleware(cfg.Registry))

		r.Delete("/", sessionCloseHandler(cfg.Registry))
		r.Get("/", sessionStateHandler)

		// View operations
		r.Get("/view", viewHandler)
		r.Post("/view/viewport", viewportHandler)
		r.Post("/view/pan", panHandler)
		r.Post("/view/zoom", zoomHandler)
		r.Post("/view/reset", viewResetHandler)

		// Coloring and filtering
		r.Get("/categories", categoriesHandler)
		r.Post("/categories/{label}", categoryVisibilityHandler)
		r.Get("/channels", channelsHandler)
		r.Post("/channel", channelHandler)
		r.Post("/gate", gateHandler)

		// Picking
		r.Get("/pick", pickHandler)
		r.Post("/hover", hoverHandler)
		r.Post("/select", selectHandler)
		r.Get("/entities/{id}", entityHandler)

		// Frame output
		r.Get("/frame.png", frameHandler)
	})

	return r
}

// Context key for the resolved session
type ctxKey string

const sessionKey ctxKey = "session"

// sessionMiddleware resolves the session from the URL and injects it
// into the request context.
func sessionMiddleware(registry *Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := chi.URLParam(r, "session")
			s := registry.Session(sessionID)
			if s == nil {
				http.Error(w, "session not found: "+sessionID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), sessionKey, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getSession(r *http.Request) *session.Session {
	if s, ok := r.Context().Value(sessionKey).(*session.Session); ok {
		return s
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		})
	}
}

type sessionOpenRequest struct {
	Dataset string `json:"dataset"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// sessionOpenHandler creates a new viewer session on a dataset.
func sessionOpenHandler(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessionOpenRequest
		// An empty body opens a session on the default dataset.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Dataset == "" {
			req.Dataset = registry.DefaultDatasetID()
		}

		s, err := registry.OpenSession(req.Dataset)
		if err != nil {
			status := http.StatusInternalServerError
			if strings.Contains(err.Error(), "not found") {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		if req.Width > 0 && req.Height > 0 {
			// Refit: the dataset was loaded before the viewport was known.
			s.SetViewport(req.Width, req.Height)
			s.ResetView()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"session_id": s.ID(),
			"dataset":    req.Dataset,
			"index":      s.IndexKind(),
		})
	}
}

func sessionCloseHandler(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "session")
		if !registry.CloseSession(sessionID) {
			http.Error(w, "session not found: "+sessionID, http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]interface{}{
			"session_id": sessionID,
			"closed":     true,
		})
	}
}

// sessionStateHandler returns a snapshot of the session state.
func sessionStateHandler(w http.ResponseWriter, r *http.Request) {
	s := getSession(r)
	ds := s.Dataset()

	resp := map[string]interface{}{
		"session_id":    s.ID(),
		"state_version": s.StateVersion(),
		"channel":       s.ActiveChannel(),
		"hovered":       s.Hovered(),
		"selected":      s.Selected(),
		"index":         s.IndexKind(),
	}
	if ds != nil {
		resp["dataset"] = ds.Name
		resp["cells"] = len(ds.Entities)
	}
	if result := s.GateResult(); result != nil {
		resp["gate_matches"] = result.MatchCount
	}
	writeJSON(w, resp)
}

func viewHandler(w http.ResponseWriter, r *http.Request) {
	s := getSession(r)
	t := s.Transform()
	writeJSON(w, map[string]interface{}{
		"scale": t.Scale,
		"tx":    t.TX,
		"ty":    t.TY,
	})
}

type viewportRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func viewportHandler(w http.ResponseWriter, r *http.Request) {
	var req viewportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Width <= 0 || req.Height <= 0 {
		http.Error(w, "width and height must be positive", http.StatusBadRequest)
		return
	}
	s := getSession(r)
	s.SetViewport(req.Width, req.Height)
	viewHandler(w, r)
}

type panRequest struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

func panHandler(w http.ResponseWriter, r *http.Request) {
	var req panRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !isFinite(req.DX) || !isFinite(req.DY) {
		http.Error(w, "dx and dy must be finite", http.StatusBadRequest)
		return
	}
	s := getSession(r)
	s.Pan(req.DX, req.DY)
	viewHandler(w, r)
}

type zoomRequest struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Ratio float64 `json:"ratio"`
}

func zoomHandler(w http.ResponseWriter, r *http.Request) {
	var req zoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !isFinite(req.X) || !isFinite(req.Y) || !isFinite(req.Ratio) || req.Ratio <= 0 {
		http.Error(w, "x, y must be finite and ratio positive", http.StatusBadRequest)
		return
	}
	s := getSession(r)
	s.ZoomAt(req.X, req.Y, req.Ratio)
	viewHandler(w, r)
}

func viewResetHandler(w http.ResponseWriter, r *http.Request) {
	s := getSession(r)
	s.ResetView()
	viewHandler(w, r)
}

type categoryItem struct {
	Label   string `json:"label"`
	Color   string `json:"color"`
	Visible bool   `json:"visible"`
}

func categoriesHandler(w http.ResponseWriter, r *http.Request) {
	s := getSession(r)
	ds := s.Dataset()
	if ds == nil {
		http.Error(w, session.ErrNoDataset.Error(), http.StatusConflict)
		return
	}

	entries := ds.Categories.Entries()
	items := make([]categoryItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, categoryItem{
			Label:   e.Label,
			Color:   fmt.Sprintf("#%02x%02x%02x", e.Color.R, e.Color.G, e.Color.B),
			Visible: e.Visible,
		})
	}
	writeJSON(w, map[string]interface{}{
		"categories": items,
		"total":      len(items),
	})
}

type categoryVisibilityRequest struct {
	Visible bool `json:"visible"`
}

func categoryVisibilityHandler(w http.ResponseWriter, r *http.Request) {
	var req categoryVisibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	s := getSession(r)
	ds := s.Dataset()
	if ds == nil {
		http.Error(w, session.ErrNoDataset.Error(), http.StatusConflict)
		return
	}
	label := chi.URLParam(r, "label")
	// Labels may contain spaces; chi hands back the escaped segment.
	if unescaped, err := url.PathUnescape(label); err == nil {
		label = unescaped
	}
	if _, ok := ds.Categories.Lookup(label); !ok {
		http.Error(w, "category not found: "+label, http.StatusNotFound)
		return
	}

	s.SetCategoryVisible(label, req.Visible)
	writeJSON(w, map[string]interface{}{
		"label":   label,
		"visible": req.Visible,
	})
}

func channelsHandler(w http.ResponseWriter, r *http.Request) {
	s := getSession(r)
	ds := s.Dataset()
	if ds == nil {
		http.Error(w, session.ErrNoDataset.Error(), http.StatusConflict)
		return
	}
	names := ds.Channels.Names()
	writeJSON(w, map[string]interface{}{
		"channels": names,
		"total":    len(names),
		"active":   s.ActiveChannel(),
	})
}

type channelRequest struct {
	Name string `json:"name"`
}

func channelHandler(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	s := getSession(r)
	if err := s.SetActiveChannel(req.Name); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, session.ErrUnknownChannel) {
			status = http.StatusNotFound
		} else if errors.Is(err, session.ErrNoDataset) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, map[string]interface{}{
		"channel": s.ActiveChannel(),
	})
}

type gateRequest struct {
	Conditions []gate.Condition `json:"conditions"`
	Expression string           `json:"expression"`
	Enabled    bool             `json:"enabled"`
}

func gateHandler(w http.ResponseWriter, r *http.Request) {
	var req gateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	s := getSession(r)
	status, err := s.SetGate(req.Conditions, req.Expression, req.Enabled)
	if errors.Is(err, session.ErrNoDataset) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	// A compile error is part of the status payload, not an HTTP failure:
	// the client shows it inline next to the expression input.
	writeJSON(w, status)
}

func parseScreenPoint(r *http.Request) (float64, float64, error) {
	x, err := strconv.ParseFloat(r.URL.Query().Get("x"), 64)
	if err != nil || !isFinite(x) {
		return 0, 0, errors.New("invalid x")
	}
	y, err := strconv.ParseFloat(r.URL.Query().Get("y"), 64)
	if err != nil || !isFinite(y) {
		return 0, 0, errors.New("invalid y")
	}
	return x, y, nil
}

func pickHandler(w http.ResponseWriter, r *http.Request) {
	x, y, err := parseScreenPoint(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s := getSession(r)
	id := s.Pick(x, y)
	resp := map[string]interface{}{"id": id}
	if id != 0 {
		if e := s.Dataset().ByID(id); e != nil {
			resp["entity"] = entityJSON(s, e.ID)
		}
	}
	writeJSON(w, resp)
}

type pointRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func hoverHandler(w http.ResponseWriter, r *http.Request) {
	var req pointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !isFinite(req.X) || !isFinite(req.Y) {
		http.Error(w, "x and y must be finite", http.StatusBadRequest)
		return
	}
	s := getSession(r)
	writeJSON(w, map[string]interface{}{"id": s.Hover(req.X, req.Y)})
}

func selectHandler(w http.ResponseWriter, r *http.Request) {
	var req pointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !isFinite(req.X) || !isFinite(req.Y) {
		http.Error(w, "x and y must be finite", http.StatusBadRequest)
		return
	}
	s := getSession(r)
	writeJSON(w, map[string]interface{}{"id": s.Select(req.X, req.Y)})
}

func entityJSON(s *session.Session, id int32) map[string]interface{} {
	ds := s.Dataset()
	e := ds.ByID(id)
	if e == nil {
		return nil
	}
	values := make(map[string]float32, ds.Channels.Len())
	for slot, name := range ds.Channels.Names() {
		values[name] = e.Values[slot]
	}
	return map[string]interface{}{
		"id":       e.ID,
		"key":      e.Key,
		"x":        e.X,
		"y":        e.Y,
		"category": e.Category,
		"values":   values,
	}
}

func entityHandler(w http.ResponseWriter, r *http.Request) {
	s := getSession(r)
	ds := s.Dataset()
	if ds == nil {
		http.Error(w, session.ErrNoDataset.Error(), http.StatusConflict)
		return
	}

	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 32)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	payload := entityJSON(s, int32(id))
	if payload == nil {
		http.Error(w, "entity not found: "+idStr, http.StatusNotFound)
		return
	}
	writeJSON(w, payload)
}

const (
	defaultFrameWidth  = 1024
	defaultFrameHeight = 768
	maxFrameDim        = 4096
)

func parseFrameDim(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, errors.New("invalid frame dimension: " + raw)
	}
	if v > maxFrameDim {
		v = maxFrameDim
	}
	return v, nil
}

func frameHandler(w http.ResponseWriter, r *http.Request) {
	width, err := parseFrameDim(r.URL.Query().Get("width"), defaultFrameWidth)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	height, err := parseFrameDim(r.URL.Query().Get("height"), defaultFrameHeight)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s := getSession(r)
	data, err := s.RenderFrame(width, height)
	if err != nil {
		if errors.Is(err, session.ErrNoDataset) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	// Frames are state-dependent, never let intermediaries cache them.
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
