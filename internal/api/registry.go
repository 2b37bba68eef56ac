package api

import (
	"sync"

	"github.com/google/uuid"
	"github.com/spatialscope/server/internal/cache"
	"github.com/spatialscope/server/internal/dataset"
	"github.com/spatialscope/server/internal/render"
	"github.com/spatialscope/server/internal/session"
)

// DatasetInfo contains information about a dataset for the API response.
type DatasetInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Cells   int    `json:"cells"`
	Channel int    `json:"channels"`
}

// Registry holds the loaded datasets and the live viewer sessions.
// Sessions are independent viewers: two clients exploring the same
// dataset each get their own view transform, filters, and gate state.
type Registry struct {
	mu sync.Mutex

	datasets       map[string]*dataset.Dataset
	datasetOrder   []string
	defaultDataset string
	title          string

	sessionCfg session.Config
	renderer   *render.Renderer
	caches     *cache.Manager

	sessions map[string]*session.Session
}

// RegistryConfig wires the shared pieces every session uses.
type RegistryConfig struct {
	DefaultDataset string
	Title          string
	SessionConfig  session.Config
	Renderer       *render.Renderer
	Caches         *cache.Manager
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		datasets:       make(map[string]*dataset.Dataset),
		defaultDataset: cfg.DefaultDataset,
		title:          cfg.Title,
		sessionCfg:     cfg.SessionConfig,
		renderer:       cfg.Renderer,
		caches:         cfg.Caches,
		sessions:       make(map[string]*session.Session),
	}
}

// RegisterDataset adds a loaded dataset under an id.
func (r *Registry) RegisterDataset(id string, ds *dataset.Dataset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.datasets[id]; !ok {
		r.datasetOrder = append(r.datasetOrder, id)
	}
	r.datasets[id] = ds
}

// Dataset returns a registered dataset, or nil.
func (r *Registry) Dataset(id string) *dataset.Dataset {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.datasets[id]
}

// DefaultDatasetID returns the default dataset ID.
func (r *Registry) DefaultDatasetID() string {
	return r.defaultDataset
}

// Title returns the configured site title.
func (r *Registry) Title() string {
	if r.title != "" {
		return r.title
	}
	return "spatialscope"
}

// Datasets returns dataset info for all registered datasets in
// registration order.
func (r *Registry) Datasets() []DatasetInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := make([]DatasetInfo, 0, len(r.datasetOrder))
	for _, id := range r.datasetOrder {
		ds := r.datasets[id]
		infos = append(infos, DatasetInfo{
			ID:      id,
			Name:    ds.Name,
			Cells:   len(ds.Entities),
			Channel: ds.Channels.Len(),
		})
	}
	return infos
}

// OpenSession creates a new viewer session on a dataset and returns it.
func (r *Registry) OpenSession(datasetID string) (*session.Session, error) {
	r.mu.Lock()
	ds := r.datasets[datasetID]
	r.mu.Unlock()
	if ds == nil {
		return nil, &notFoundError{what: "dataset", id: datasetID}
	}

	s := session.New(uuid.NewString(), r.sessionCfg, r.renderer, r.caches)
	if err := s.LoadDataset(ds); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
	return s, nil
}

// Session returns a live session, or nil.
func (r *Registry) Session(id string) *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// CloseSession drops a session. Returns false if it did not exist.
func (r *Registry) CloseSession(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// TickAll advances every session's frame scheduler once. The serving
// layer calls this from a ticker goroutine so dirty sessions repaint
// into the frame cache between requests.
func (r *Registry) TickAll() {
	r.mu.Lock()
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		s.Scheduler().Tick()
	}
}

type notFoundError struct {
	what, id string
}

func (e *notFoundError) Error() string {
	return e.what + " not found: " + e.id
}
