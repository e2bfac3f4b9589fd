package llm

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry is a thread-safe set of ModelBackends keyed by BackendID.
type Registry struct {
	backends map[BackendID]ModelBackend
	mu       sync.RWMutex
}

// NewRegistry creates a registry holding the given backends.
func NewRegistry(backends ...ModelBackend) *Registry {
	r := &Registry{backends: make(map[BackendID]ModelBackend, len(backends))}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

// Register adds a backend under its own ID, replacing any previous one.
func (r *Registry) Register(b ModelBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.ID()] = b
}

// Backend resolves a backend. An unknown id is a *ConfigurationError.
func (r *Registry) Backend(id BackendID) (ModelBackend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[id]
	if !ok {
		return nil, &ConfigurationError{Field: "backend", Reason: fmt.Sprintf("backend %q not registered", id)}
	}
	return b, nil
}

// IDs returns the sorted ids of all registered backends.
func (r *Registry) IDs() []BackendID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]BackendID, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backends)
}

// BackendConfig carries what a Factory needs to build a backend.
type BackendConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// Pricing overrides keyed by model id, in USD per million tokens.
	Pricing map[string]Rate
	// Extra carries vendor specific settings (e.g. OpenRouter attribution headers).
	Extra map[string]string
}

// Rate is a per-million-token price pair.
type Rate struct {
	Input  float64 `json:"input" yaml:"input"`
	Output float64 `json:"output" yaml:"output"`
}

// Factory builds a backend from config.
type Factory func(cfg BackendConfig, logger *zap.Logger) (ModelBackend, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[BackendID]Factory)
)

// RegisterFactory makes a backend constructor available to NewBackend.
// Vendor packages call it from init.
func RegisterFactory(id BackendID, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[id] = f
}

// NewBackend builds a backend through its registered Factory.
func NewBackend(id BackendID, cfg BackendConfig, logger *zap.Logger) (ModelBackend, error) {
	factoriesMu.RLock()
	f, ok := factories[id]
	factoriesMu.RUnlock()
	if !ok {
		return nil, &ConfigurationError{Field: "backend", Reason: fmt.Sprintf("no factory registered for %q", id)}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return f(cfg, logger)
}
