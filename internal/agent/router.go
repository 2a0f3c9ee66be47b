package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Rrens/sales-copilot/internal/domain"
)

// Router resolves an agent mode to the endpoint of its runtime
type Router struct {
	endpoints map[domain.AgentMode]string
	mu        sync.RWMutex
}

// NewRouter creates a router from a mode -> URL map. Blank URLs are skipped.
func NewRouter(endpoints map[string]string) *Router {
	r := &Router{endpoints: make(map[domain.AgentMode]string)}
	for mode, url := range endpoints {
		r.Register(domain.AgentMode(mode), url)
	}
	return r
}

// Register sets the endpoint for a mode
func (r *Router) Register(mode domain.AgentMode, url string) {
	url = strings.TrimSpace(url)
	if mode == "" || url == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[mode] = url
}

// Resolve returns the endpoint for mode or ErrAgentNotConfigured
func (r *Router) Resolve(mode domain.AgentMode) (string, error) {
	if mode == "" {
		return "", fmt.Errorf("%w: empty agent mode", domain.ErrAgentNotConfigured)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	url, ok := r.endpoints[mode]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrAgentNotConfigured, mode)
	}
	return url, nil
}

// Modes returns the configured agent modes in lexical order
func (r *Router) Modes() []domain.AgentMode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modes := make([]domain.AgentMode, 0, len(r.endpoints))
	for mode := range r.endpoints {
		modes = append(modes, mode)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })
	return modes
}
