package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
)

// ProviderStatus describes one registered provider for listings.
type ProviderStatus struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
}

// Gateway holds the registered providers and the process-wide active
// selection. Switching takes effect on the next generation call: callers
// capture a Handler at turn start, so an in-flight generation is never
// redirected or truncated by a concurrent switch.
type Gateway struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	current  string
	logger   *log.Logger
}

// NewGateway creates a gateway over the given handlers with defaultID
// active.
func NewGateway(handlers []Handler, defaultID string, logger *log.Logger) (*Gateway, error) {
	if len(handlers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}

	byID := make(map[string]Handler, len(handlers))
	for _, h := range handlers {
		if _, dup := byID[h.ID()]; dup {
			return nil, fmt.Errorf("duplicate provider id %q", h.ID())
		}
		byID[h.ID()] = h
	}

	if defaultID == "" {
		defaultID = handlers[0].ID()
	}
	if _, ok := byID[defaultID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, defaultID)
	}

	return &Gateway{
		handlers: byID,
		current:  defaultID,
		logger:   logger.With("component", "gateway"),
	}, nil
}

// Current returns the active provider handler.
func (g *Gateway) Current() Handler {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.handlers[g.current]
}

// CurrentID returns the active provider's identifier.
func (g *Gateway) CurrentID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current
}

// Switch changes the active provider for subsequent turns. Session state is
// untouched; only the generation backend changes.
func (g *Gateway) Switch(providerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.handlers[providerID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	if g.current != providerID {
		g.logger.Info("provider switched", "from", g.current, "to", providerID)
		g.current = providerID
	}
	return nil
}

// List returns all registered providers sorted by ID.
func (g *Gateway) List() []ProviderStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]ProviderStatus, 0, len(g.handlers))
	for id := range g.handlers {
		out = append(out, ProviderStatus{ID: id, Active: id == g.current})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
