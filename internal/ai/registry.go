package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// EditorFactory builds an Editor for model. An empty model means the
// provider's own default.
type EditorFactory func(ctx context.Context, model string) (Editor, error)

// Registry routes a provider name (AI_PROVIDER) to its factory.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]EditorFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]EditorFactory)}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(name string, f EditorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalizeName(name)] = f
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Get(ctx context.Context, name string, model string) (Editor, error) {
	key := normalizeName(name)
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider %q (registered: %s)", key, strings.Join(r.Names(), ", "))
	}
	return f(ctx, strings.TrimSpace(model))
}

// NewDefaultRegistry registers every built-in provider. falModel is used
// when a caller asks for the provider's default model.
func NewDefaultRegistry(falKey, falModel, falQueueURL, falRestURL string, falPoll time.Duration) *Registry {
	reg := NewRegistry()
	reg.Register("fal", func(ctx context.Context, model string) (Editor, error) {
		if model == "" {
			model = falModel
		}
		return NewFalClient(falKey, model, falQueueURL, falRestURL, falPoll), nil
	})
	return reg
}
