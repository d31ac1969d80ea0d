package provider

import (
	"log/slog"
	"strings"
	"sync"
)

// Registry holds every configured backend and the single active-provider
// slot. Activation is exclusive: switching providers stops the previous one
// before starting the next, which serializes GPU/VRAM ownership.
type Registry struct {
	mu              sync.Mutex
	defaultProvider string
	activeProvider  string
	providers       map[string]Provider
}

func NewRegistry(defaultProvider string) *Registry {
	return &Registry{
		defaultProvider: defaultProvider,
		providers:       make(map[string]Provider),
	}
}

func (r *Registry) Register(p Provider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

func (r *Registry) Get(name string) Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.providers[name]
}

func (r *Registry) DefaultName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultProvider
}

func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultProvider = name
}

func (r *Registry) List() []Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}

type SwitchResult struct {
	Switched bool
	From     string
	To       string
}

// Activate makes name the active provider. A no-op when name is already
// active or unknown. Stop/Start hooks run under the registry mutex.
func (r *Registry) Activate(name string) SwitchResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out SwitchResult
	if name == "" || r.activeProvider == name {
		return out
	}
	next, ok := r.providers[name]
	if !ok {
		return out
	}
	if r.activeProvider != "" {
		if prev, ok := r.providers[r.activeProvider]; ok {
			prev.Stop()
		}
	}
	next.Start()
	out.Switched = true
	out.From = r.activeProvider
	out.To = name
	r.activeProvider = name
	slog.Info("provider switched", "from", out.From, "to", out.To)
	return out
}

type ResolvedModel struct {
	Provider     Provider
	ProviderName string
	Model        string
}

// Resolve splits "provider:model" or maps a bare model onto the default
// provider. Returns nil when the provider is not registered.
func (r *Registry) Resolve(modelString string) *ResolvedModel {
	providerName := r.DefaultName()
	model := modelString
	if idx := strings.Index(modelString, ":"); idx >= 0 {
		providerName = modelString[:idx]
		model = modelString[idx+1:]
	}
	p := r.Get(providerName)
	if p == nil {
		return nil
	}
	return &ResolvedModel{Provider: p, ProviderName: providerName, Model: model}
}
