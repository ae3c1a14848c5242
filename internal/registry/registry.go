// Package registry holds the configured provider adapters together with
// their static metadata and implements provider selection.
package registry

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/relaykit/llm-relay/internal/config"
	"github.com/relaykit/llm-relay/internal/llmerr"
	"github.com/relaykit/llm-relay/internal/providers"
	"github.com/relaykit/llm-relay/internal/types"
)

// Entry pairs one adapter with its immutable configuration.
type Entry struct {
	Config   config.ProviderConfig
	Provider providers.Provider
}

// Registry is the set of enabled providers, sorted by ascending priority.
type Registry struct {
	entries []*Entry
	byName  map[string]*Entry
	policy  map[string]string // analysis class -> provider tag
	logger  *logrus.Logger
}

// New creates an empty registry with the given routing policy.
func New(policy map[string]string, logger *logrus.Logger) *Registry {
	if policy == nil {
		policy = config.DefaultRoutingPolicy()
	}
	return &Registry{
		byName: make(map[string]*Entry),
		policy: policy,
		logger: logger,
	}
}

// Register adds a provider, keeping the entry list priority-sorted.
// Registration happens once at startup; the registry is read-only after.
func (r *Registry) Register(cfg config.ProviderConfig, provider providers.Provider) {
	entry := &Entry{Config: cfg, Provider: provider}
	r.entries = append(r.entries, entry)
	r.byName[cfg.Name] = entry

	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].Config.Priority < r.entries[j].Config.Priority
	})

	r.logger.WithFields(logrus.Fields{
		"provider": cfg.Name,
		"type":     cfg.Type,
		"priority": cfg.Priority,
	}).Info("Provider registered")
}

// Get returns a provider entry by name.
func (r *Registry) Get(name string) (*Entry, bool) {
	entry, ok := r.byName[name]
	return entry, ok
}

// Entries returns all entries in priority order.
func (r *Registry) Entries() []*Entry {
	out := make([]*Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Select picks the first provider for a request:
//  1. an explicit provider preference, when registered;
//  2. the best-priority provider carrying the tag mapped from the
//     request's analysis class;
//  3. plain priority order.
//
// Selection failure is fatal to the request, never retried.
func (r *Registry) Select(req *types.GenerationRequest) (*Entry, error) {
	if req.Provider != "" {
		if entry, ok := r.byName[req.Provider]; ok {
			return entry, nil
		}
		r.logger.WithField("provider", req.Provider).
			Warn("Preferred provider not available, falling back to policy selection")
	}

	if req.AnalysisClass != "" {
		if tag, ok := r.policy[req.AnalysisClass]; ok {
			for _, entry := range r.entries {
				if entry.Config.HasTag(tag) {
					return entry, nil
				}
			}
		}
	}

	if len(r.entries) > 0 {
		return r.entries[0], nil
	}

	return nil, llmerr.New(llmerr.ClassNoProvider, "", "no enabled provider available")
}

// NextCandidate returns the best-priority provider not yet tried for this
// logical request, or nil when the fallback chain is exhausted.
func (r *Registry) NextCandidate(tried map[string]bool) *Entry {
	for _, entry := range r.entries {
		if !tried[entry.Config.Name] {
			return entry
		}
	}
	return nil
}
