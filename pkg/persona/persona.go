// Package persona defines the immutable identity an agent speaks with on a call
// and the registry calls resolve it from.
//
// A Persona bundles the prompts, the optional knowledge base and the voice
// used for synthesis. Personas are registered once at process start into a
// [Registry], which is then shared read-only by every call session.
package persona

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// DefaultVoice is the synthesis voice used when a persona does not name one.
const DefaultVoice Voice = "47zW6C63rcp2Ui4o25NB"

// Voice identifies a synthesis voice at the speech provider.
type Voice string

// KnowledgeBase retrieves reference snippets relevant to a query.
type KnowledgeBase interface {
	// Search returns up to k snippets ordered by relevance.
	Search(ctx context.Context, query string, k int) ([]string, error)
}

// Persona is an immutable bundle of prompts, knowledge and voice. Do not
// modify a Persona after it has been registered.
type Persona struct {
	ID            string
	KnowledgeBase KnowledgeBase
	SystemPrompt  string
	LeadingPrompt string
	Voice         Voice
}

// VoiceID returns the persona voice, or DefaultVoice if none is set.
func (p *Persona) VoiceID() Voice {
	if p == nil || p.Voice == "" {
		return DefaultVoice
	}
	return p.Voice
}

// Registry is a set of personas keyed by ID. Registration is idempotent: the
// first persona registered under an ID wins and later ones are ignored.
type Registry struct {
	mu       sync.RWMutex
	personas map[string]*Persona
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{personas: make(map[string]*Persona)}
}

// Register adds p under p.ID. It reports whether p was stored; a duplicate ID
// leaves the existing persona in place and returns false.
func (r *Registry) Register(p *Persona) bool {
	if p == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.personas[p.ID]; ok {
		slog.Debug("persona: duplicate registration ignored", "id", p.ID)
		return false
	}
	r.personas[p.ID] = p
	return true
}

// Get returns the persona registered under id.
func (r *Registry) Get(id string) (*Persona, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.personas[id]
	return p, ok
}

// IDs returns the registered IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.personas))
	for id := range r.personas {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Len returns the number of registered personas.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.personas)
}
