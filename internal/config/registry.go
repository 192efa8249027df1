package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/pingquest/internal/resilience"
	"github.com/MrWong99/pingquest/pkg/provider/llm"
	"github.com/MrWong99/pingquest/pkg/provider/stt"
	"github.com/MrWong99/pingquest/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	stt map[string]func(ProviderEntry) (stt.Transcriber, error)
	llm map[string]func(ProviderEntry) (llm.Provider, error)
	tts map[string]func(ProviderEntry) (tts.Synthesizer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt: make(map[string]func(ProviderEntry) (stt.Transcriber, error)),
		llm: make(map[string]func(ProviderEntry) (llm.Provider, error)),
		tts: make(map[string]func(ProviderEntry) (tts.Synthesizer, error)),
	}
}

// RegisterSTT registers an STT transcriber factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTTS registers a TTS synthesizer factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Synthesizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateSTT instantiates an STT transcriber using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a TTS synthesizer using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Synthesizer, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// STTGroup builds every entry of g and wraps them in a failover group. It
// returns nil, nil for an unconfigured group.
func (r *Registry) STTGroup(g ProviderGroup) (*resilience.STTFallback, error) {
	return buildGroup(g, "stt", r.CreateSTT, resilience.NewSTTFallback, (*resilience.STTFallback).AddFallback)
}

// LLMGroup builds every entry of g and wraps them in a failover group.
func (r *Registry) LLMGroup(g ProviderGroup) (*resilience.LLMFallback, error) {
	return buildGroup(g, "llm", r.CreateLLM, resilience.NewLLMFallback, (*resilience.LLMFallback).AddFallback)
}

// TTSGroup builds every entry of g and wraps them in a failover group.
func (r *Registry) TTSGroup(g ProviderGroup) (*resilience.TTSFallback, error) {
	return buildGroup(g, "tts", r.CreateTTS, resilience.NewTTSFallback, (*resilience.TTSFallback).AddFallback)
}

func buildGroup[P any, G any](
	g ProviderGroup,
	kind string,
	create func(ProviderEntry) (P, error),
	newGroup func(P, string, resilience.FallbackConfig) *G,
	add func(*G, string, P),
) (*G, error) {
	entries := g.Entries()
	if len(entries) == 0 {
		return nil, nil
	}
	cfg := resilience.FallbackConfig{
		Kind: kind,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  g.Breaker.MaxFailures,
			ResetTimeout: g.Breaker.ResetTimeout,
			HalfOpenMax:  g.Breaker.HalfOpenMax,
		},
	}
	var group *G
	for i, e := range entries {
		p, err := create(e)
		if err != nil {
			return nil, fmt.Errorf("config: create %s provider %q: %w", kind, e.Name, err)
		}
		name := entryLabel(e, i)
		if group == nil {
			group = newGroup(p, name, cfg)
			continue
		}
		add(group, name, p)
	}
	return group, nil
}

// entryLabel names a group entry in logs and metrics.
func entryLabel(e ProviderEntry, i int) string {
	label := e.Name
	if e.Model != "" {
		label += "/" + e.Model
	}
	if i > 0 {
		label = fmt.Sprintf("%s#%d", label, i)
	}
	return label
}
