package resilience

import (
	"context"

	"github.com/MrWong99/pingquest/pkg/provider/stt"
	"github.com/MrWong99/pingquest/pkg/types"
)

// STTFallback implements [stt.Transcriber] with automatic failover across
// multiple speech-to-text backends.
type STTFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
// An empty cfg.Kind is replaced with "stt".
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT backend as a fallback.
func (f *STTFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Healthy reports whether any backend currently has a closed or half-open
// breaker.
func (f *STTFallback) Healthy() bool { return f.group.Healthy() }

// Transcribe hands clip to the first healthy backend and returns its text.
// Every backend receives the same clip, so a failover re-uploads the whole
// recording.
func (f *STTFallback) Transcribe(ctx context.Context, clip types.AudioClip) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(t stt.Transcriber) (string, error) {
		return t.Transcribe(ctx, clip)
	})
}
