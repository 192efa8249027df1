package resilience

import (
	"context"

	"github.com/MrWong99/pingquest/pkg/provider/tts"
	"github.com/MrWong99/pingquest/pkg/types"
)

// TTSFallback implements [tts.Synthesizer] with automatic failover across
// multiple text-to-speech backends.
type TTSFallback struct {
	group *FallbackGroup[tts.Synthesizer]
}

var _ tts.Synthesizer = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
// An empty cfg.Kind is replaced with "tts".
func NewTTSFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS backend as a fallback.
func (f *TTSFallback) AddFallback(name string, s tts.Synthesizer) {
	f.group.AddFallback(name, s)
}

// Healthy reports whether any backend currently accepts calls.
func (f *TTSFallback) Healthy() bool { return f.group.Healthy() }

// Synthesize renders text with the first healthy backend. Voice IDs are
// provider specific, so a fallback backend receives the profile unchanged and
// is expected to substitute its own default when it does not know the ID.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (types.AudioClip, error) {
	return ExecuteWithResult(ctx, f.group, func(s tts.Synthesizer) (types.AudioClip, error) {
		return s.Synthesize(ctx, text, voice)
	})
}
