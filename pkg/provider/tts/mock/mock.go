// Package mock provides a test double for the tts.Synthesizer interface.
//
// Use Synthesizer to verify which lines the orchestrator speaks and with
// which voice, and to inject synthesis failures.
//
// Example:
//
//	s := &mock.Synthesizer{Clip: types.AudioClip{Data: []byte("mp3"), MIMEType: "audio/mpeg"}}
//	clip, _ := s.Synthesize(ctx, "Say: I like apples.", voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pingquest/pkg/provider/tts"
	"github.com/MrWong99/pingquest/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the VoiceProfile passed to Synthesize.
	Voice types.VoiceProfile
}

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Clip is returned by every successful Synthesize call. When Clip is empty
	// the mock returns the text bytes tagged "text/plain" so tests can tell
	// calls apart.
	Clip types.AudioClip

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// Calls records every invocation of Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns Clip, Err.
func (m *Synthesizer) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (types.AudioClip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	if m.Err != nil {
		return types.AudioClip{}, m.Err
	}
	if m.Clip.Empty() {
		return types.AudioClip{Data: []byte(text), MIMEType: "text/plain"}, nil
	}
	return m.Clip, nil
}

// Texts returns the text of every recorded call in order.
func (m *Synthesizer) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (m *Synthesizer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
