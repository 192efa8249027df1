// Package mock provides a test double for the stt.Transcriber interface.
//
// Use Transcriber to feed scripted recognition results to the turn
// orchestrator and to inspect which audio clips were submitted.
//
// Example:
//
//	tr := &mock.Transcriber{Texts: []string{"I like apples.", "left"}}
//	text, _ := tr.Transcribe(ctx, clip) // "I like apples."
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pingquest/pkg/provider/stt"
	"github.com/MrWong99/pingquest/pkg/types"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Clip is the audio passed to Transcribe.
	Clip types.AudioClip
}

// Transcriber is a mock implementation of stt.Transcriber.
//
// Each call pops the next entry from Texts (and Errs, index-aligned). Once
// Texts is exhausted, Text and Err are returned for every further call.
type Transcriber struct {
	mu sync.Mutex

	// Texts is a queue of scripted results consumed one per call.
	Texts []string

	// Errs is an optional queue of errors aligned with Texts.
	Errs []error

	// Text is returned once Texts is exhausted.
	Text string

	// Err is returned once Texts is exhausted.
	Err error

	// Calls records every invocation of Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the next scripted result.
func (m *Transcriber) Transcribe(ctx context.Context, clip types.AudioClip) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, TranscribeCall{Ctx: ctx, Clip: clip})
	if len(m.Texts) > 0 {
		text := m.Texts[0]
		m.Texts = m.Texts[1:]
		var err error
		if len(m.Errs) > 0 {
			err = m.Errs[0]
			m.Errs = m.Errs[1:]
		}
		return text, err
	}
	return m.Text, m.Err
}

// CallCount returns the number of Transcribe calls recorded so far.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Clips returns a copy of every clip passed to Transcribe so far.
func (m *Transcriber) Clips() []types.AudioClip {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.AudioClip, len(m.Calls))
	for i, c := range m.Calls {
		out[i] = c.Clip
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
