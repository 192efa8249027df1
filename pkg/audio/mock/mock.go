// Package mock provides an in-memory test double for the [audio.Capturer]
// interface.
//
// Capturer returns scripted recordings in order and records how often it was
// called, so tests can drive the turn orchestrator without an upload surface.
//
// Typical usage:
//
//	c := &mock.Capturer{Clips: []types.AudioClip{{Data: []byte("a")}}}
//	clip, err := c.Capture(ctx)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pingquest/pkg/audio"
	"github.com/MrWong99/pingquest/pkg/types"
)

// Capturer is a mock implementation of [audio.Capturer].
type Capturer struct {
	mu sync.Mutex

	// Clips is a queue of recordings consumed one per call. Once empty, Clip
	// is returned.
	Clips []types.AudioClip

	// Clip is returned when Clips is exhausted. Defaults to a one-byte clip so
	// that the default mock always "hears" something.
	Clip types.AudioClip

	// Err, if non-nil, is returned by every call instead of a recording.
	Err error

	// Block, if set, makes Capture wait until ctx is done and then behave
	// like a real capturer hitting its deadline.
	Block bool

	// CallCount is the number of Capture calls made.
	CallCount int
}

// Capture implements [audio.Capturer].
func (c *Capturer) Capture(ctx context.Context) (types.AudioClip, error) {
	c.mu.Lock()
	c.CallCount++
	block := c.Block
	c.mu.Unlock()

	if block {
		<-ctx.Done()
		return types.AudioClip{}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return types.AudioClip{}, c.Err
	}
	if len(c.Clips) > 0 {
		clip := c.Clips[0]
		c.Clips = c.Clips[1:]
		return clip, nil
	}
	if c.Clip.Empty() {
		return types.AudioClip{Data: []byte{0}, MIMEType: "audio/webm"}, nil
	}
	return c.Clip, nil
}

// Calls returns the number of Capture calls made so far.
func (c *Capturer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCount
}

var _ audio.Capturer = (*Capturer)(nil)
