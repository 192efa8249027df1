// Package audio defines how a learner's spoken answer reaches the turn
// orchestrator.
//
// The primary abstraction is [Capturer]: one call to Capture yields one
// complete recording. pingquest does not own a microphone; the browser records
// and uploads, so the shipped implementation is [Upload], which hands
// recordings pushed by the HTTP and WebSocket surface to the next waiting
// Capture call.
//
// This package lives under pkg/ because alternative capture front-ends (a
// local microphone, a telephony bridge) are expected to implement [Capturer].
package audio

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/pingquest/pkg/types"
)

var (
	// ErrCaptureUnavailable is returned when the capture source is closed or
	// otherwise cannot deliver audio.
	ErrCaptureUnavailable = errors.New("audio: capture unavailable")

	// ErrUploadPending is returned by [Upload.Offer] when a recording is
	// already queued and has not been consumed yet.
	ErrUploadPending = errors.New("audio: a recording is already pending")
)

// Capturer produces one learner recording per call.
//
// Capture blocks until a recording is available or ctx is done. When ctx
// reaches its deadline with nothing recorded, Capture returns an empty clip and
// a nil error: silence is a valid answer, not a failure. Cancellation for any
// other reason returns ctx.Err().
//
// Implementations must be safe for concurrent use, but callers are expected
// to run at most one Capture at a time.
type Capturer interface {
	Capture(ctx context.Context) (types.AudioClip, error)
}

// Upload is a [Capturer] fed by pushed recordings.
//
// At most one recording is queued at a time. The zero value is not usable;
// construct with [NewUpload].
type Upload struct {
	clips chan types.AudioClip

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewUpload returns an open Upload capturer.
func NewUpload() *Upload {
	return &Upload{
		clips: make(chan types.AudioClip, 1),
		done:  make(chan struct{}),
	}
}

// Offer queues clip for the next Capture call.
func (u *Upload) Offer(clip types.AudioClip) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrCaptureUnavailable
	}
	select {
	case u.clips <- clip:
		return nil
	default:
		return ErrUploadPending
	}
}

// Discard drops a queued recording, if any, and reports whether one was dropped.
func (u *Upload) Discard() bool {
	select {
	case <-u.clips:
		return true
	default:
		return false
	}
}

// Capture implements [Capturer].
func (u *Upload) Capture(ctx context.Context) (types.AudioClip, error) {
	// A queued recording wins over a concurrently closed or expired source.
	select {
	case clip := <-u.clips:
		return clip, nil
	default:
	}

	select {
	case clip := <-u.clips:
		return clip, nil
	case <-u.done:
		return types.AudioClip{}, ErrCaptureUnavailable
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return types.AudioClip{}, nil
		}
		return types.AudioClip{}, ctx.Err()
	}
}

// Close makes every pending and future Capture fail with
// [ErrCaptureUnavailable]. Calling Close more than once is safe.
func (u *Upload) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.closed {
		u.closed = true
		close(u.done)
	}
	return nil
}

var _ Capturer = (*Upload)(nil)
