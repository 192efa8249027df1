// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A transcriber wraps a batch recognition service (e.g., OpenAI whisper-1 or a
// local whisper.cpp server) and turns one complete learner recording into text.
// Turns are short and strictly sequential, so there is no streaming session:
// the orchestrator captures a whole answer and asks for its transcript once.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/pingquest/pkg/types"
)

// ErrEmptyAudio is returned when Transcribe is called with a clip that holds no
// audio. Callers that treat silence as a non-match should check for an empty
// clip before calling.
var ErrEmptyAudio = errors.New("stt: empty audio clip")

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe returns the recognized text of clip. An empty string with a nil
	// error means the backend heard nothing intelligible.
	//
	// Returns an error if the backend is unreachable, rejects the audio, or ctx
	// is cancelled before a result arrives.
	Transcribe(ctx context.Context, clip types.AudioClip) (string, error)
}

// FileName returns a file name whose extension matches the clip's MIME type.
// Upload-based backends use it because they sniff the container from the name.
func FileName(clip types.AudioClip) string {
	switch clip.MIMEType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "input.wav"
	case "audio/mpeg", "audio/mp3":
		return "input.mp3"
	case "audio/ogg", "audio/ogg; codecs=opus":
		return "input.ogg"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "input.m4a"
	case "audio/flac":
		return "input.flac"
	default:
		return "input.webm"
	}
}
