// Package tts defines the Synthesizer interface for Text-to-Speech backends.
//
// A TTS backend wraps a speech synthesis service (e.g., OpenAI speech or
// ElevenLabs) and turns one prompt or feedback line into a complete, encoded
// audio clip that the client can play back as-is.
//
// Synthesis is never on the critical path of a turn: when it fails, the
// orchestrator continues with text only.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/pingquest/pkg/types"
)

// ErrEmptyText is returned when Synthesize is called with blank text.
var ErrEmptyText = errors.New("tts: empty text")

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize renders text with the given voice and returns the encoded
	// audio. The clip's MIMEType describes the encoding.
	//
	// voice.ID may be empty, in which case the backend's default voice is used.
	// Returns an error if the backend is unreachable or ctx is cancelled.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (types.AudioClip, error)
}

// MIMEForFormat maps common provider output-format names ("mp3",
// "mp3_44100_128", "pcm_16000", "opus", ...) to a MIME type.
func MIMEForFormat(format string) string {
	switch {
	case format == "" || format == "mp3" || strings.HasPrefix(format, "mp3_"):
		return "audio/mpeg"
	case format == "pcm" || strings.HasPrefix(format, "pcm_"):
		return "audio/L16"
	case format == "wav":
		return "audio/wav"
	case format == "opus" || strings.HasPrefix(format, "opus_"):
		return "audio/ogg"
	case format == "aac":
		return "audio/aac"
	case format == "flac":
		return "audio/flac"
	case strings.HasPrefix(format, "ulaw_"):
		return "audio/basic"
	default:
		return "application/octet-stream"
	}
}
