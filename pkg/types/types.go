// Package types defines the shared types used across pingquest packages.
//
// These types form the lingua franca between the speech and text providers and
// the turn orchestrator. Each package defines its own domain types; only data
// crossing package boundaries in both directions lives here to avoid circular
// imports.
package types

// AudioClip is a complete, encoded piece of audio: either a learner recording
// handed to a transcriber or synthesized speech handed back to the client.
type AudioClip struct {
	// Data holds the encoded audio bytes.
	Data []byte

	// MIMEType describes the encoding (e.g., "audio/webm", "audio/mpeg").
	// Empty means the producer did not say; consumers fall back to their default.
	MIMEType string
}

// Empty reports whether the clip carries no audio at all.
func (c AudioClip) Empty() bool { return len(c.Data) == 0 }

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// VoiceProfile selects a synthesis voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g., "alloy").
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.25–4.0, 0 = provider default).
	SpeedFactor float64
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsJSONSchema indicates the backend can constrain output to a JSON schema.
	SupportsJSONSchema bool
}
