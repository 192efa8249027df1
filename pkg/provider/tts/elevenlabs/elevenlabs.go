// Package elevenlabs provides an ElevenLabs-backed TTS synthesizer using the
// ElevenLabs streaming WebSocket API. It implements the tts.Synthesizer interface.
//
// The stream-input socket is used even though pingquest needs a whole clip per
// call: it returns the first bytes sooner than the REST endpoint and lets the
// synthesizer stop as soon as the server marks the final chunk.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"

	"github.com/MrWong99/pingquest/pkg/provider/tts"
	"github.com/MrWong99/pingquest/pkg/types"
)

const (
	defaultBaseURL   = "wss://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "mp3_44100_128"
)

// Option is a functional option for configuring the ElevenLabs Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(s *Synthesizer) {
		s.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "mp3_44100_128", "pcm_16000").
func WithOutputFormat(format string) Option {
	return func(s *Synthesizer) {
		s.outputFormat = format
	}
}

// WithBaseURL overrides the WebSocket origin (scheme + host). Used to target
// a proxy or a test server.
func WithBaseURL(base string) Option {
	return func(s *Synthesizer) {
		s.baseURL = strings.TrimRight(base, "/")
	}
}

// WithDefaultVoice sets the voice used when a request carries no voice ID.
func WithDefaultVoice(id string) Option {
	return func(s *Synthesizer) {
		s.defaultVoice = id
	}
}

// Synthesizer implements tts.Synthesizer backed by the ElevenLabs streaming API.
type Synthesizer struct {
	apiKey       string
	model        string
	outputFormat string
	baseURL      string
	defaultVoice string
}

// New creates a new ElevenLabs Synthesizer. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	s := &Synthesizer{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		baseURL:      defaultBaseURL,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded audio in the requested output format
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Synthesize opens a WebSocket to ElevenLabs, sends text, and collects the
// audio chunks until the server marks the final one or closes the socket.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (types.AudioClip, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.AudioClip{}, fmt.Errorf("elevenlabs: %w", tts.ErrEmptyText)
	}
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = s.defaultVoice
	}
	if voiceID == "" {
		return types.AudioClip{}, errors.New("elevenlabs: voice ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, s.streamURL(voiceID), nil)
	if err != nil {
		return types.AudioClip{}, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(4 << 20)

	// The first message authenticates and carries a single space, as the
	// protocol requires; the text follows, then an empty flush marker.
	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75, Speed: voice.SpeedFactor}
	for _, msg := range []textMessage{
		{Text: " ", VoiceSettings: vs, XiAPIKey: s.apiKey},
		{Text: text + " "},
		{Text: ""},
	} {
		if err := s.send(ctx, conn, msg); err != nil {
			return types.AudioClip{}, err
		}
	}

	var audio bytes.Buffer
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && audio.Len() > 0 {
				break
			}
			return types.AudioClip{}, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := sonic.ConfigStd.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return types.AudioClip{}, fmt.Errorf("elevenlabs: server error: %s", resp.Error)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return types.AudioClip{}, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			audio.Write(chunk)
		}
		if resp.IsFinal {
			break
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	return types.AudioClip{Data: audio.Bytes(), MIMEType: tts.MIMEForFormat(s.outputFormat)}, nil
}

func (s *Synthesizer) send(ctx context.Context, conn *websocket.Conn, msg textMessage) error {
	b, err := sonic.ConfigStd.Marshal(msg)
	if err != nil {
		return fmt.Errorf("elevenlabs: encode message: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("elevenlabs: write: %w", err)
	}
	return nil
}

// streamURL constructs the stream-input WebSocket URL for a given voice.
func (s *Synthesizer) streamURL(voiceID string) string {
	q := url.Values{}
	q.Set("model_id", s.model)
	q.Set("output_format", s.outputFormat)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", s.baseURL, url.PathEscape(voiceID), q.Encode())
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
