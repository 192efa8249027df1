// Package openai provides a TTS synthesizer backed by the OpenAI speech endpoint.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/pingquest/pkg/provider/tts"
	"github.com/MrWong99/pingquest/pkg/types"
)

const (
	defaultModel  = "gpt-4o-mini-tts"
	defaultVoice  = "alloy"
	defaultFormat = "mp3"
)

// Synthesizer implements tts.Synthesizer using the OpenAI API.
type Synthesizer struct {
	client oai.Client
	model  string
	voice  string
	format string
}

type config struct {
	baseURL    string
	model      string
	voice      string
	format     string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Synthesizer.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel selects the speech model (e.g., "tts-1", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithDefaultVoice sets the voice used when a request carries no voice ID.
func WithDefaultVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithFormat sets the response format ("mp3", "opus", "aac", "flac", "wav", "pcm").
func WithFormat(format string) Option {
	return func(c *config) { c.format = format }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries overrides the SDK's automatic retry count.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// New constructs a new OpenAI Synthesizer.
func New(apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	cfg := &config{model: defaultModel, voice: defaultVoice, format: defaultFormat, maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Synthesizer{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
		voice:  cfg.voice,
		format: cfg.format,
	}, nil
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (types.AudioClip, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.AudioClip{}, fmt.Errorf("openai tts: %w", tts.ErrEmptyText)
	}
	v := voice.ID
	if v == "" {
		v = s.voice
	}

	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(s.model),
		Voice:          oai.AudioSpeechNewParamsVoice(v),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(s.format),
	}
	if voice.SpeedFactor > 0 {
		params.Speed = oai.Float(voice.SpeedFactor)
	}

	resp, err := s.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return types.AudioClip{}, fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.AudioClip{}, fmt.Errorf("openai tts: read audio: %w", err)
	}
	return types.AudioClip{Data: data, MIMEType: tts.MIMEForFormat(s.format)}, nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
