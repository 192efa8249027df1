// Package coqui provides a TTS synthesizer backed by a locally-running Coqui
// TTS server.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is GET /api/tts with URL query
//     parameters.
//   - APIModeXTTS: the Coqui XTTS v2 API server. Synthesis is POST
//     /tts_to_audio/ with a JSON body and requires a speaker (voice ID).
//
// Both servers answer with a complete WAV file, which is returned unchanged.
//
// Typical usage:
//
//	s, err := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
//	clip, err := s.Synthesize(ctx, "Say: I like apples.", types.VoiceProfile{})
package coqui

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/MrWong99/pingquest/pkg/provider/tts"
	"github.com/MrWong99/pingquest/pkg/types"
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
	xttsEndpoint    = "/tts_to_audio/"
	apiTTSEndpoint  = "/api/tts"
	wavMIME         = "audio/wav"
)

// APIMode selects which Coqui server API the synthesizer targets.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"
)

// ErrVoiceRequired is returned in XTTS mode when no speaker is given.
var ErrVoiceRequired = errors.New("coqui: voice ID is required in xtts mode")

// Option is a functional option for configuring a Synthesizer.
type Option func(*Synthesizer)

// WithLanguage sets the language code sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(s *Synthesizer) { s.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.httpClient.Timeout = d }
}

// WithAPIMode selects the server API.
func WithAPIMode(mode APIMode) Option {
	return func(s *Synthesizer) { s.apiMode = mode }
}

// WithDefaultVoice sets the speaker used when a request carries no voice ID.
func WithDefaultVoice(voice string) Option {
	return func(s *Synthesizer) { s.voice = voice }
}

// Synthesizer implements tts.Synthesizer against a Coqui server. It is safe
// for concurrent use.
type Synthesizer struct {
	serverURL  string
	language   string
	voice      string
	apiMode    APIMode
	httpClient *http.Client
}

// New creates a Synthesizer targeting serverURL (e.g., "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Synthesizer, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	s := &Synthesizer{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	switch s.apiMode {
	case APIModeStandard, APIModeXTTS:
	default:
		return nil, fmt.Errorf("coqui: unknown api mode %q", s.apiMode)
	}
	return s, nil
}

// xttsRequest is the JSON body sent to POST /tts_to_audio/.
type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (types.AudioClip, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.AudioClip{}, fmt.Errorf("coqui: %w", tts.ErrEmptyText)
	}
	speaker := voice.ID
	if speaker == "" {
		speaker = s.voice
	}

	var (
		req *http.Request
		err error
	)
	if s.apiMode == APIModeXTTS {
		req, err = s.xttsRequest(ctx, text, speaker)
	} else {
		req, err = s.standardRequest(ctx, text, speaker)
	}
	if err != nil {
		return types.AudioClip{}, err
	}
	req.Header.Set("Accept", wavMIME)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return types.AudioClip{}, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.AudioClip{}, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.AudioClip{}, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return types.AudioClip{}, errors.New("coqui: response is not a WAV file")
	}
	return types.AudioClip{Data: wav, MIMEType: wavMIME}, nil
}

func (s *Synthesizer) standardRequest(ctx context.Context, text, speaker string) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", text)
	if speaker != "" {
		params.Set("speaker_id", speaker)
	}
	if s.language != "" {
		params.Set("language_id", s.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	return req, nil
}

func (s *Synthesizer) xttsRequest(ctx context.Context, text, speaker string) (*http.Request, error) {
	if speaker == "" {
		return nil, ErrVoiceRequired
	}
	data, err := sonic.ConfigStd.Marshal(xttsRequest{Text: text, SpeakerWav: speaker, Language: s.language})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+xttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
