// Package deepgram provides a Deepgram-backed STT transcriber using the
// Deepgram live WebSocket API.
//
// Each Transcribe call opens one socket, streams the clip as binary frames,
// asks the server to flush with a CloseStream message and joins the final
// results it receives before the stream's closing Metadata event.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"

	"github.com/MrWong99/pingquest/pkg/audio"
	"github.com/MrWong99/pingquest/pkg/provider/stt"
	"github.com/MrWong99/pingquest/pkg/types"
)

const (
	defaultEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel    = "nova-3"
	defaultLanguage = "en"

	// chunkSize bounds each binary frame sent to the server.
	chunkSize = 8192
)

// Option is a functional option for configuring the Transcriber.
type Option func(*Transcriber)

// WithModel sets the Deepgram model (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(t *Transcriber) { t.model = model }
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(t *Transcriber) { t.language = language }
}

// WithEndpoint overrides the listen endpoint. Mainly useful in tests.
func WithEndpoint(endpoint string) Option {
	return func(t *Transcriber) { t.endpoint = endpoint }
}

// WithKeywords boosts recognition of the given words (e.g., quest vocabulary).
func WithKeywords(keywords ...string) Option {
	return func(t *Transcriber) { t.keywords = append(t.keywords, keywords...) }
}

// Transcriber implements stt.Transcriber backed by the Deepgram live API.
type Transcriber struct {
	apiKey   string
	endpoint string
	model    string
	language string
	keywords []string
}

// New creates a new Deepgram Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// deepgramResponse is the subset of a live-API event the transcriber reads.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, clip types.AudioClip) (string, error) {
	if len(clip.Data) == 0 {
		return "", fmt.Errorf("deepgram: %w", stt.ErrEmptyAudio)
	}
	wsURL, err := t.buildURL(clip.MIMEType)
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	for data := clip.Data; len(data) > 0; {
		n := min(chunkSize, len(data))
		if err := conn.Write(ctx, websocket.MessageBinary, data[:n]); err != nil {
			return "", fmt.Errorf("deepgram: write audio: %w", err)
		}
		data = data[n:]
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return "", fmt.Errorf("deepgram: close stream: %w", err)
	}

	var finals []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return "", fmt.Errorf("deepgram: read: %w", err)
		}
		var resp deepgramResponse
		if err := sonic.ConfigStd.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Type == "Metadata" {
			break
		}
		if resp.Type != "Results" || !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
			continue
		}
		if text := strings.TrimSpace(resp.Channel.Alternatives[0].Transcript); text != "" {
			finals = append(finals, text)
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	return strings.Join(finals, " "), nil
}

// buildURL constructs the listen URL. Raw PCM needs explicit encoding
// parameters; containerized audio (webm, ogg, wav) is sniffed by the server.
func (t *Transcriber) buildURL(mimeType string) (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", t.model)
	q.Set("language", t.language)
	q.Set("punctuate", "true")
	if f, ok := audio.ParsePCM(mimeType); ok {
		q.Set("encoding", "linear16")
		q.Set("sample_rate", strconv.Itoa(f.SampleRate))
		q.Set("channels", strconv.Itoa(f.Channels))
	}
	for _, kw := range t.keywords {
		q.Add("keywords", kw)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
