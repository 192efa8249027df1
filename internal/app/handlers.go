package app

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/MrWong99/pingquest/internal/quest"
	"github.com/MrWong99/pingquest/internal/roleplay"
	"github.com/MrWong99/pingquest/internal/turn"
	"github.com/MrWong99/pingquest/pkg/audio"
	"github.com/MrWong99/pingquest/pkg/types"
)

const (
	// maxUploadBytes caps one learner recording.
	maxUploadBytes = 10 << 20

	// defaultUploadMIME is assumed when an upload carries no content type.
	defaultUploadMIME = "audio/webm"
)

// ─── Wire types ──────────────────────────────────────────────────────────────

type startRequest struct {
	Level string `json:"level"`
}

type startResponse struct {
	Session SessionInfo   `json:"session"`
	Prompt  turn.Prompt   `json:"prompt"`
	Audio   *audioPayload `json:"prompt_audio,omitempty"`
}

type snapshotResponse struct {
	Session  SessionInfo   `json:"session"`
	Snapshot turn.Snapshot `json:"snapshot"`
}

type turnResponse struct {
	*turn.Result
	SpeechAudio *audioPayload `json:"speech_audio,omitempty"`
	PromptAudio *audioPayload `json:"prompt_audio,omitempty"`
}

type levelInfo struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Nodes    int    `json:"nodes"`
	MaxScore int    `json:"max_score"`
}

// audioPayload carries synthesized speech inside JSON. Data is base64.
type audioPayload struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func payloadFor(clip types.AudioClip) *audioPayload {
	if clip.Empty() {
		return nil
	}
	return &audioPayload{MIMEType: clip.MIMEType, Data: clip.Data}
}

func newTurnResponse(res *turn.Result) turnResponse {
	return turnResponse{
		Result:      res,
		SpeechAudio: payloadFor(res.SpeechAudio),
		PromptAudio: payloadFor(res.Prompt.Audio),
	}
}

// ─── Handlers ────────────────────────────────────────────────────────────────

func (a *App) handleLevels(w http.ResponseWriter, _ *http.Request) {
	graphs := a.levels.Levels()
	out := make([]levelInfo, 0, len(graphs))
	for _, g := range graphs {
		out = append(out, levelInfo{
			ID:       g.ID(),
			Title:    g.Title(),
			Nodes:    len(g.Nodes()),
			MaxScore: g.MaxScore(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !readJSON(w, r, &req) {
		return
	}
	info, prompt, err := a.sessions.Start(r.Context(), req.Level)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{Session: info, Prompt: prompt, Audio: payloadFor(prompt.Audio)})
}

func (a *App) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	s, err := a.sessions.Active()
	if err != nil {
		writeMappedError(w, err)
		return
	}
	snap, err := s.Orchestrator().Snapshot()
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{Session: s.Info(), Snapshot: snap})
}

func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Stop(r.Context()); err != nil {
		writeMappedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleTurn(w http.ResponseWriter, r *http.Request) {
	s, err := a.sessions.Active()
	if err != nil {
		writeMappedError(w, err)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", err)
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	clip := types.AudioClip{Data: data, MIMEType: uploadMIME(r.Header.Get("Content-Type"))}

	res, err := s.Turn(r.Context(), clip)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTurnResponse(res))
}

func uploadMIME(contentType string) string {
	if contentType == "" || contentType == "application/octet-stream" {
		return defaultUploadMIME
	}
	return contentType
}

// ─── Responses ───────────────────────────────────────────────────────────────

// errorStatus maps domain errors to an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	var turnErr *turn.TurnError
	switch {
	case errors.Is(err, ErrNoSession):
		return http.StatusNotFound, "no_session"
	case errors.Is(err, quest.ErrUnknownLevel):
		return http.StatusNotFound, "unknown_level"
	case errors.Is(err, ErrNoRoleplay):
		return http.StatusNotFound, "no_roleplay"
	case errors.Is(err, roleplay.ErrUnknownLevel):
		return http.StatusBadRequest, "unknown_cefr_level"
	case errors.Is(err, roleplay.ErrConversationOver):
		return http.StatusConflict, "roleplay_over"
	case errors.Is(err, roleplay.ErrNoModelAnswer):
		return http.StatusServiceUnavailable, "no_model_answer"
	case errors.Is(err, turn.ErrCaptureBusy):
		return http.StatusConflict, "capture_busy"
	case errors.Is(err, turn.ErrSessionCompleted):
		return http.StatusConflict, "session_completed"
	case errors.Is(err, turn.ErrRecognitionFailed):
		return http.StatusBadGateway, "recognition_failed"
	case errors.Is(err, audio.ErrCaptureUnavailable):
		return http.StatusServiceUnavailable, "capture_unavailable"
	case errors.As(err, &turnErr):
		return http.StatusServiceUnavailable, "turn_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	writeError(w, status, code, err)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	if status >= http.StatusInternalServerError {
		slog.Warn("request failed", "code", code, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encoding failed","code":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
