package app

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/MrWong99/pingquest/internal/curriculum"
	"github.com/MrWong99/pingquest/internal/roleplay"
	"github.com/MrWong99/pingquest/pkg/types"
)

// maxJSONBytes caps JSON request bodies.
const maxJSONBytes = 1 << 16

// ─── Wire types ──────────────────────────────────────────────────────────────

type roleplayStartRequest struct {
	Scene string `json:"scene"`
	Level string `json:"level"`
}

type roleplayStartResponse struct {
	Roleplay      RoleplayInfo  `json:"roleplay"`
	Question      string        `json:"question"`
	QuestionAudio *audioPayload `json:"question_audio,omitempty"`
}

type roleplayTextRequest struct {
	Text string `json:"text"`
}

type roleplayTurnResponse struct {
	roleplay.Exchange
	CustomerAudio *audioPayload `json:"customer_audio,omitempty"`
}

type roleplaySnapshotResponse struct {
	Roleplay RoleplayInfo      `json:"roleplay"`
	Snapshot roleplay.Snapshot `json:"snapshot"`
}

type modelAnswerResponse struct {
	Ideal string `json:"ideal"`
}

type curriculumResponse struct {
	Plan         curriculum.Plan `json:"plan"`
	UsedFallback bool            `json:"used_fallback"`
	Stage        string          `json:"stage"`
}

// ─── Handlers ────────────────────────────────────────────────────────────────

func (a *App) handleRoleplayStart(w http.ResponseWriter, r *http.Request) {
	var req roleplayStartRequest
	if !readJSON(w, r, &req) {
		return
	}
	start, err := a.roleplays.Start(r.Context(), req.Scene, req.Level)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, roleplayStartResponse{
		Roleplay:      start.Info,
		Question:      start.Question,
		QuestionAudio: payloadFor(start.Audio),
	})
}

func (a *App) handleRoleplaySnapshot(w http.ResponseWriter, _ *http.Request) {
	info, snap, err := a.roleplays.Snapshot()
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roleplaySnapshotResponse{Roleplay: info, Snapshot: snap})
}

func (a *App) handleRoleplayStop(w http.ResponseWriter, r *http.Request) {
	if err := a.roleplays.Stop(r.Context()); err != nil {
		writeMappedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRoleplayTurn accepts either a JSON {"text": ...} body or raw audio.
func (a *App) handleRoleplayTurn(w http.ResponseWriter, r *http.Request) {
	var (
		res RoleplayTurn
		err error
	)
	if isJSON(r.Header.Get("Content-Type")) {
		var req roleplayTextRequest
		if !readJSON(w, r, &req) {
			return
		}
		res, err = a.roleplays.Respond(r.Context(), req.Text)
	} else {
		data, rerr := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
		if rerr != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(rerr, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "too_large", rerr)
				return
			}
			writeError(w, http.StatusBadRequest, "bad_request", rerr)
			return
		}
		clip := types.AudioClip{Data: data, MIMEType: uploadMIME(r.Header.Get("Content-Type"))}
		res, err = a.roleplays.RespondAudio(r.Context(), clip)
	}
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roleplayTurnResponse{Exchange: res.Exchange, CustomerAudio: payloadFor(res.Audio)})
}

func (a *App) handleRoleplayModel(w http.ResponseWriter, r *http.Request) {
	ideal, err := a.roleplays.ModelAnswer(r.Context())
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, modelAnswerResponse{Ideal: ideal})
}

func (a *App) handleCurriculum(w http.ResponseWriter, r *http.Request) {
	var demand curriculum.Demand
	if !readJSON(w, r, &demand) {
		return
	}
	out := a.planner.Plan(r.Context(), demand)
	writeJSON(w, http.StatusOK, curriculumResponse{
		Plan:         out.Plan,
		UsedFallback: out.UsedFallback,
		Stage:        out.Stage.String(),
	})
}

// readJSON decodes an optional JSON body into v. An empty body leaves v
// untouched. On failure it writes a 400 and returns false.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if err := sonic.ConfigStd.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return false
	}
	return true
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}
