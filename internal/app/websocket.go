package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"

	"github.com/MrWong99/pingquest/internal/turn"
	"github.com/MrWong99/pingquest/pkg/types"
)

// Event types sent to WebSocket clients.
const (
	EventSession  = "session"
	EventTurn     = "turn"
	EventSnapshot = "snapshot"
	EventStopped  = "stopped"
	EventError    = "error"
)

// wsCommand is a text frame sent by the client.
//
//	{"type":"start","level":"pingpong"}
//	{"type":"snapshot"}
//	{"type":"stop"}
type wsCommand struct {
	Type  string `json:"type"`
	Level string `json:"level,omitempty"`
}

// wsEvent is a text frame sent to the client.
type wsEvent struct {
	Type        string         `json:"type"`
	Session     *SessionInfo   `json:"session,omitempty"`
	Prompt      *turn.Prompt   `json:"prompt,omitempty"`
	PromptAudio *audioPayload  `json:"prompt_audio,omitempty"`
	Turn        *turnResponse  `json:"turn,omitempty"`
	Snapshot    *turn.Snapshot `json:"snapshot,omitempty"`
	Error       string         `json:"error,omitempty"`
	Code        string         `json:"code,omitempty"`
}

// handleWebSocket serves GET /v1/session/ws. Binary frames are learner
// recordings, each running one turn on the active session; the MIME type of
// every recording is taken from the "mime" query parameter. Text frames are
// JSON commands. Every reply is a JSON text frame.
func (a *App) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxUploadBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		select {
		case <-a.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	mimeType := uploadMIME(r.URL.Query().Get("mime"))
	slog.Debug("websocket connected", "remote", r.RemoteAddr, "mime", mimeType)

	if s, err := a.sessions.Active(); err == nil {
		if err := writeEvent(ctx, conn, snapshotEvent(s)); err != nil {
			return
		}
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					slog.Debug("websocket read failed", "err", err)
				}
			}
			if ctx.Err() != nil {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
			}
			return
		}

		var ev wsEvent
		if typ == websocket.MessageBinary {
			ev = a.wsTurn(ctx, types.AudioClip{Data: data, MIMEType: mimeType})
		} else {
			ev = a.wsCommand(ctx, data)
		}
		if err := writeEvent(ctx, conn, ev); err != nil {
			return
		}
	}
}

func (a *App) wsTurn(ctx context.Context, clip types.AudioClip) wsEvent {
	s, err := a.sessions.Active()
	if err != nil {
		return errorEvent(err)
	}
	res, err := s.Turn(ctx, clip)
	if err != nil {
		return errorEvent(err)
	}
	tr := newTurnResponse(res)
	return wsEvent{Type: EventTurn, Turn: &tr}
}

func (a *App) wsCommand(ctx context.Context, data []byte) wsEvent {
	var cmd wsCommand
	if err := sonic.ConfigStd.Unmarshal(data, &cmd); err != nil {
		return wsEvent{Type: EventError, Error: "invalid command: " + err.Error(), Code: "bad_request"}
	}
	switch cmd.Type {
	case "start":
		info, prompt, err := a.sessions.Start(ctx, cmd.Level)
		if err != nil {
			return errorEvent(err)
		}
		return wsEvent{Type: EventSession, Session: &info, Prompt: &prompt, PromptAudio: payloadFor(prompt.Audio)}
	case "snapshot":
		s, err := a.sessions.Active()
		if err != nil {
			return errorEvent(err)
		}
		return snapshotEvent(s)
	case "stop":
		if err := a.sessions.Stop(ctx); err != nil {
			return errorEvent(err)
		}
		return wsEvent{Type: EventStopped}
	default:
		return wsEvent{Type: EventError, Error: fmt.Sprintf("unknown command %q", cmd.Type), Code: "bad_request"}
	}
}

func snapshotEvent(s *Session) wsEvent {
	snap, err := s.Orchestrator().Snapshot()
	if err != nil {
		return errorEvent(err)
	}
	info := s.Info()
	return wsEvent{Type: EventSnapshot, Session: &info, Snapshot: &snap}
}

func errorEvent(err error) wsEvent {
	_, code := errorStatus(err)
	return wsEvent{Type: EventError, Error: err.Error(), Code: code}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev wsEvent) error {
	data, err := sonic.ConfigStd.Marshal(ev)
	if err != nil {
		return fmt.Errorf("app: encode websocket event: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
