package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/pingquest/internal/observe"
	"github.com/MrWong99/pingquest/internal/quest"
	"github.com/MrWong99/pingquest/internal/turn"
	"github.com/MrWong99/pingquest/pkg/audio"
	"github.com/MrWong99/pingquest/pkg/provider/stt"
	"github.com/MrWong99/pingquest/pkg/types"
)

// ErrNoSession is returned when an operation needs an active session and
// none is running.
var ErrNoSession = errors.New("app: no active session")

// SessionInfo holds metadata about the active session.
type SessionInfo struct {
	// ID is the unique identifier for this session.
	ID string `json:"id"`

	// Level is the id of the level being played.
	Level string `json:"level"`

	// StartedAt is when the session was started.
	StartedAt time.Time `json:"started_at"`
}

// Session is one learner playing one level. Recordings are handed to the
// orchestrator through an upload capturer.
type Session struct {
	info   SessionInfo
	orch   *turn.Orchestrator
	upload *audio.Upload
}

// Info returns the session metadata.
func (s *Session) Info() SessionInfo { return s.info }

// Orchestrator returns the turn orchestrator driving this session.
func (s *Session) Orchestrator() *turn.Orchestrator { return s.orch }

// Turn runs one turn with clip as the learner's recording. An empty clip is
// silence. While another turn is in flight Turn fails with
// [turn.ErrCaptureBusy] and clip is dropped.
func (s *Session) Turn(ctx context.Context, clip types.AudioClip) (*turn.Result, error) {
	if err := s.upload.Offer(clip); err != nil {
		if errors.Is(err, audio.ErrUploadPending) {
			return nil, turn.ErrCaptureBusy
		}
		return nil, err
	}
	res, err := s.orch.Turn(observe.WithSessionID(ctx, s.info.ID))
	if err != nil {
		// Turns that fail before capturing leave the clip queued.
		s.upload.Discard()
	}
	return res, err
}

func (s *Session) close() {
	_ = s.upload.Close()
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// Levels is the set of playable levels.
	Levels *quest.Store

	// Transcriber recognizes learner speech. Required.
	Transcriber stt.Transcriber

	// DefaultLevel is played when Start is called without a level. Empty
	// selects the built-in level, or the first level when that is absent.
	DefaultLevel string

	// TurnOptions are passed to every orchestrator the manager creates.
	TurnOptions []turn.Option

	// Metrics receives the active session gauge. Nil uses the default.
	Metrics *observe.Metrics
}

// SessionManager manages the lifecycle of learner sessions.
// Only one session can be active at a time; starting a new one replaces it.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu     sync.Mutex
	active *Session

	levels       *quest.Store
	transcriber  stt.Transcriber
	defaultLevel string
	turnOpts     []turn.Option
	metrics      *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &SessionManager{
		levels:       cfg.Levels,
		transcriber:  cfg.Transcriber,
		defaultLevel: cfg.DefaultLevel,
		turnOpts:     cfg.TurnOptions,
		metrics:      m,
	}
}

// Start begins a new session on levelID and returns its first prompt. The new
// session replaces the active one only once its first prompt is issued; unknown
// levels ([quest.ErrUnknownLevel]) and failed starts leave the active session
// running.
func (sm *SessionManager) Start(ctx context.Context, levelID string) (SessionInfo, turn.Prompt, error) {
	if levelID == "" {
		levelID = sm.resolveDefaultLevel()
	}
	graph, err := sm.levels.Level(levelID)
	if err != nil {
		return SessionInfo{}, turn.Prompt{}, fmt.Errorf("app: start session: %w", err)
	}

	upload := audio.NewUpload()
	s := &Session{
		info: SessionInfo{
			ID:        uuid.NewString(),
			Level:     graph.ID(),
			StartedAt: time.Now().UTC(),
		},
		orch:   turn.New(graph, upload, sm.transcriber, sm.turnOpts...),
		upload: upload,
	}

	ctx = observe.WithSessionID(ctx, s.info.ID)
	prompt, err := s.orch.Start(ctx)
	if err != nil {
		s.close()
		return SessionInfo{}, turn.Prompt{}, fmt.Errorf("app: start session: %w", err)
	}

	sm.mu.Lock()
	prev := sm.active
	sm.active = s
	sm.mu.Unlock()

	if prev != nil {
		prev.close()
		observe.Logger(ctx).Info("session replaced", "replaced_session_id", prev.info.ID, "replaced_level", prev.info.Level)
	} else {
		sm.metrics.ActiveSessions.Add(ctx, 1)
	}

	observe.Logger(ctx).Info("session started", "level", s.info.Level)
	return s.info, prompt, nil
}

// Stop ends the active session. A turn waiting for audio fails with
// [audio.ErrCaptureUnavailable].
//
// Returns [ErrNoSession] if no session is active.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	s := sm.active
	sm.active = nil
	sm.mu.Unlock()

	if s == nil {
		return ErrNoSession
	}
	s.close()
	sm.metrics.ActiveSessions.Add(ctx, -1)

	state := s.orch.State()
	observe.Logger(observe.WithSessionID(ctx, s.info.ID)).Info("session stopped",
		"level", s.info.Level,
		"score", state.Score,
		"completed", state.Completed(s.orch.Graph()),
	)
	return nil
}

// Active returns the running session, or [ErrNoSession].
func (sm *SessionManager) Active() (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active == nil {
		return nil, ErrNoSession
	}
	return sm.active, nil
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active != nil
}

// Info returns metadata about the active session.
// Returns zero value if no session is active.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active == nil {
		return SessionInfo{}
	}
	return sm.active.info
}

func (sm *SessionManager) resolveDefaultLevel() string {
	if sm.defaultLevel != "" {
		return sm.defaultLevel
	}
	if _, err := sm.levels.Level(quest.BuiltinLevelID); err == nil {
		return quest.BuiltinLevelID
	}
	if levels := sm.levels.Levels(); len(levels) > 0 {
		return levels[0].ID()
	}
	return quest.BuiltinLevelID
}
