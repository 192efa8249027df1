package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/pingquest/internal/observe"
	"github.com/MrWong99/pingquest/internal/roleplay"
	"github.com/MrWong99/pingquest/internal/turn"
	"github.com/MrWong99/pingquest/pkg/provider/stt"
	"github.com/MrWong99/pingquest/pkg/provider/tts"
	"github.com/MrWong99/pingquest/pkg/types"
)

// ErrNoRoleplay is returned when an operation needs a running role-play and
// none is.
var ErrNoRoleplay = errors.New("app: no active role-play")

// RoleplayInfo holds metadata about the active role-play.
type RoleplayInfo struct {
	ID        string         `json:"id"`
	Scene     string         `json:"scene"`
	Level     roleplay.Level `json:"level"`
	StartedAt time.Time      `json:"started_at"`
}

type activeRoleplay struct {
	info RoleplayInfo
	conv *roleplay.Conversation
}

// RoleplayManagerConfig holds all dependencies for a [RoleplayManager].
type RoleplayManagerConfig struct {
	// Partner plays the customer. Required.
	Partner *roleplay.Partner

	// Transcriber recognizes spoken answers. Required.
	Transcriber stt.Transcriber

	// Synthesizer voices the customer. Nil means text-only.
	Synthesizer tts.Synthesizer
	Voice       types.VoiceProfile

	// STTTimeout and TTSTimeout bound each collaborator call.
	STTTimeout time.Duration
	TTSTimeout time.Duration

	// DefaultScene and DefaultLevel apply when Start gets none.
	DefaultScene string
	DefaultLevel roleplay.Level

	// MaxExchanges is passed to every conversation.
	MaxExchanges int
}

// RoleplayManager runs at most one role-play at a time, next to the quest
// session. Starting a new one replaces it. All exported methods are safe for
// concurrent use.
type RoleplayManager struct {
	cfg RoleplayManagerConfig

	mu     sync.Mutex
	active *activeRoleplay
}

// NewRoleplayManager creates a RoleplayManager.
func NewRoleplayManager(cfg RoleplayManagerConfig) *RoleplayManager {
	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = roleplay.A2
	}
	return &RoleplayManager{cfg: cfg}
}

// RoleplayStart is the result of [RoleplayManager.Start].
type RoleplayStart struct {
	Info     RoleplayInfo
	Question string
	Audio    types.AudioClip
}

// Start begins a role-play in scene at level (a CEFR level, any case). The
// active role-play is replaced once the opening question is asked.
func (rm *RoleplayManager) Start(ctx context.Context, scene, level string) (RoleplayStart, error) {
	lvl := rm.cfg.DefaultLevel
	if level != "" {
		var err error
		if lvl, err = roleplay.ParseLevel(level); err != nil {
			return RoleplayStart{}, err
		}
	}
	if scene == "" {
		scene = rm.cfg.DefaultScene
	}

	conv := roleplay.NewConversation(rm.cfg.Partner, scene, lvl, rm.cfg.MaxExchanges)
	rp := &activeRoleplay{conv: conv}
	rp.info = RoleplayInfo{
		ID:        uuid.NewString(),
		Scene:     conv.Snapshot().Scene,
		Level:     lvl,
		StartedAt: time.Now().UTC(),
	}

	ctx = observe.WithSessionID(ctx, rp.info.ID)
	question, err := conv.Start(ctx)
	if err != nil {
		return RoleplayStart{}, fmt.Errorf("app: start role-play: %w", err)
	}

	rm.mu.Lock()
	prev := rm.active
	rm.active = rp
	rm.mu.Unlock()

	log := observe.Logger(ctx)
	if prev != nil {
		log.Info("role-play replaced", "replaced_session_id", prev.info.ID)
	}
	log.Info("role-play started", "scene", rp.info.Scene, "level", lvl)
	return RoleplayStart{Info: rp.info, Question: question, Audio: rm.speak(ctx, question)}, nil
}

// RoleplayTurn is the result of one learner answer.
type RoleplayTurn struct {
	Exchange roleplay.Exchange
	Audio    types.AudioClip
}

// Respond answers the active role-play with text the learner typed or that
// was already recognized.
func (rm *RoleplayManager) Respond(ctx context.Context, utterance string) (RoleplayTurn, error) {
	rp, err := rm.current()
	if err != nil {
		return RoleplayTurn{}, err
	}
	ctx = observe.WithSessionID(ctx, rp.info.ID)
	ex, err := rp.conv.Respond(ctx, utterance)
	if err != nil {
		return RoleplayTurn{}, err
	}
	observe.Logger(ctx).Info("role-play exchange",
		"score", ex.Evaluation.Score,
		"done", ex.Done,
		"fallback", ex.UsedFallback,
	)
	return RoleplayTurn{Exchange: ex, Audio: rm.speak(ctx, ex.Customer)}, nil
}

// RespondAudio recognizes clip and answers the active role-play with it. An
// empty clip is silence.
func (rm *RoleplayManager) RespondAudio(ctx context.Context, clip types.AudioClip) (RoleplayTurn, error) {
	if _, err := rm.current(); err != nil {
		return RoleplayTurn{}, err
	}
	var text string
	if !clip.Empty() {
		sttCtx, cancel := withTimeout(ctx, rm.cfg.STTTimeout)
		var err error
		text, err = rm.cfg.Transcriber.Transcribe(sttCtx, clip)
		cancel()
		if err != nil && !errors.Is(err, stt.ErrEmptyAudio) {
			return RoleplayTurn{}, fmt.Errorf("%w: %w", turn.ErrRecognitionFailed, err)
		}
	}
	return rm.Respond(ctx, text)
}

// ModelAnswer suggests an answer to the active role-play's current question.
func (rm *RoleplayManager) ModelAnswer(ctx context.Context) (string, error) {
	rp, err := rm.current()
	if err != nil {
		return "", err
	}
	return rp.conv.ModelAnswer(ctx)
}

// Snapshot returns the active role-play's metadata and progress.
func (rm *RoleplayManager) Snapshot() (RoleplayInfo, roleplay.Snapshot, error) {
	rp, err := rm.current()
	if err != nil {
		return RoleplayInfo{}, roleplay.Snapshot{}, err
	}
	return rp.info, rp.conv.Snapshot(), nil
}

// Stop ends the active role-play, or returns [ErrNoRoleplay].
func (rm *RoleplayManager) Stop(ctx context.Context) error {
	rm.mu.Lock()
	rp := rm.active
	rm.active = nil
	rm.mu.Unlock()
	if rp == nil {
		return ErrNoRoleplay
	}
	snap := rp.conv.Snapshot()
	observe.Logger(observe.WithSessionID(ctx, rp.info.ID)).Info("role-play stopped",
		"exchanges", snap.Exchanges,
		"total_score", snap.TotalScore,
		"done", snap.Done,
	)
	return nil
}

func (rm *RoleplayManager) current() (*activeRoleplay, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.active == nil {
		return nil, ErrNoRoleplay
	}
	return rm.active, nil
}

// speak synthesizes text. Failures degrade to text-only.
func (rm *RoleplayManager) speak(ctx context.Context, text string) types.AudioClip {
	if rm.cfg.Synthesizer == nil || text == "" {
		return types.AudioClip{}
	}
	ctx, cancel := withTimeout(ctx, rm.cfg.TTSTimeout)
	defer cancel()
	clip, err := rm.cfg.Synthesizer.Synthesize(ctx, text, rm.cfg.Voice)
	if err != nil {
		observe.Logger(ctx).Warn("role-play synthesis failed, continuing text-only", "err", err)
		return types.AudioClip{}
	}
	return clip
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
