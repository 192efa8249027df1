package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/pingquest/internal/feedback"
	"github.com/MrWong99/pingquest/internal/observe"
	"github.com/MrWong99/pingquest/internal/quest"
	"github.com/MrWong99/pingquest/internal/reward"
	"github.com/MrWong99/pingquest/internal/session"
	"github.com/MrWong99/pingquest/pkg/audio"
	"github.com/MrWong99/pingquest/pkg/provider/stt"
	"github.com/MrWong99/pingquest/pkg/provider/tts"
	"github.com/MrWong99/pingquest/pkg/types"
)

const (
	defaultCaptureTimeout = 5 * time.Second
	defaultSTTTimeout     = 15 * time.Second
	defaultLLMTimeout     = 10 * time.Second
	defaultTTSTimeout     = 10 * time.Second
	defaultRetryHint      = "Almost. Try again!"
)

// Prompt is a line the learner should react to.
type Prompt struct {
	Node quest.NodeID `json:"node"`
	Kind string       `json:"kind"`
	Text string       `json:"text"`

	// Expected is the sentence to repeat, empty for a non-judged step.
	Expected string `json:"expected,omitempty"`

	// Audio is the synthesized prompt. Empty when no synthesizer is
	// configured or synthesis failed.
	Audio types.AudioClip `json:"-"`
}

// Result describes one completed turn.
type Result struct {
	// Recognized is what the transcriber heard.
	Recognized string `json:"recognized"`

	// Judged reports whether the attempt was scored; OK is the verdict.
	Judged bool `json:"judged"`
	OK     bool `json:"ok"`

	// Similarity and NearMiss grade a judged attempt.
	Similarity float64 `json:"similarity"`
	NearMiss   bool    `json:"near_miss"`

	// Feedback is the advisory reaction. Zero for non-judged steps.
	Feedback         feedback.Feedback `json:"feedback"`
	FeedbackFallback bool              `json:"feedback_fallback"`

	// Speech is the line spoken before the next prompt; SpeechAudio its audio.
	Speech      string          `json:"speech,omitempty"`
	SpeechAudio types.AudioClip `json:"-"`

	// State is the committed session state after the turn.
	State session.State `json:"state"`
	Phase Phase         `json:"phase"`

	// Prompt is the next prompt; the same node again after a miss.
	Prompt Prompt `json:"prompt"`

	Completed bool         `json:"completed"`
	Reward    *reward.Tier `json:"reward,omitempty"`
}

// Snapshot is a consistent view of the session for readers between turns.
type Snapshot struct {
	Level     string         `json:"level"`
	State     session.State  `json:"state"`
	Phase     Phase          `json:"phase"`
	Prompt    Prompt         `json:"prompt"`
	Completed bool           `json:"completed"`
	Reward    *reward.Tier   `json:"reward,omitempty"`
	MaxScore  int            `json:"max_score"`
	Turns     []session.Turn `json:"transcript"`
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithSynthesizer sets the speech synthesizer for prompts and feedback. Without
// one the orchestrator runs text-only.
func WithSynthesizer(s tts.Synthesizer) Option {
	return func(o *Orchestrator) { o.synth = s }
}

// WithFeedback sets the feedback generator. Without one every judged attempt
// gets the built-in default feedback.
func WithFeedback(g *feedback.Generator) Option {
	return func(o *Orchestrator) { o.feedback = g }
}

// WithVoice sets the voice profile passed to the synthesizer.
func WithVoice(v types.VoiceProfile) Option {
	return func(o *Orchestrator) { o.voice = v }
}

// WithCaptureTimeout bounds how long a turn waits for the learner's recording.
// Defaults to 5s.
func WithCaptureTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.captureTimeout = d }
}

// WithSTTTimeout bounds one transcription. Defaults to 15s.
func WithSTTTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.sttTimeout = d }
}

// WithLLMTimeout bounds one feedback generation. Defaults to 10s.
func WithLLMTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.llmTimeout = d }
}

// WithTTSTimeout bounds one synthesis. Defaults to 10s.
func WithTTSTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.ttsTimeout = d }
}

// WithRetryHint sets the line spoken after a miss when the model gave no
// usable feedback.
func WithRetryHint(hint string) Option {
	return func(o *Orchestrator) { o.retryHint = hint }
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator runs turns for one learner on one level.
//
// Turn, Start and Reset are mutually exclusive: a call made while another is in
// flight fails with [ErrCaptureBusy]. Snapshot, Phase and Transcript may be
// called at any time.
type Orchestrator struct {
	graph       *quest.Graph
	capturer    audio.Capturer
	transcriber stt.Transcriber

	synth          tts.Synthesizer
	feedback       *feedback.Generator
	voice          types.VoiceProfile
	captureTimeout time.Duration
	sttTimeout     time.Duration
	llmTimeout     time.Duration
	ttsTimeout     time.Duration
	retryHint      string
	metrics        *observe.Metrics

	busy atomic.Bool

	mu         sync.Mutex
	state      session.State
	phase      Phase
	transcript *session.Transcript
	reward     *reward.Tier
}

// New creates an Orchestrator positioned at the start of graph.
func New(graph *quest.Graph, capturer audio.Capturer, transcriber stt.Transcriber, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		graph:          graph,
		capturer:       capturer,
		transcriber:    transcriber,
		captureTimeout: defaultCaptureTimeout,
		sttTimeout:     defaultSTTTimeout,
		llmTimeout:     defaultLLMTimeout,
		ttsTimeout:     defaultTTSTimeout,
		retryHint:      defaultRetryHint,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	o.resetLocked()
	return o
}

// Graph returns the level being played.
func (o *Orchestrator) Graph() *quest.Graph { return o.graph }

// Start issues the prompt for the current node and records it in the
// transcript. It is called once when a session begins and may be called again
// to repeat the current prompt. A cancelled ctx fails before anything is
// recorded.
func (o *Orchestrator) Start(ctx context.Context) (Prompt, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return Prompt{}, ErrCaptureBusy
	}
	defer o.busy.Store(false)
	if err := ctx.Err(); err != nil {
		return Prompt{}, err
	}

	o.mu.Lock()
	state := o.state
	o.mu.Unlock()

	p, err := o.prompt(state)
	if err != nil {
		return Prompt{}, err
	}
	o.transcript.Append(session.SpeakerSystem, p.Text)
	p.Audio = o.speak(ctx, p.Text)
	return p, nil
}

// Turn runs one full cycle: capture, recognize, judge, transition, respond.
//
// A capture or recognition failure returns a *[TurnError] and leaves the
// state untouched. A capture that hits its deadline counts as silence, which is
// a judged miss. Feedback and synthesis failures degrade to defaults and never
// fail the turn.
func (o *Orchestrator) Turn(ctx context.Context) (*Result, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return nil, ErrCaptureBusy
	}
	defer o.busy.Store(false)

	start := time.Now()
	level := o.graph.ID()
	levelAttr := metric.WithAttributes(observe.AttrLevel.String(level))

	o.mu.Lock()
	state := o.state
	o.mu.Unlock()

	ctx, span := observe.StartTurnSpan(ctx, level, string(state.CurrentNode), state.TurnIndex)
	defer span.End()

	node, err := o.graph.NodeFor(state.CurrentNode)
	if err != nil {
		return nil, err
	}
	if node.IsGoal() {
		return nil, ErrSessionCompleted
	}

	res, err := o.run(ctx, node, state)
	if err != nil {
		o.setPhase(AwaitingCapture)
		o.metrics.RecordTurn(ctx, level, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observe.Logger(ctx).Warn("turn failed, state unchanged", "level", level, "node", node.ID, "err", err)
		return nil, err
	}

	outcome := "advance"
	switch {
	case res.Judged && res.OK:
		outcome = "match"
	case res.Judged:
		outcome = "miss"
	}
	o.metrics.RecordTurn(ctx, level, outcome)
	o.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds(), levelAttr)
	span.SetAttributes(attribute.String("outcome", outcome), attribute.Int("score", res.State.Score))
	observe.Logger(ctx).Info("turn finished",
		"level", level,
		"node", node.ID,
		"outcome", outcome,
		"next", res.State.CurrentNode,
		"score", res.State.Score,
		"boss_hits", res.State.BossHits,
	)
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, node quest.Node, state session.State) (*Result, error) {
	levelAttr := metric.WithAttributes(observe.AttrLevel.String(o.graph.ID()))

	// Capture.
	o.setPhase(AwaitingCapture)
	capCtx, cancel := context.WithTimeout(ctx, o.captureTimeout)
	t0 := time.Now()
	clip, err := o.capturer.Capture(capCtx)
	cancel()
	o.metrics.CaptureDuration.Record(ctx, time.Since(t0).Seconds(), levelAttr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &TurnError{Phase: AwaitingCapture, Err: ctx.Err()}
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			if !errors.Is(err, audio.ErrCaptureUnavailable) {
				err = fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
			}
			return nil, &TurnError{Phase: AwaitingCapture, Err: err}
		}
		clip = types.AudioClip{}
	}

	// Recognize.
	o.setPhase(Recognizing)
	var heard string
	if !clip.Empty() {
		sttCtx, cancel := context.WithTimeout(ctx, o.sttTimeout)
		t0 = time.Now()
		heard, err = o.transcriber.Transcribe(sttCtx, clip)
		cancel()
		o.metrics.STTDuration.Record(ctx, time.Since(t0).Seconds(), levelAttr)
		if err != nil && !errors.Is(err, stt.ErrEmptyAudio) {
			return nil, &TurnError{Phase: Recognizing, Err: fmt.Errorf("%w: %w", ErrRecognitionFailed, err)}
		}
		heard = strings.TrimSpace(heard)
	}

	// Judge.
	o.setPhase(Judging)
	j := Judge(node, state.BossHits, heard)

	// Transition.
	o.setPhase(Transitioning)
	next, err := Advance(o.graph, state, j)
	if err != nil {
		return nil, err
	}

	// Respond.
	o.setPhase(Responding)
	res := &Result{
		Recognized: heard,
		Judged:     j.Judged(),
		OK:         j.OK,
		Similarity: j.Similarity,
		NearMiss:   j.NearMiss,
		State:      next,
	}
	if j.Judged() {
		fb := o.generateFeedback(ctx, node, state, j)
		res.Feedback = fb.Feedback
		res.FeedbackFallback = fb.UsedFallback
		res.Speech = fb.Feedback.Speech
		if !j.OK && fb.UsedFallback && o.retryHint != "" {
			res.Speech = o.retryHint
		}
	}

	prompt, err := o.prompt(next)
	if err != nil {
		return nil, err
	}
	completed := next.Completed(o.graph)
	var tier *reward.Tier
	if completed {
		t := o.graph.Rewards().Resolve(next.Score)
		tier = &t
		o.metrics.RecordReward(ctx, o.graph.ID(), t.Name)
	}

	// Commit.
	o.mu.Lock()
	o.state = next
	o.reward = tier
	if completed {
		o.phase = Completed
	} else {
		o.phase = AwaitingCapture
	}
	res.Phase = o.phase
	o.mu.Unlock()

	if heard != "" {
		o.transcript.Append(session.SpeakerLearner, heard)
	}
	if res.Speech != "" {
		o.transcript.Append(session.SpeakerSystem, res.Speech)
	}
	o.transcript.Append(session.SpeakerSystem, prompt.Text)

	res.SpeechAudio = o.speak(ctx, res.Speech)
	prompt.Audio = o.speak(ctx, prompt.Text)
	res.Prompt = prompt
	res.Completed = completed
	res.Reward = tier
	return res, nil
}

func (o *Orchestrator) generateFeedback(ctx context.Context, node quest.Node, state session.State, j Judgment) feedback.Outcome {
	if o.feedback == nil {
		return feedback.Outcome{Feedback: feedback.Default(j.OK), UsedFallback: true}
	}
	llmCtx, cancel := context.WithTimeout(ctx, o.llmTimeout)
	defer cancel()
	t0 := time.Now()
	out := o.feedback.Generate(llmCtx, feedback.Request{
		Expected:   j.Expected,
		Recognized: j.Utterance,
		OK:         j.OK,
		NearMiss:   j.NearMiss,
		Node:       string(node.ID),
		Kind:       node.Kind(),
		Score:      state.Score,
		BossHits:   state.BossHits,
	})
	o.metrics.LLMDuration.Record(ctx, time.Since(t0).Seconds())
	o.metrics.RecordFeedbackStage(ctx, out.Stage.String())
	return out
}

// speak synthesizes text. Failures are logged and yield an empty clip.
func (o *Orchestrator) speak(ctx context.Context, text string) types.AudioClip {
	if o.synth == nil || strings.TrimSpace(text) == "" {
		return types.AudioClip{}
	}
	ttsCtx, cancel := context.WithTimeout(ctx, o.ttsTimeout)
	defer cancel()
	t0 := time.Now()
	clip, err := o.synth.Synthesize(ttsCtx, text, o.voice)
	o.metrics.TTSDuration.Record(ctx, time.Since(t0).Seconds())
	if err != nil {
		observe.Logger(ctx).Warn("speech synthesis failed, continuing text-only", "err", err)
		return types.AudioClip{}
	}
	return clip
}

func (o *Orchestrator) prompt(s session.State) (Prompt, error) {
	node, err := o.graph.NodeFor(s.CurrentNode)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{
		Node:     node.ID,
		Kind:     node.Kind(),
		Text:     PromptText(node, s.BossHits),
		Expected: expectedFor(node, s.BossHits),
	}, nil
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// State returns the committed session state.
func (o *Orchestrator) State() session.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Transcript returns a copy of every transcript entry so far.
func (o *Orchestrator) Transcript() []session.Turn {
	o.mu.Lock()
	t := o.transcript
	o.mu.Unlock()
	return t.Turns()
}

// Snapshot returns the committed state together with the current prompt and
// transcript.
func (o *Orchestrator) Snapshot() (Snapshot, error) {
	o.mu.Lock()
	state, phase, tier, t := o.state, o.phase, o.reward, o.transcript
	o.mu.Unlock()

	p, err := o.prompt(state)
	if err != nil {
		return Snapshot{}, fmt.Errorf("turn: snapshot: %w", err)
	}
	return Snapshot{
		Level:     o.graph.ID(),
		State:     state,
		Phase:     phase,
		Prompt:    p,
		Completed: state.Completed(o.graph),
		Reward:    tier,
		MaxScore:  o.graph.MaxScore(),
		Turns:     t.Turns(),
	}, nil
}

// Reset discards all progress and returns to the start node. It fails with
// [ErrCaptureBusy] while a turn is in flight.
func (o *Orchestrator) Reset() error {
	if !o.busy.CompareAndSwap(false, true) {
		return ErrCaptureBusy
	}
	defer o.busy.Store(false)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resetLocked()
	return nil
}

func (o *Orchestrator) resetLocked() {
	o.state = session.New(o.graph)
	o.phase = AwaitingCapture
	o.transcript = &session.Transcript{}
	o.reward = nil
}
