package turn_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/pingquest/internal/feedback"
	"github.com/MrWong99/pingquest/internal/session"
	"github.com/MrWong99/pingquest/internal/turn"
	audiomock "github.com/MrWong99/pingquest/pkg/audio/mock"
	"github.com/MrWong99/pingquest/pkg/provider/llm"
	llmmock "github.com/MrWong99/pingquest/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/pingquest/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/pingquest/pkg/provider/tts/mock"
	"github.com/MrWong99/pingquest/pkg/types"
)

// ─── helpers ──────────────────────────────────────────────────────────────────

func runTurn(t *testing.T, o *turn.Orchestrator) *turn.Result {
	t.Helper()
	res, err := o.Turn(context.Background())
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	return res
}

// ─── end-to-end scenarios ─────────────────────────────────────────────────────

func TestOrchestrator_MissThenHit(t *testing.T) {
	t.Parallel()

	g := islandGraph(t)
	tr := &sttmock.Transcriber{Texts: []string{"I like pears.", "I like apples."}}
	o := turn.New(g, &audiomock.Capturer{}, tr)

	first := runTurn(t, o)
	if first.OK || !first.Judged {
		t.Fatalf("first attempt: ok=%v judged=%v, want judged miss", first.OK, first.Judged)
	}
	if diff := cmp.Diff(session.State{CurrentNode: "start", TurnIndex: 1}, first.State); diff != "" {
		t.Errorf("state after miss (-want +got):\n%s", diff)
	}
	if first.Prompt.Node != "start" {
		t.Errorf("retry prompt node = %q, want start", first.Prompt.Node)
	}
	if first.Speech != "Almost. Try again!" {
		t.Errorf("retry speech = %q, want retry hint", first.Speech)
	}

	second := runTurn(t, o)
	if !second.OK {
		t.Fatal("second attempt should match")
	}
	if second.State.Score != 1 || second.State.CurrentNode != "gate" {
		t.Errorf("state = %+v, want score 1 at gate", second.State)
	}
	if second.Prompt.Text != "A goblin. Say: I play tennis." {
		t.Errorf("next prompt = %q", second.Prompt.Text)
	}
	if second.Feedback.Feedback != feedback.DefaultPraise {
		t.Errorf("feedback = %q, want default praise", second.Feedback.Feedback)
	}
	if o.Phase() != turn.AwaitingCapture {
		t.Errorf("phase = %v, want awaiting_capture", o.Phase())
	}
}

func TestOrchestrator_FullQuestEndsWithMajorReward(t *testing.T) {
	t.Parallel()

	g := islandGraph(t)
	tr := &sttmock.Transcriber{Texts: []string{
		startLine,
		gateLine, // redirected to the treasure
		treasureLine,
		gateLine,
		bossLines[0],
		"I am weak.",
		bossLines[1],
		bossLines[2],
	}}
	o := turn.New(g, &audiomock.Capturer{}, tr)

	var last *turn.Result
	for i := 0; i < 8; i++ {
		last = runTurn(t, o)
		if i == 1 && last.State.CurrentNode != "treasure" {
			t.Fatalf("gate without key went to %q, want treasure", last.State.CurrentNode)
		}
		if i == 5 && last.State.BossHits != 1 {
			t.Fatalf("boss miss changed hits to %d", last.State.BossHits)
		}
	}
	if !last.Completed || last.Phase != turn.Completed {
		t.Fatalf("completed=%v phase=%v, want completed", last.Completed, last.Phase)
	}
	want := session.State{CurrentNode: "goal", HasKey: true, Score: 7, BossHits: 3, TurnIndex: 8}
	if diff := cmp.Diff(want, last.State); diff != "" {
		t.Errorf("final state (-want +got):\n%s", diff)
	}
	if last.Reward == nil || last.Reward.Name != "major" {
		t.Errorf("reward = %+v, want major", last.Reward)
	}
	if last.Prompt.Text != "You win!" {
		t.Errorf("completion prompt = %q", last.Prompt.Text)
	}

	if _, err := o.Turn(context.Background()); !errors.Is(err, turn.ErrSessionCompleted) {
		t.Fatalf("turn after goal: err = %v, want ErrSessionCompleted", err)
	}
}

func TestOrchestrator_FinalBossChallenge(t *testing.T) {
	t.Parallel()

	g := islandGraph(t)
	boss, _ := g.NodeFor("boss")
	at := session.State{CurrentNode: "boss", HasKey: true, Score: 5, BossHits: 2, TurnIndex: 9}

	next, err := turn.Advance(g, at, turn.Judge(boss, at.BossHits, bossLines[2]))
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if next.BossHits != 3 || next.CurrentNode != "goal" {
		t.Fatalf("state = %+v, want 3 hits at goal", next)
	}
	if tier := g.Rewards().Resolve(next.Score); tier.Name != "major" {
		t.Errorf("reward = %q, want major for score %d", tier.Name, next.Score)
	}
}

// ─── failures ─────────────────────────────────────────────────────────────────

func TestOrchestrator_CaptureFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	g := islandGraph(t)
	tr := &sttmock.Transcriber{Text: startLine}
	capErr := errors.New("microphone unplugged")
	o := turn.New(g, &audiomock.Capturer{Err: capErr}, tr)

	_, err := o.Turn(context.Background())
	var te *turn.TurnError
	if !errors.As(err, &te) || te.Phase != turn.AwaitingCapture {
		t.Fatalf("err = %v, want *TurnError in awaiting_capture", err)
	}
	if !errors.Is(err, turn.ErrCaptureUnavailable) || !errors.Is(err, capErr) {
		t.Errorf("err = %v, want ErrCaptureUnavailable wrapping the cause", err)
	}
	if o.State() != session.New(g) {
		t.Errorf("state = %+v, want untouched", o.State())
	}
	if len(tr.Calls) != 0 {
		t.Errorf("transcriber called %d times after capture failure", len(tr.Calls))
	}
}

func TestOrchestrator_RecognitionFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	g := islandGraph(t)
	tr := &sttmock.Transcriber{Err: errors.New("503")}
	o := turn.New(g, &audiomock.Capturer{}, tr)

	_, err := o.Turn(context.Background())
	if !errors.Is(err, turn.ErrRecognitionFailed) {
		t.Fatalf("err = %v, want ErrRecognitionFailed", err)
	}
	if got := o.State(); got.TurnIndex != 0 || got.CurrentNode != "start" {
		t.Errorf("state = %+v, want untouched", got)
	}
	if o.Phase() != turn.AwaitingCapture {
		t.Errorf("phase = %v, want awaiting_capture", o.Phase())
	}

	tr.Err = nil
	tr.Text = startLine
	res := runTurn(t, o)
	if res.State.CurrentNode != "gate" {
		t.Errorf("retry after failure: node = %q, want gate", res.State.CurrentNode)
	}
}

func TestOrchestrator_CaptureTimeoutIsSilence(t *testing.T) {
	t.Parallel()

	g := islandGraph(t)
	tr := &sttmock.Transcriber{Text: startLine}
	o := turn.New(g, &audiomock.Capturer{Block: true}, tr, turn.WithCaptureTimeout(20*time.Millisecond))

	res := runTurn(t, o)
	if res.OK || res.Recognized != "" {
		t.Errorf("result = %+v, want silent miss", res)
	}
	if res.State.TurnIndex != 1 {
		t.Errorf("turn index = %d, want 1", res.State.TurnIndex)
	}
	if len(tr.Calls) != 0 {
		t.Errorf("transcriber called for an empty clip")
	}
}

func TestOrchestrator_SecondCaptureRejected(t *testing.T) {
	t.Parallel()

	g := islandGraph(t)
	capturer := &audiomock.Capturer{Block: true}
	o := turn.New(g, capturer, &sttmock.Transcriber{}, turn.WithCaptureTimeout(500*time.Millisecond))

	done := make(chan error, 1)
	go func() {
		_, err := o.Turn(context.Background())
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for capturer.Calls() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first turn never started capturing")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := o.Turn(context.Background()); !errors.Is(err, turn.ErrCaptureBusy) {
		t.Errorf("concurrent Turn: err = %v, want ErrCaptureBusy", err)
	}
	if err := o.Reset(); !errors.Is(err, turn.ErrCaptureBusy) {
		t.Errorf("Reset during turn: err = %v, want ErrCaptureBusy", err)
	}
	if o.Phase() != turn.AwaitingCapture {
		t.Errorf("phase during capture = %v", o.Phase())
	}

	if err := <-done; err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if capturer.Calls() != 1 {
		t.Errorf("capture calls = %d, want 1", capturer.Calls())
	}
}

func TestOrchestrator_SynthesisFailureIsTextOnly(t *testing.T) {
	t.Parallel()

	g := islandGraph(t)
	synth := &ttsmock.Synthesizer{Err: errors.New("quota exceeded")}
	o := turn.New(g, &audiomock.Capturer{}, &sttmock.Transcriber{Text: startLine}, turn.WithSynthesizer(synth))

	p, err := o.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !p.Audio.Empty() {
		t.Errorf("prompt audio should be empty after synthesis failure")
	}

	res := runTurn(t, o)
	if res.State.CurrentNode != "gate" {
		t.Errorf("node = %q, want gate despite synthesis failure", res.State.CurrentNode)
	}
	if !res.SpeechAudio.Empty() || !res.Prompt.Audio.Empty() {
		t.Errorf("expected text-only result")
	}
}

// ─── responding ───────────────────────────────────────────────────────────────

func TestOrchestrator_SpeaksFeedbackAndPrompt(t *testing.T) {
	t.Parallel()

	g := islandGraph(t)
	model := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "```json\n{\"feedback\": \"Lovely apples!\", \"speech\": \"Lovely!\",}\n```",
	}}
	synth := &ttsmock.Synthesizer{}
	voice := types.VoiceProfile{ID: "coach"}
	o := turn.New(g, &audiomock.Capturer{}, &sttmock.Transcriber{Text: startLine},
		turn.WithSynthesizer(synth),
		turn.WithFeedback(feedback.NewGenerator(model)),
		turn.WithVoice(voice),
	)

	res := runTurn(t, o)
	if res.Feedback.Feedback != "Lovely apples!" || res.FeedbackFallback {
		t.Errorf("feedback = %+v fallback=%v, want repaired model output", res.Feedback, res.FeedbackFallback)
	}
	if string(res.SpeechAudio.Data) != "Lovely!" {
		t.Errorf("speech audio = %q", res.SpeechAudio.Data)
	}
	if diff := cmp.Diff([]string{"Lovely!", "A goblin. Say: I play tennis."}, synth.Texts()); diff != "" {
		t.Errorf("synthesized lines (-want +got):\n%s", diff)
	}
	if synth.Calls[0].Voice != voice {
		t.Errorf("voice = %+v, want %+v", synth.Calls[0].Voice, voice)
	}
	if len(model.CompleteCalls) != 1 {
		t.Fatalf("model calls = %d, want 1", len(model.CompleteCalls))
	}
}

func TestOrchestrator_NonJudgedStepSkipsFeedback(t *testing.T) {
	t.Parallel()

	g := forkGraph(t)
	model := &llmmock.Provider{}
	o := turn.New(g, &audiomock.Capturer{}, &sttmock.Transcriber{Text: "right"},
		turn.WithFeedback(feedback.NewGenerator(model)),
	)

	res := runTurn(t, o)
	if res.Judged || res.State.CurrentNode != "right" {
		t.Errorf("result = %+v, want non-judged move to right", res)
	}
	if len(model.CompleteCalls) != 0 {
		t.Errorf("model called for a non-judged step")
	}
	if res.Speech != "" {
		t.Errorf("speech = %q, want none", res.Speech)
	}
}

func TestOrchestrator_ModelCannotOverruleLocalJudgment(t *testing.T) {
	t.Parallel()

	g := islandGraph(t)
	model := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"feedback": "Perfect!", "speech": "Perfect!"}`,
	}}
	o := turn.New(g, &audiomock.Capturer{}, &sttmock.Transcriber{Text: "I like pears."},
		turn.WithFeedback(feedback.NewGenerator(model)),
	)

	res := runTurn(t, o)
	if res.OK || res.State.CurrentNode != "start" || res.State.Score != 0 {
		t.Errorf("result = %+v, want local miss to stand", res)
	}
}

// ─── readers ──────────────────────────────────────────────────────────────────

func TestOrchestrator_SnapshotAndTranscript(t *testing.T) {
	t.Parallel()

	g := islandGraph(t)
	o := turn.New(g, &audiomock.Capturer{}, &sttmock.Transcriber{Text: startLine})

	if _, err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	runTurn(t, o)

	snap, err := o.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Level != "island" || snap.State.CurrentNode != "gate" || snap.Completed {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Prompt.Expected != gateLine {
		t.Errorf("snapshot prompt expected = %q", snap.Prompt.Expected)
	}
	want := []session.Turn{
		{Speaker: session.SpeakerSystem, Text: "Hello. Say: I like apples.", Sequence: 1},
		{Speaker: session.SpeakerLearner, Text: startLine, Sequence: 2},
		{Speaker: session.SpeakerSystem, Text: feedback.DefaultPraise, Sequence: 3},
		{Speaker: session.SpeakerSystem, Text: "A goblin. Say: I play tennis.", Sequence: 4},
	}
	if diff := cmp.Diff(want, snap.Turns); diff != "" {
		t.Errorf("transcript (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, o.Transcript()); diff != "" {
		t.Errorf("Transcript() (-want +got):\n%s", diff)
	}
}

func TestOrchestrator_StartCancelled(t *testing.T) {
	t.Parallel()

	o := turn.New(islandGraph(t), &audiomock.Capturer{}, &sttmock.Transcriber{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := o.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Start = %v, want context.Canceled", err)
	}
	if n := len(o.Transcript()); n != 0 {
		t.Errorf("transcript has %d entries after a cancelled start", n)
	}
	if _, err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start after cancel: %v", err)
	}
}

func TestOrchestrator_Reset(t *testing.T) {
	t.Parallel()

	g := islandGraph(t)
	o := turn.New(g, &audiomock.Capturer{}, &sttmock.Transcriber{Text: startLine})
	runTurn(t, o)

	if err := o.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if o.State() != session.New(g) {
		t.Errorf("state after reset = %+v", o.State())
	}
	if len(o.Transcript()) != 0 {
		t.Errorf("transcript not cleared")
	}
	if snap, err := o.Snapshot(); err != nil || snap.Reward != nil {
		t.Errorf("Snapshot after reset = %+v, %v, want no reward", snap, err)
	}
	if o.Graph() != g {
		t.Errorf("Graph() changed")
	}
}
