// Package turn drives one learner through a quest graph, one spoken attempt
// at a time.
//
// The package has two layers:
//
//   - [Advance] is a pure reducer: given a graph, the current
//     [session.State] and a [Judgment], it returns the next state. All
//     transition rules (scoring, the key, boss rounds, gating) live there.
//   - [Orchestrator] sequences the side effects of a turn around that reducer:
//     capture, recognition, judgment, feedback generation and speech
//     synthesis. It owns the session state and commits it only when a turn
//     completes.
//
// # Phases
//
//	AwaitingCapture → Recognizing → Judging → Transitioning → Responding → AwaitingCapture
//
// The terminal phase [Completed] is entered once the learner reaches the goal.
package turn

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/pingquest/internal/match"
	"github.com/MrWong99/pingquest/internal/quest"
	"github.com/MrWong99/pingquest/pkg/audio"
)

// Phase is the orchestrator's position within a turn.
type Phase int

const (
	AwaitingCapture Phase = iota
	Recognizing
	Judging
	Transitioning
	Responding
	Completed
)

// String returns the phase name used in logs and API responses.
func (p Phase) String() string {
	switch p {
	case AwaitingCapture:
		return "awaiting_capture"
	case Recognizing:
		return "recognizing"
	case Judging:
		return "judging"
	case Transitioning:
		return "transitioning"
	case Responding:
		return "responding"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

var (
	// ErrCaptureBusy is returned when a turn is started while another one is
	// still capturing or processing.
	ErrCaptureBusy = errors.New("turn: a capture is already in progress")

	// ErrSessionCompleted is returned when a turn is attempted after the
	// learner reached the goal.
	ErrSessionCompleted = errors.New("turn: session already completed")

	// ErrRecognitionFailed wraps a transcriber failure.
	ErrRecognitionFailed = errors.New("turn: recognition failed")

	// ErrCaptureUnavailable wraps a capture failure.
	ErrCaptureUnavailable = audio.ErrCaptureUnavailable
)

// TurnError is a recoverable turn failure. The session state is unchanged and
// the same prompt is re-issued on the next attempt.
type TurnError struct {
	// Phase is where the turn stopped.
	Phase Phase
	Err   error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn: %s: %v", e.Phase, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// Judgment is the local verdict on one attempt.
type Judgment struct {
	// Utterance is the recognized text, possibly empty.
	Utterance string

	// Expected is what the learner had to say. Empty for a non-judged step.
	Expected string

	// OK reports an exact normalized match. Always false when Expected is
	// empty.
	OK bool

	// Similarity grades the attempt in [0, 1]; NearMiss flags a close miss.
	// Neither affects OK.
	Similarity float64
	NearMiss   bool
}

// Judged reports whether the attempt was scored.
func (j Judgment) Judged() bool { return j.Expected != "" }

// Judge compares utterance with what node expects after bossHits boss rounds.
func Judge(node quest.Node, bossHits int, utterance string) Judgment {
	expected := expectedFor(node, bossHits)
	j := Judgment{
		Utterance: utterance,
		Expected:  expected,
		OK:        match.Matches(utterance, expected),
	}
	if expected != "" {
		j.Similarity = match.Similarity(utterance, expected)
		j.NearMiss = match.NearMiss(utterance, expected)
	}
	return j
}

// PromptText is the line spoken when node becomes current. Judged nodes end
// with the sentence to repeat.
func PromptText(node quest.Node, bossHits int) string {
	expected := expectedFor(node, bossHits)
	if expected == "" {
		return node.Prompt
	}
	if node.Prompt == "" {
		return "Say: " + expected
	}
	return strings.TrimSpace(node.Prompt) + " Say: " + expected
}

// expectedFor is the utterance to judge, or "" when the node has nothing
// matchable at bossHits.
func expectedFor(node quest.Node, bossHits int) string {
	if !node.Judged(bossHits) {
		return ""
	}
	return node.ExpectedFor(bossHits)
}
