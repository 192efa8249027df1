package roleplay

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/MrWong99/pingquest/internal/session"
)

// DefaultMaxExchanges ends a role-play whose customer never says it is done.
const DefaultMaxExchanges = 10

var (
	// ErrConversationOver is returned when the learner answers after the
	// conversation has ended.
	ErrConversationOver = errors.New("roleplay: conversation is over")

	// ErrNotStarted is returned when the learner answers before the opening
	// question was asked.
	ErrNotStarted = errors.New("roleplay: conversation not started")
)

// Exchange is the outcome of one learner answer.
type Exchange struct {
	// Utterance is what the learner said.
	Utterance string `json:"utterance"`

	// Evaluation scores the answer against the question it replied to.
	Evaluation Evaluation `json:"evaluation"`

	// Customer is the customer's next line. Empty when the customer ended the
	// conversation without saying anything else.
	Customer string `json:"customer"`

	// Done is set once the conversation has ended.
	Done bool `json:"done"`

	// UsedFallback is set when the evaluation is the built-in default.
	UsedFallback bool `json:"used_fallback"`
}

// Snapshot is a copy of a conversation's progress.
type Snapshot struct {
	Scene      string         `json:"scene"`
	Level      Level          `json:"level"`
	Question   string         `json:"question"`
	Exchanges  int            `json:"exchanges"`
	TotalScore int            `json:"total_score"`
	Done       bool           `json:"done"`
	Turns      []session.Turn `json:"turns"`
}

// Conversation is one role-play. The customer's lines are recorded as system
// turns and the learner's answers as learner turns. It is safe for
// concurrent use, but answers are processed one at a time.
type Conversation struct {
	partner      *Partner
	scene        string
	level        Level
	maxExchanges int

	// turnMu serializes Start and Respond.
	turnMu sync.Mutex

	mu         sync.Mutex
	transcript session.Transcript
	question   string
	exchanges  int
	totalScore int
	started    bool
	done       bool
}

// NewConversation returns a role-play in scene at level. An empty scene
// selects [DefaultScene]; maxExchanges <= 0 selects [DefaultMaxExchanges].
func NewConversation(p *Partner, scene string, level Level, maxExchanges int) *Conversation {
	scene = strings.TrimSpace(scene)
	if scene == "" {
		scene = DefaultScene
	}
	if maxExchanges <= 0 {
		maxExchanges = DefaultMaxExchanges
	}
	return &Conversation{partner: p, scene: scene, level: level, maxExchanges: maxExchanges}
}

// Start asks the opening question and returns it. Calling Start again
// repeats the current question without asking the model.
func (c *Conversation) Start(ctx context.Context) (string, error) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	c.mu.Lock()
	if c.started {
		q := c.question
		c.mu.Unlock()
		return q, nil
	}
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	q, _ := c.partner.Opening(ctx, c.scene, c.level)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	c.question = q
	c.transcript.Append(session.SpeakerSystem, q)
	return q, nil
}

// Respond evaluates the learner's answer and asks the customer for the next
// line. The conversation ends when the customer marks its line with
// [DoneMarker] or after the exchange limit.
func (c *Conversation) Respond(ctx context.Context, utterance string) (Exchange, error) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	c.mu.Lock()
	started, done, question := c.started, c.done, c.question
	c.mu.Unlock()
	switch {
	case !started:
		return Exchange{}, ErrNotStarted
	case done:
		return Exchange{}, ErrConversationOver
	}

	utterance = strings.TrimSpace(utterance)
	eval := c.partner.Evaluate(ctx, EvaluateRequest{
		Scene:     c.scene,
		Level:     c.level,
		Question:  question,
		Utterance: utterance,
	})
	line := c.partner.Respond(ctx, c.scene, c.level, question, utterance)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges++
	c.totalScore += eval.Evaluation.Score
	c.transcript.Append(session.SpeakerLearner, utterance)
	if line.Text != "" {
		c.transcript.Append(session.SpeakerSystem, line.Text)
		c.question = line.Text
	}
	c.done = line.Done || c.exchanges >= c.maxExchanges
	return Exchange{
		Utterance:    utterance,
		Evaluation:   eval.Evaluation,
		Customer:     line.Text,
		Done:         c.done,
		UsedFallback: eval.UsedFallback,
	}, nil
}

// ModelAnswer suggests what the learner could say to the current question.
func (c *Conversation) ModelAnswer(ctx context.Context) (string, error) {
	c.mu.Lock()
	started, q := c.started, c.question
	c.mu.Unlock()
	if !started {
		return "", ErrNotStarted
	}
	return c.partner.ModelAnswer(ctx, c.scene, c.level, q)
}

// Done reports whether the conversation has ended.
func (c *Conversation) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Snapshot returns a copy of the conversation's progress.
func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Scene:      c.scene,
		Level:      c.level,
		Question:   c.question,
		Exchanges:  c.exchanges,
		TotalScore: c.totalScore,
		Done:       c.done,
		Turns:      c.transcript.Turns(),
	}
}
