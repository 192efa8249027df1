// Package roleplay runs a scripted conversation between the learner, who plays
// a member of service staff, and a language model playing a customer.
//
// A [Partner] wraps the model calls: the customer's opening question, the
// customer's next line, a scored evaluation of the learner's answer and a
// model answer the learner can imitate. A [Conversation] strings those calls
// into one role-play that ends when the customer signals [DoneMarker] or the
// exchange limit is reached.
//
// Like turn feedback, every structured call goes through [sanitize.Parse] and
// degrades to a built-in default, so a misbehaving backend never stalls the
// conversation.
package roleplay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/pingquest/internal/sanitize"
	"github.com/MrWong99/pingquest/pkg/provider/llm"
	"github.com/MrWong99/pingquest/pkg/types"
)

// DoneMarker is appended by the customer to its last line.
const DoneMarker = "[DONE]"

// Defaults used whenever the model gives nothing usable.
const (
	DefaultScene    = "menu"
	DefaultQuestion = "Do you have any food allergies?"
	DefaultReply    = "Thank you. Could you please tell me more?"
	DefaultTip      = "Keep your answers short and clear."
	DefaultScore    = 60
)

var doneMarker = regexp.MustCompile(`(?i)\[DONE\]`)

// sceneOpenings are the fallback first questions for the scenes the built-in
// curriculum uses.
var sceneOpenings = map[string]string{
	"menu":       "What would you like to drink?",
	"allergy":    DefaultQuestion,
	"payment":    "Can I pay by credit card?",
	"directions": "Excuse me, how do I get to the station?",
}

// DefaultOpening returns the built-in first question for scene.
func DefaultOpening(scene string) string {
	if q, ok := sceneOpenings[strings.ToLower(strings.TrimSpace(scene))]; ok {
		return q
	}
	return DefaultQuestion
}

// ErrUnknownLevel is returned by [ParseLevel] for anything but A1 to C2.
var ErrUnknownLevel = errors.New("roleplay: unknown CEFR level")

// ErrNoModelAnswer is returned by [Partner.ModelAnswer] when no model is
// configured or the model answered with nothing.
var ErrNoModelAnswer = errors.New("roleplay: no model answer available")

// Level is a CEFR proficiency level.
type Level string

// CEFR levels.
const (
	A1 Level = "A1"
	A2 Level = "A2"
	B1 Level = "B1"
	B2 Level = "B2"
	C1 Level = "C1"
	C2 Level = "C2"
)

// ParseLevel accepts a CEFR level in any case. An empty string yields A2.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	switch l {
	case "":
		return A2, nil
	case A1, A2, B1, B2, C1, C2:
		return l, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownLevel, s)
}

// opening is the structured payload for the first question.
type opening struct {
	Question string `json:"question" jsonschema:"description=One short opening question asked by the customer"`
}

func (o opening) Validate() error {
	if strings.TrimSpace(o.Question) == "" {
		return errors.New("roleplay: question is empty")
	}
	return nil
}

// Evaluation is the model's reaction to one learner answer.
type Evaluation struct {
	// Reply is a short English reply to what the learner said.
	Reply string `json:"reply"`

	// Tips are short hints on how to answer better.
	Tips []string `json:"tips"`

	// Score rates the answer from 0 to 100.
	Score int `json:"score"`
}

// DefaultEvaluation is returned when the model gives nothing usable.
func DefaultEvaluation() Evaluation {
	return Evaluation{Reply: DefaultReply, Tips: []string{DefaultTip}, Score: DefaultScore}
}

// evaluation is the wire form of [Evaluation]. Score is a pointer so that a
// missing score can be told apart from a zero.
type evaluation struct {
	Reply string   `json:"reply" jsonschema:"description=Short natural English reply to the staff member"`
	Tips  []string `json:"tips" jsonschema:"description=Two or three short tips for the staff member"`
	Score *int     `json:"score" jsonschema:"description=Overall rating of appropriateness and politeness and clarity,minimum=0,maximum=100"`
}

// Fill implements sanitize.Filler: missing fields are taken from def.
func (e evaluation) Fill(def evaluation) evaluation {
	if strings.TrimSpace(e.Reply) == "" {
		e.Reply = def.Reply
	}
	if e.Tips == nil {
		e.Tips = def.Tips
	}
	if e.Score == nil {
		e.Score = def.Score
	}
	return e
}

// Validate implements sanitize.Validator.
func (e evaluation) Validate() error {
	if e.Score == nil || *e.Score < 0 || *e.Score > 100 {
		return errors.New("roleplay: score must be within [0, 100]")
	}
	return nil
}

func (e evaluation) value() Evaluation {
	return Evaluation{Reply: e.Reply, Tips: e.Tips, Score: *e.Score}
}

// EvaluationOutcome is the result of [Partner.Evaluate].
type EvaluationOutcome struct {
	Evaluation   Evaluation
	UsedFallback bool
	Stage        sanitize.Stage
	Err          error
}

// Option configures a [Partner].
type Option func(*Partner)

// WithTipsLanguage sets the language the evaluation tips are written in.
// Defaults to "English".
func WithTipsLanguage(lang string) Option {
	return func(p *Partner) { p.tipsLanguage = lang }
}

// WithTimeout bounds every model call. Defaults to 10s.
func WithTimeout(d time.Duration) Option {
	return func(p *Partner) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithTemperature sets the sampling temperature. Defaults to 0.4.
func WithTemperature(t float64) Option {
	return func(p *Partner) { p.temperature = t }
}

// Partner talks to the model on behalf of a role-play.
type Partner struct {
	provider     llm.Provider
	tipsLanguage string
	timeout      time.Duration
	temperature  float64

	openingSchema    *llm.ResponseSchema
	evaluationSchema *llm.ResponseSchema
}

// NewPartner returns a Partner. A nil provider is allowed; every call then
// yields its default.
func NewPartner(p llm.Provider, opts ...Option) *Partner {
	pt := &Partner{
		provider:     p,
		tipsLanguage: "English",
		timeout:      10 * time.Second,
		temperature:  0.4,
	}
	for _, o := range opts {
		o(pt)
	}
	pt.openingSchema = llm.SchemaFor("roleplay_opening", &opening{})
	pt.evaluationSchema = llm.SchemaFor("roleplay_evaluation", &evaluation{})
	return pt
}

// Opening asks the customer's first question for scene.
func (p *Partner) Opening(ctx context.Context, scene string, level Level) (string, sanitize.Stage) {
	def := opening{Question: DefaultOpening(scene)}
	raw, err := p.complete(ctx, llm.CompletionRequest{
		SystemPrompt: "You are a polite foreign customer speaking simple, natural English with a member of service staff. " +
			"Ask ONE short, friendly opening question that fits the scene and is easy for the target level. " +
			"Return JSON only with key: question.",
		Messages: []types.Message{{Role: "user", Content: fmt.Sprintf("Scene: %s\nTarget level: %s\nAsk the first question only.", scene, level)}},
		Schema:   p.openingSchema,
	})
	if err != nil {
		slog.Warn("roleplay: opening failed, using default", "scene", scene, "err", err)
		return def.Question, sanitize.StageFallback
	}
	res := sanitize.Parse(raw, def)
	if res.UsedFallback {
		slog.Warn("roleplay: unusable opening, using default", "scene", scene, "err", res.Err)
	}
	return strings.TrimSpace(res.Value.Question), res.Stage
}

// EvaluateRequest describes one learner answer.
type EvaluateRequest struct {
	Scene     string
	Level     Level
	Question  string
	Utterance string
}

// Evaluate scores the learner's answer. It never fails; problems are
// reported through the outcome.
func (p *Partner) Evaluate(ctx context.Context, req EvaluateRequest) EvaluationOutcome {
	score := DefaultScore
	def := evaluation{Reply: DefaultReply, Tips: []string{DefaultTip}, Score: &score}

	raw, err := p.complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf("You are an English conversation partner for service-industry staff. "+
			"Reply in simple, natural English and evaluate the staff member's answer briefly. "+
			"Score 0-100 for appropriateness, politeness and how easy it is to understand. "+
			"Write two or three short tips in %s. Return JSON only with keys: reply, tips, score.", p.tipsLanguage),
		Messages: []types.Message{{Role: "user", Content: fmt.Sprintf("Scene: %s\nTarget level: %s\nCustomer asked: %s\nStaff said: %s",
			req.Scene, req.Level, req.Question, orDash(req.Utterance))}},
		Schema: p.evaluationSchema,
	})
	if err != nil {
		slog.Warn("roleplay: evaluation failed, using default", "err", err)
		return EvaluationOutcome{Evaluation: def.value(), UsedFallback: true, Stage: sanitize.StageFallback, Err: err}
	}
	res := sanitize.Parse(raw, def)
	if res.UsedFallback {
		slog.Warn("roleplay: unusable evaluation, using default", "err", res.Err, "raw_len", len(res.Raw))
	}
	return EvaluationOutcome{Evaluation: res.Value.value(), UsedFallback: res.UsedFallback, Stage: res.Stage, Err: res.Err}
}

// CustomerLine is the customer's next line in the conversation.
type CustomerLine struct {
	Text string `json:"text"`

	// Done is set when the customer considers the conversation finished.
	Done bool `json:"done"`
}

// ParseCustomerLine strips every [DoneMarker] (in any case) from raw and
// reports whether one was present.
func ParseCustomerLine(raw string) CustomerLine {
	done := doneMarker.MatchString(raw)
	text := strings.Join(strings.Fields(doneMarker.ReplaceAllString(raw, " ")), " ")
	return CustomerLine{Text: text, Done: done}
}

// Respond produces the customer's reply to what the learner said. lastLine is
// the customer's previous line and may be empty. On failure the customer asks
// the learner to go on.
func (p *Partner) Respond(ctx context.Context, scene string, level Level, lastLine, utterance string) CustomerLine {
	var b strings.Builder
	fmt.Fprintf(&b, "Scene: %s\nLevel: %s\n", scene, level)
	if lastLine != "" {
		fmt.Fprintf(&b, "Previous customer line: %q\n", lastLine)
	}
	fmt.Fprintf(&b, "Staff said: %q\nNow reply as the customer.", orDash(utterance))

	raw, err := p.complete(ctx, llm.CompletionRequest{
		SystemPrompt: "You are a polite customer speaking English with a member of service staff. " +
			"Reply in one short, natural English sentence (15 words or fewer). No explanations. " +
			"If the conversation is complete, append " + DoneMarker + " at the end.",
		Messages: []types.Message{{Role: "user", Content: b.String()}},
	})
	if err != nil {
		slog.Warn("roleplay: customer reply failed, using default", "err", err)
		return CustomerLine{Text: DefaultReply}
	}
	line := ParseCustomerLine(raw)
	if line.Text == "" && !line.Done {
		line.Text = DefaultReply
	}
	return line
}

// ModelAnswer returns a one- or two-sentence answer a polite staff member
// could give to question.
func (p *Partner) ModelAnswer(ctx context.Context, scene string, level Level, question string) (string, error) {
	if p.provider == nil {
		return "", ErrNoModelAnswer
	}
	raw, err := p.complete(ctx, llm.CompletionRequest{
		SystemPrompt: "Provide a MODEL ANSWER in English (1-2 sentences) that a polite staff member could say in the given scene and level. " +
			"Keep it natural and simple. Output only the answer.",
		Messages: []types.Message{{Role: "user", Content: fmt.Sprintf("Scene: %s\nLevel: %s\nCustomer asked: %s", scene, level, question)}},
	})
	if err != nil {
		return "", fmt.Errorf("roleplay: model answer: %w", err)
	}
	answer := strings.TrimSpace(raw)
	if answer == "" {
		return "", ErrNoModelAnswer
	}
	return answer, nil
}

func (p *Partner) complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	if p.provider == nil {
		return "", errors.New("roleplay: no language model configured")
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	req.Temperature = p.temperature
	resp, err := p.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", errors.New("roleplay: empty response")
	}
	return resp.Content, nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
