// Package feedback asks a language model for a short reaction to the
// learner's last attempt.
//
// The model's output is advisory: the turn orchestrator has already judged the
// attempt locally, and the feedback only colours what the learner hears. Every
// failure path (no provider, backend error, unparseable output) degrades to a
// built-in default, so [Generator.Generate] never fails.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/pingquest/internal/sanitize"
	"github.com/MrWong99/pingquest/pkg/provider/llm"
	"github.com/MrWong99/pingquest/pkg/types"
)

// Default texts used whenever the model gives nothing usable.
const (
	DefaultPraise = "Great job!"
	DefaultRetry  = "Try again!"
)

// Feedback is the structured payload requested from the model.
type Feedback struct {
	Feedback string   `json:"feedback" jsonschema:"description=Short encouraging feedback for the learner"`
	Speech   string   `json:"speech" jsonschema:"description=Short English line read aloud to the learner (8 words or fewer)"`
	Tips     []string `json:"tips,omitempty" jsonschema:"description=Optional short pronunciation or grammar tips"`
}

// Validate implements sanitize.Validator.
func (f Feedback) Validate() error {
	if strings.TrimSpace(f.Feedback) == "" {
		return errors.New("feedback: feedback text is empty")
	}
	return nil
}

// Fill implements sanitize.Filler: a missing speech line is taken from def.
func (f Feedback) Fill(def Feedback) Feedback {
	if strings.TrimSpace(f.Speech) == "" {
		f.Speech = def.Speech
	}
	return f
}

// Default returns the built-in feedback for a judged attempt.
func Default(ok bool) Feedback {
	if ok {
		return Feedback{Feedback: DefaultPraise, Speech: DefaultPraise}
	}
	return Feedback{Feedback: DefaultRetry, Speech: DefaultRetry}
}

// Request describes the attempt the model should react to.
type Request struct {
	// Expected is the sentence the learner was asked to say.
	Expected string

	// Recognized is what the transcriber heard.
	Recognized string

	// OK is the local judgment. The model is told about it and must agree.
	OK bool

	// NearMiss marks a wrong answer that was close.
	NearMiss bool

	// Node, Kind, Score and BossHits describe where the learner is.
	Node     string
	Kind     string
	Score    int
	BossHits int
}

// Outcome is the result of [Generator.Generate].
type Outcome struct {
	Feedback     Feedback
	UsedFallback bool
	Stage        sanitize.Stage

	// Err is the backend or decode error that caused a fallback, if any.
	Err error
}

// Option configures a [Generator].
type Option func(*Generator)

// WithLanguage sets the language of the written feedback field. The speech
// field is always English. Defaults to "English".
func WithLanguage(lang string) Option {
	return func(g *Generator) {
		g.language = lang
	}
}

// WithTemperature sets the sampling temperature. Defaults to 0.4.
func WithTemperature(t float64) Option {
	return func(g *Generator) {
		g.temperature = t
	}
}

// WithMaxTokens caps the completion length. Defaults to 200.
func WithMaxTokens(n int) Option {
	return func(g *Generator) {
		g.maxTokens = n
	}
}

// Generator produces [Feedback] through an [llm.Provider].
type Generator struct {
	provider    llm.Provider
	schema      *llm.ResponseSchema
	language    string
	temperature float64
	maxTokens   int
}

// NewGenerator returns a Generator. A nil provider is allowed; every call then
// returns the default feedback.
func NewGenerator(p llm.Provider, opts ...Option) *Generator {
	g := &Generator{
		provider:    p,
		language:    "English",
		temperature: 0.4,
		maxTokens:   200,
	}
	for _, o := range opts {
		o(g)
	}
	g.schema = llm.SchemaFor("turn_feedback", &Feedback{})
	g.schema.Description = "Feedback on one spoken answer in a language practice game."
	return g
}

// Generate asks the model for feedback on req. It never returns an error;
// failures are reported through Outcome.UsedFallback and Outcome.Err.
func (g *Generator) Generate(ctx context.Context, req Request) Outcome {
	def := Default(req.OK)
	if g.provider == nil {
		return Outcome{Feedback: def, UsedFallback: true, Stage: sanitize.StageFallback}
	}

	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: g.systemPrompt(),
		Messages:     []types.Message{{Role: "user", Content: userPrompt(req)}},
		Temperature:  g.temperature,
		MaxTokens:    g.maxTokens,
		Schema:       g.schema,
	})
	if err != nil {
		slog.Warn("feedback: generation failed, using default", "err", err)
		return Outcome{Feedback: def, UsedFallback: true, Stage: sanitize.StageFallback, Err: fmt.Errorf("feedback: complete: %w", err)}
	}
	if resp == nil {
		return Outcome{Feedback: def, UsedFallback: true, Stage: sanitize.StageFallback, Err: errors.New("feedback: empty response")}
	}

	res := sanitize.Parse(resp.Content, def)
	if res.UsedFallback {
		slog.Warn("feedback: unusable model output, using default", "err", res.Err, "raw_len", len(res.Raw))
	} else if res.Stage == sanitize.StageRepaired {
		slog.Debug("feedback: repaired model output")
	}
	return Outcome{Feedback: res.Value, UsedFallback: res.UsedFallback, Stage: res.Stage, Err: res.Err}
}

func (g *Generator) systemPrompt() string {
	return fmt.Sprintf(`You are a friendly English game master in a speaking practice game.
Write short, encouraging feedback in %s, and a short English line for text-to-speech (8 words or fewer).
LocalOK tells you whether the answer was accepted; never contradict it.
NearMiss means a wrong answer was close; say so.
Return JSON only with keys: feedback, speech, and optionally tips (array of short strings).`, g.language)
}

func userPrompt(req Request) string {
	heard := req.Recognized
	if heard == "" {
		heard = "-"
	}
	return fmt.Sprintf("Quiz: Say: %s\nUser: %s\nLocalOK: %t\nNearMiss: %t\nState: node=%s kind=%s score=%d boss_hits=%d",
		req.Expected, heard, req.OK, req.NearMiss, req.Node, req.Kind, req.Score, req.BossHits)
}
