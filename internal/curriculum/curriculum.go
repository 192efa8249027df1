// Package curriculum drafts a multi-week workplace English plan for a learner.
//
// The plan comes from a language model when one is configured and otherwise
// from [DefaultPlan]. Model output goes through [sanitize.Parse], so a broken
// or incomplete plan is replaced by the default built for the same demand.
package curriculum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/MrWong99/pingquest/internal/sanitize"
	"github.com/MrWong99/pingquest/pkg/provider/llm"
	"github.com/MrWong99/pingquest/pkg/types"
)

const (
	// DefaultWeeks is the plan length when the demand names no deadline.
	DefaultWeeks = 8

	// MaxWeeks caps a requested deadline.
	MaxWeeks = 26

	// DefaultMinutesPerDay is the daily session length when none is given.
	DefaultMinutesPerDay = 20

	// DefaultIndustry is assumed when the demand names none.
	DefaultIndustry = "food_service"
)

// DefaultScenes are practised when the demand lists none.
var DefaultScenes = []string{"menu", "allergy", "payment", "directions"}

// DefaultKPIs are tracked by every default plan.
var DefaultKPIs = []string{"weekly_completion_rate", "wpm", "mispronunciation_rate", "dialog_success_rate"}

var industryLabels = map[string]string{
	"hotel":        "Hotel",
	"retail":       "Retail",
	"transport":    "Transport",
	"food_service": "Food service",
}

// Demand describes the learner the plan is for. Every field is optional.
type Demand struct {
	Industry      string   `json:"industry,omitempty"`
	Level         string   `json:"level,omitempty"`
	MinutesPerDay int      `json:"minutes_per_day,omitempty"`
	Scenes        []string `json:"scenes,omitempty"`
	DeadlineWeeks int      `json:"deadline_weeks,omitempty"`
}

// normalized returns d with every unset field at its default.
func (d Demand) normalized() Demand {
	d.Industry = strings.ToLower(strings.TrimSpace(d.Industry))
	if d.Industry == "" {
		d.Industry = DefaultIndustry
	}
	if d.MinutesPerDay <= 0 {
		d.MinutesPerDay = DefaultMinutesPerDay
	}
	var scenes []string
	for _, s := range d.Scenes {
		if s = strings.TrimSpace(s); s != "" {
			scenes = append(scenes, s)
		}
	}
	if len(scenes) == 0 {
		scenes = DefaultScenes
	}
	d.Scenes = scenes
	switch {
	case d.DeadlineWeeks <= 0:
		d.DeadlineWeeks = DefaultWeeks
	case d.DeadlineWeeks > MaxWeeks:
		d.DeadlineWeeks = MaxWeeks
	}
	if d.Level == "" {
		d.Level = "A2"
	}
	return d
}

// Lesson is one short activity inside a week.
type Lesson struct {
	Type  string `json:"type" jsonschema:"enum=phrasepack,enum=roleplay,enum=listening,enum=pronunciation"`
	Title string `json:"title,omitempty"`
	Scene string `json:"scene,omitempty"`
	Focus string `json:"focus,omitempty"`
}

// Week is one week of the plan.
type Week struct {
	Week         int      `json:"week" jsonschema:"minimum=1"`
	Goal         string   `json:"goal"`
	MicroLessons []Lesson `json:"micro_lessons"`
}

// Step is one step of today's session.
type Step struct {
	Step  string `json:"step"`
	Scene string `json:"scene,omitempty"`
}

// Session is the plan for today's practice.
type Session struct {
	DurationMin int    `json:"duration_min" jsonschema:"minimum=1"`
	Flow        []Step `json:"flow"`
}

// Plan is a complete curriculum.
type Plan struct {
	Track        string   `json:"track"`
	Weekly       []Week   `json:"weekly"`
	TodaySession Session  `json:"today_session"`
	KPIs         []string `json:"kpis"`
}

// Validate implements sanitize.Validator. Weeks must be numbered 1..n in
// order.
func (p Plan) Validate() error {
	var errs []error
	if strings.TrimSpace(p.Track) == "" {
		errs = append(errs, errors.New("track is empty"))
	}
	if len(p.Weekly) == 0 {
		errs = append(errs, errors.New("weekly plan is empty"))
	}
	for i, w := range p.Weekly {
		if w.Week != i+1 {
			errs = append(errs, fmt.Errorf("week %d is numbered %d", i+1, w.Week))
		}
		if strings.TrimSpace(w.Goal) == "" {
			errs = append(errs, fmt.Errorf("week %d has no goal", i+1))
		}
	}
	if p.TodaySession.DurationMin <= 0 {
		errs = append(errs, errors.New("today_session.duration_min must be positive"))
	}
	if len(p.TodaySession.Flow) == 0 {
		errs = append(errs, errors.New("today_session.flow is empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("curriculum: %w", err)
	}
	return nil
}

// DefaultPlan builds the built-in plan for d.
func DefaultPlan(d Demand) Plan {
	d = d.normalized()
	label, ok := industryLabels[d.Industry]
	if !ok {
		label = industryLabels[DefaultIndustry]
	}

	weekly := make([]Week, 0, d.DeadlineWeeks)
	for i := range d.DeadlineWeeks {
		scene := d.Scenes[i%len(d.Scenes)]
		goal := "Core phrases and polite expressions"
		if i > 0 {
			goal = "On-the-job role-play: " + scene
		}
		weekly = append(weekly, Week{
			Week: i + 1,
			Goal: goal,
			MicroLessons: []Lesson{
				{Type: "phrasepack", Title: "10 set phrases"},
				{Type: "roleplay", Scene: scene},
				{Type: "listening", Focus: "numbers and prices"},
			},
		})
	}

	return Plan{
		Track:  fmt.Sprintf("%s | %s fast track (%d weeks)", label, d.Level, d.DeadlineWeeks),
		Weekly: weekly,
		TodaySession: Session{
			DurationMin: d.MinutesPerDay,
			Flow: []Step{
				{Step: "diagnostic_mini_test"},
				{Step: "listen_and_repeat"},
				{Step: "roleplay_ai", Scene: d.Scenes[0]},
				{Step: "feedback"},
			},
		},
		KPIs: append([]string(nil), DefaultKPIs...),
	}
}

// Outcome is the result of [Planner.Plan].
type Outcome struct {
	Plan         Plan
	UsedFallback bool
	Stage        sanitize.Stage
	Err          error
}

// Option configures a [Planner].
type Option func(*Planner)

// WithLanguage sets the language of the plan's free text. Defaults to
// "English".
func WithLanguage(lang string) Option {
	return func(p *Planner) { p.language = lang }
}

// WithTimeout bounds the model call. Defaults to 20s.
func WithTimeout(d time.Duration) Option {
	return func(p *Planner) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// Planner drafts plans through an [llm.Provider].
type Planner struct {
	provider llm.Provider
	schema   *llm.ResponseSchema
	language string
	timeout  time.Duration
}

// NewPlanner returns a Planner. A nil provider is allowed; every call then
// returns [DefaultPlan].
func NewPlanner(p llm.Provider, opts ...Option) *Planner {
	pl := &Planner{provider: p, language: "English", timeout: 20 * time.Second}
	for _, o := range opts {
		o(pl)
	}
	pl.schema = llm.SchemaFor("curriculum_plan", &Plan{})
	pl.schema.Description = "A multi-week workplace English curriculum."
	return pl
}

// Plan drafts a plan for d. It never fails; problems are reported through
// the outcome.
func (p *Planner) Plan(ctx context.Context, d Demand) Outcome {
	def := DefaultPlan(d)
	if p.provider == nil {
		return Outcome{Plan: def, UsedFallback: true, Stage: sanitize.StageFallback}
	}

	n := d.normalized()
	demand, err := sonic.ConfigStd.MarshalToString(n)
	if err != nil {
		return Outcome{Plan: def, UsedFallback: true, Stage: sanitize.StageFallback, Err: fmt.Errorf("curriculum: encode demand: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	resp, err := p.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(`You are a curriculum designer for workplace English.
Return ONLY JSON (no code fences, no explanations) with keys: track, weekly (one entry per week, numbered from 1), today_session (duration_min, flow), kpis.
Write all free text in %s. If uncertain, fill in reasonable defaults.`, p.language),
		Messages:    []types.Message{{Role: "user", Content: fmt.Sprintf("Learner: %s\nCreate exactly %d weeks.", demand, n.DeadlineWeeks)}},
		Temperature: 0.3,
		MaxTokens:   700,
		Schema:      p.schema,
	})
	if err != nil {
		slog.Warn("curriculum: generation failed, using default plan", "err", err)
		return Outcome{Plan: def, UsedFallback: true, Stage: sanitize.StageFallback, Err: fmt.Errorf("curriculum: complete: %w", err)}
	}
	if resp == nil {
		return Outcome{Plan: def, UsedFallback: true, Stage: sanitize.StageFallback, Err: errors.New("curriculum: empty response")}
	}

	res := sanitize.Parse(resp.Content, def)
	if res.UsedFallback {
		slog.Warn("curriculum: unusable model output, using default plan", "err", res.Err, "raw_len", len(res.Raw))
	}
	return Outcome{Plan: res.Value, UsedFallback: res.UsedFallback, Stage: res.Stage, Err: res.Err}
}
