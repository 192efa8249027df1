package feedback_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/pingquest/internal/feedback"
	"github.com/MrWong99/pingquest/internal/sanitize"
	"github.com/MrWong99/pingquest/pkg/provider/llm"
	llmmock "github.com/MrWong99/pingquest/pkg/provider/llm/mock"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	if got := feedback.Default(true); got.Speech != "Great job!" || got.Feedback != "Great job!" {
		t.Errorf("Default(true) = %+v", got)
	}
	if got := feedback.Default(false); got.Speech != "Try again!" {
		t.Errorf("Default(false) = %+v", got)
	}
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		content   string
		ok        bool
		want      feedback.Feedback
		wantStage sanitize.Stage
	}{
		{
			name:      "well formed",
			content:   `{"feedback":"Nice pronunciation!","speech":"Well done!","tips":["Stress play."]}`,
			ok:        true,
			want:      feedback.Feedback{Feedback: "Nice pronunciation!", Speech: "Well done!", Tips: []string{"Stress play."}},
			wantStage: sanitize.StageDirect,
		},
		{
			name:      "fenced with trailing comma",
			content:   "```json\n{\"feedback\":\"Almost!\",\"speech\":\"One more time.\",}\n```",
			want:      feedback.Feedback{Feedback: "Almost!", Speech: "One more time."},
			wantStage: sanitize.StageRepaired,
		},
		{
			name:      "missing speech filled from default",
			content:   `{"feedback":"Close one."}`,
			want:      feedback.Feedback{Feedback: "Close one.", Speech: "Try again!"},
			wantStage: sanitize.StageDirect,
		},
		{
			name:      "missing feedback falls back",
			content:   `{"speech":"Great job!"}`,
			ok:        true,
			want:      feedback.Default(true),
			wantStage: sanitize.StageFallback,
		},
		{
			name:      "prose",
			content:   "I think the learner did well.",
			want:      feedback.Default(false),
			wantStage: sanitize.StageFallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: tt.content}}
			g := feedback.NewGenerator(p)

			out := g.Generate(context.Background(), feedback.Request{Expected: "I like tea.", Recognized: "I like tea", OK: tt.ok})
			if diff := cmp.Diff(tt.want, out.Feedback); diff != "" {
				t.Errorf("feedback mismatch (-want +got):\n%s", diff)
			}
			if out.Stage != tt.wantStage {
				t.Errorf("Stage = %v, want %v", out.Stage, tt.wantStage)
			}
			if out.UsedFallback != (tt.wantStage == sanitize.StageFallback) {
				t.Errorf("UsedFallback = %v", out.UsedFallback)
			}
		})
	}
}

func TestGenerate_RequestShape(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: `{"feedback":"ok","speech":"ok"}`}}
	g := feedback.NewGenerator(p, feedback.WithLanguage("Japanese"), feedback.WithTemperature(0.2), feedback.WithMaxTokens(64))
	g.Generate(context.Background(), feedback.Request{
		Expected: "I play baseball?", Recognized: "", OK: false, Node: "boss", Kind: "boss", Score: 3, BossHits: 1,
	})

	if p.CallCount() != 1 {
		t.Fatalf("CallCount = %d, want 1", p.CallCount())
	}
	req := p.CompleteCalls[0].Req
	if !strings.Contains(req.SystemPrompt, "in Japanese") {
		t.Errorf("system prompt missing language: %q", req.SystemPrompt)
	}
	if req.Temperature != 0.2 || req.MaxTokens != 64 {
		t.Errorf("Temperature/MaxTokens = %v/%d", req.Temperature, req.MaxTokens)
	}
	if req.Schema == nil || req.Schema.Name != "turn_feedback" || req.Schema.Schema == nil {
		t.Errorf("Schema = %+v", req.Schema)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("Messages = %+v", req.Messages)
	}
	msg := req.Messages[0].Content
	for _, want := range []string{"Quiz: Say: I play baseball?", "User: -", "LocalOK: false", "node=boss", "boss_hits=1"} {
		if !strings.Contains(msg, want) {
			t.Errorf("user prompt %q missing %q", msg, want)
		}
	}
}

func TestGenerate_BackendError(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteErr: errors.New("503")}
	out := feedback.NewGenerator(p).Generate(context.Background(), feedback.Request{OK: true})
	if !out.UsedFallback || out.Err == nil {
		t.Fatalf("Outcome = %+v, want fallback with error", out)
	}
	if diff := cmp.Diff(feedback.Default(true), out.Feedback); diff != "" {
		t.Errorf("feedback mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerate_NilResponse(t *testing.T) {
	t.Parallel()

	out := feedback.NewGenerator(&llmmock.Provider{}).Generate(context.Background(), feedback.Request{})
	if !out.UsedFallback || out.Err == nil {
		t.Fatalf("Outcome = %+v, want fallback with error", out)
	}
}

func TestGenerate_NoProvider(t *testing.T) {
	t.Parallel()

	out := feedback.NewGenerator(nil).Generate(context.Background(), feedback.Request{OK: false})
	if !out.UsedFallback || out.Feedback.Speech != feedback.DefaultRetry {
		t.Fatalf("Outcome = %+v", out)
	}
}
