package openai

import (
	"testing"

	"github.com/MrWong99/pingquest/pkg/provider/llm"
	"github.com/MrWong99/pingquest/pkg/types"
)

type feedbackShape struct {
	Feedback string `json:"feedback"`
	Speech   string `json:"speech"`
}

// TestConvertMessage_System checks that system role is converted correctly.
func TestConvertMessage_System(t *testing.T) {
	msg := types.Message{Role: "system", Content: "You are a patient English tutor."}
	param, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfSystem == nil {
		t.Fatal("expected OfSystem to be set")
	}
}

// TestConvertMessage_User checks that user role is converted correctly.
func TestConvertMessage_User(t *testing.T) {
	msg := types.Message{Role: "user", Content: "I like apples."}
	param, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfUser == nil {
		t.Fatal("expected OfUser to be set")
	}
}

// TestConvertMessage_Assistant checks that assistant role is converted.
func TestConvertMessage_Assistant(t *testing.T) {
	msg := types.Message{Role: "assistant", Content: "Great job!"}
	param, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfAssistant == nil {
		t.Fatal("expected OfAssistant to be set")
	}
}

// TestConvertMessage_UnknownRole checks that unknown roles return an error.
func TestConvertMessage_UnknownRole(t *testing.T) {
	_, err := convertMessage(types.Message{Role: "tool", Content: "x"})
	if err == nil {
		t.Fatal("expected error for unknown role, got nil")
	}
}

// TestModelCapabilities checks the capability table for a few model families.
func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model      string
		wantSchema bool
		wantWindow int
	}{
		{"gpt-4o-mini", true, 128_000},
		{"gpt-4o", true, 128_000},
		{"gpt-4", false, 8_192},
		{"gpt-3.5-turbo", false, 16_385},
		{"o3-mini", true, 200_000},
		{"some-local-model", true, 128_000},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			caps := modelCapabilities(tt.model)
			if caps.SupportsJSONSchema != tt.wantSchema {
				t.Errorf("SupportsJSONSchema = %v, want %v", caps.SupportsJSONSchema, tt.wantSchema)
			}
			if caps.ContextWindow != tt.wantWindow {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tt.wantWindow)
			}
			if caps.MaxOutputTokens <= 0 {
				t.Error("expected MaxOutputTokens > 0")
			}
		})
	}
}

// TestBuildParams_SystemPromptFirst checks that the system prompt leads the message list.
func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Reply in JSON.",
		Messages:     []types.Message{{Role: "user", Content: "I like apples."}},
		Temperature:  0.2,
		MaxTokens:    120,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("expected first message to be the system prompt")
	}
	if string(params.Model) != "gpt-4o-mini" {
		t.Errorf("Model = %q", params.Model)
	}
}

// TestBuildParams_Empty checks that a request with nothing to send is rejected.
func TestBuildParams_Empty(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}
	if _, err := p.buildParams(llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error for empty request")
	}
}

// TestBuildParams_Schema checks that a response schema enables json_schema mode
// only for models that support it.
func TestBuildParams_Schema(t *testing.T) {
	schema := llm.SchemaFor("feedback", &feedbackShape{})
	req := llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "hi"}},
		Schema:   schema,
	}

	p := &Provider{model: "gpt-4o-mini"}
	params, err := p.buildParams(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.ResponseFormat.OfJSONSchema == nil {
		t.Fatal("expected OfJSONSchema to be set for gpt-4o-mini")
	}
	if got := params.ResponseFormat.OfJSONSchema.JSONSchema.Name; got != "feedback" {
		t.Errorf("schema name = %q, want feedback", got)
	}

	legacy := &Provider{model: "gpt-4"}
	params, err = legacy.buildParams(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.ResponseFormat.OfJSONSchema != nil {
		t.Error("expected no json_schema response format for gpt-4")
	}
}

// TestNew_Validation checks constructor argument validation.
func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL("http://localhost:1234/v1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.model != "gpt-4o-mini" {
		t.Errorf("model = %q", p.model)
	}
}
