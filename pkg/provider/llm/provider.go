// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o-mini,
// Anthropic Claude, or a local Ollama instance) and exposes a uniform interface
// the turn orchestrator uses to request short feedback payloads, without
// coupling to any specific SDK.
//
// The text returned by a provider is never trusted as structured data: callers
// always pass it through the sanitize package before reading fields.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"

	"github.com/invopop/jsonschema"

	"github.com/MrWong99/pingquest/pkg/types"
)

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// ResponseSchema asks the backend to constrain its output to a JSON schema.
// Backends without native support ignore it; the system prompt should still
// describe the expected keys.
type ResponseSchema struct {
	// Name identifies the schema to the backend (letters, digits, '_' and '-').
	Name string

	// Description is an optional human-readable summary of the payload.
	Description string

	// Schema is the JSON schema document.
	Schema *jsonschema.Schema
}

// SchemaFor reflects v into a [ResponseSchema]. Fields without omitempty are
// required and additional properties are rejected, which is what strict
// structured-output modes expect.
func SchemaFor(name string, v any) *ResponseSchema {
	r := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	return &ResponseSchema{
		Name:   name,
		Schema: r.Reflect(v),
	}
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message drives the response.
	Messages []types.Message

	// SystemPrompt is an optional high-priority instruction injected before the
	// conversation. Providers without a dedicated system field prepend it as a
	// "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in the range [0.0, 2.0].
	// Zero means use the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider default.
	MaxTokens int

	// Schema optionally constrains the output format.
	Schema *ResponseSchema
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full raw text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Complete must propagate context cancellation promptly: when ctx is cancelled
// the method must return as quickly as possible.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata describing the underlying model.
	Capabilities() types.ModelCapabilities
}
