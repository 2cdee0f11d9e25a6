// Package provider defines the abstract capability set the agent loop
// consumes from any LLM backend. It specifies the contract only; wiring a
// concrete network backend behind it (wire format, auth, retries) is an
// external collaborator. MockProvider is the basis of every unit test in
// this module.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is the provider-facing representation of one turn's content.
type Message struct {
	Role    Role
	Content []ContentBlock
}

// ContentBlockType tags the variant held by a ContentBlock.
type ContentBlockType string

const (
	BlockText       ContentBlockType = "text"
	BlockToolUse    ContentBlockType = "tool_use"
	BlockToolResult ContentBlockType = "tool_result"
)

// ContentBlock is a tagged union: Text, ToolUse, or ToolResult. Only the
// fields relevant to Type are populated.
type ContentBlock struct {
	Type ContentBlockType

	// Text
	Text string

	// ToolUse
	ToolUseID string
	ToolName  string
	ToolInput json.RawMessage
	// ThoughtSignature carries provider-specific continuation tokens
	// (e.g. a reasoning-model's thought signature) opaquely through the loop.
	ThoughtSignature string

	// ToolResult
	ToolResultForID string
	ToolResultText  string
	ToolResultIsErr bool
}

// Tool describes a callable tool in the vocabulary the provider expects.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolChoicePolicy tags how the model should be steered toward tool use.
type ToolChoicePolicy int

const (
	ToolChoiceAuto ToolChoicePolicy = iota
	ToolChoiceNone
	ToolChoiceRequired
	ToolChoiceSpecific
)

// ToolChoice pairs a policy with the tool name for ToolChoiceSpecific.
type ToolChoice struct {
	Policy ToolChoicePolicy
	Name   string // only meaningful when Policy == ToolChoiceSpecific
}

// CompletionRequest carries everything a single-shot or streamed call needs.
type CompletionRequest struct {
	Model        string
	Messages     []Message
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	Tools        []Tool
	ToolChoice   ToolChoice
}

// StopReason classifies why the model stopped generating.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopToolUse      StopReason = "tool_use"
	StopStopSequence StopReason = "stop_sequence"
)

// Usage reports token accounting. Cache fields are zero for providers that
// do not support prompt caching; provider-specific concepts never leak
// outside this struct.
type Usage struct {
	InputTokens         int
	OutputTokens        int
	CacheCreationTokens int
	CacheReadTokens     int
}

// CompletionResponse is the fully-assembled result of one request, whether
// obtained directly or accumulated from a stream.
type CompletionResponse struct {
	ID         string
	Model      string
	Content    []ContentBlock
	StopReason StopReason
	Usage      Usage
}

// StreamEventType tags the variant of a StreamEvent.
type StreamEventType int

const (
	EventMessageStart StreamEventType = iota
	EventContentBlockStart
	EventContentBlockDelta
	EventContentBlockStop
	EventMessageDelta
	EventMessageStop
	EventPing
	EventError
)

// DeltaKind tags which field of a ContentBlockDelta is populated.
type DeltaKind int

const (
	DeltaText DeltaKind = iota
	DeltaInputJSON
)

// StreamEvent is the tagged event type emitted by CompleteStream. Only the
// fields relevant to Type are populated; the accumulator in
// internal/message is the plain state machine that reassembles these.
type StreamEvent struct {
	Type StreamEventType

	// MessageStart
	MessageID string
	Model     string

	// ContentBlockStart / ContentBlockStop / ContentBlockDelta
	Index int
	Block *ContentBlock // ContentBlockStart: the block skeleton being opened

	// ContentBlockDelta
	DeltaType DeltaKind
	DeltaText string // DeltaText: literal text appended
	DeltaJSON string // DeltaInputJSON: a fragment of a JSON-encoded object

	// MessageDelta
	StopReason *StopReason
	Usage      *Usage

	// Error
	Err *Error
}

// ErrorKind enumerates the provider-layer error taxonomy the agent loop
// recognizes and reacts to differently (spec §7).
type ErrorKind int

const (
	ErrAuthenticationFailed ErrorKind = iota
	ErrRateLimited
	ErrContextTooLong
	ErrInvalidResponse
	ErrServerError
	ErrNetwork
	ErrStreamError
)

// Error is the structured provider-layer error the agent loop branches on.
type Error struct {
	Kind ErrorKind

	RetryAfterSeconds float64 // ErrRateLimited
	Current, Limit    int     // ErrContextTooLong
	Message           string  // ErrInvalidResponse / ErrNetwork / ErrStreamError / ErrServerError
	Status            int     // ErrServerError
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrAuthenticationFailed:
		return "authentication failed"
	case ErrRateLimited:
		return fmt.Sprintf("rate limited, retry after %.0fs", e.RetryAfterSeconds)
	case ErrContextTooLong:
		return fmt.Sprintf("context too long: %d > %d", e.Current, e.Limit)
	case ErrInvalidResponse:
		return fmt.Sprintf("invalid response: %s", e.Message)
	case ErrServerError:
		return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
	case ErrNetwork:
		return fmt.Sprintf("network error: %s", e.Message)
	case ErrStreamError:
		return fmt.Sprintf("stream error: %s", e.Message)
	default:
		return "provider error"
	}
}

// AsContextTooLong reports whether err is a context-too-long error and
// extracts its fields.
func AsContextTooLong(err error) (current, limit int, ok bool) {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == ErrContextTooLong {
		return pe.Current, pe.Limit, true
	}
	return 0, 0, false
}

// AsRateLimited reports whether err is a rate-limit error and extracts the
// server-suggested retry delay (0 if the server did not suggest one).
func AsRateLimited(err error) (retryAfterSeconds float64, ok bool) {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == ErrRateLimited {
		return pe.RetryAfterSeconds, true
	}
	return 0, false
}

// Model describes one model a provider can serve.
type Model struct {
	ID              string
	DisplayName     string
	ContextWindow   int
	MaxOutputTokens int
	SupportsTools   bool
	SupportsVision  bool
	Costs           ModelCosts
}

// ModelCosts carries per-million-token pricing; zero values mean unknown.
type ModelCosts struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Provider is the abstract capability set the agent loop consumes.
type Provider interface {
	Name() string
	AvailableModels(ctx context.Context) ([]Model, error)
	SupportsModel(id string) bool
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	CompleteStream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)
	CountTokens(text string, model string) int
}

// ErrProviderNotFound is returned by Registry.Create for an unregistered
// provider name.
var ErrProviderNotFound = errors.New("provider not found")

// Options configures a Factory-created Provider instance.
type Options struct {
	Temperature float64
}

// Factory constructs a named Provider for a given model.
type Factory interface {
	Name() string
	Create(model string, opts Options) Provider
}

// Registry maps provider names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// RegisterFactory adds or replaces a named factory.
func (r *Registry) RegisterFactory(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[f.Name()] = f
}

// Create resolves a provider by name and model, or ErrProviderNotFound.
func (r *Registry) Create(name, model string, opts Options) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		log.Error().Str("name", name).Str("model", model).Msg("provider not registered")
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return f.Create(model, opts), nil
}

// List returns the registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// TaggedModel pairs a Model with the provider name that serves it.
type TaggedModel struct {
	ProviderName string
	Model        Model
}

// ListAllModels fans out AvailableModels across every registered factory
// concurrently, logging and skipping any provider that errors rather than
// failing the whole listing.
func (r *Registry) ListAllModels(ctx context.Context, opts Options) []TaggedModel {
	r.mu.RLock()
	factories := make([]Factory, 0, len(r.factories))
	for _, f := range r.factories {
		factories = append(factories, f)
	}
	r.mu.RUnlock()

	type result struct {
		name   string
		models []Model
		err    error
	}
	results := make(chan result, len(factories))

	var wg sync.WaitGroup
	for _, f := range factories {
		wg.Add(1)
		go func(f Factory) {
			defer wg.Done()
			p := f.Create("", opts)
			models, err := p.AvailableModels(ctx)
			results <- result{name: f.Name(), models: models, err: err}
		}(f)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var out []TaggedModel
	for res := range results {
		if res.err != nil {
			log.Warn().Err(res.err).Str("provider", res.name).Msg("failed to list models")
			continue
		}
		for _, m := range res.models {
			out = append(out, TaggedModel{ProviderName: res.name, Model: m})
		}
	}
	return out
}
