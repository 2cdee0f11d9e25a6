package provider

import (
	"context"
	"sync"
	"time"
)

// mockStep is one queued reply: either a response or an error. MockProvider
// replays its queue in order; once exhausted it repeats the last entry.
type mockStep struct {
	resp *CompletionResponse
	err  error
}

// MockProvider is a test provider conforming to the Provider contract. It
// is the basis of every unit test for the agent loop, runner, and stream
// accumulator (spec §4.1: "a mock provider conforming to this contract is
// the basis of all unit tests").
type MockProvider struct {
	mu sync.Mutex

	name          string
	queue         []mockStep
	calls         int
	delay         time.Duration
	contextWindow int
	models        []Model
}

// NewMock creates a mock provider with no queued responses; callers chain
// With* methods to script its behavior.
func NewMock(name string) *MockProvider {
	return &MockProvider{
		name:          name,
		contextWindow: 8000,
	}
}

// WithResponse enqueues a full CompletionResponse to return on the next call.
func (p *MockProvider) WithResponse(resp CompletionResponse) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, mockStep{resp: &resp})
	return p
}

// WithTextResponse enqueues a simple end-turn text response.
func (p *MockProvider) WithTextResponse(text string) *MockProvider {
	return p.WithResponse(CompletionResponse{
		Content:    []ContentBlock{{Type: BlockText, Text: text}},
		StopReason: StopEndTurn,
	})
}

// WithToolUseResponse enqueues a response carrying one tool-use block.
func (p *MockProvider) WithToolUseResponse(toolUseID, name string, input []byte) *MockProvider {
	return p.WithResponse(CompletionResponse{
		Content:    []ContentBlock{{Type: BlockToolUse, ToolUseID: toolUseID, ToolName: name, ToolInput: input}},
		StopReason: StopToolUse,
	})
}

// WithError enqueues an error to return on the next call.
func (p *MockProvider) WithError(err error) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, mockStep{err: err})
	return p
}

// WithRateLimited enqueues a RateLimited error with the given retry-after.
func (p *MockProvider) WithRateLimited(retryAfterSeconds float64) *MockProvider {
	return p.WithError(&Error{Kind: ErrRateLimited, RetryAfterSeconds: retryAfterSeconds})
}

// WithContextTooLong enqueues a ContextTooLong error.
func (p *MockProvider) WithContextTooLong(current, limit int) *MockProvider {
	return p.WithError(&Error{Kind: ErrContextTooLong, Current: current, Limit: limit})
}

// WithContextWindow sets the context window AvailableModels reports.
func (p *MockProvider) WithContextWindow(tokens int) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contextWindow = tokens
	return p
}

// WithDelay makes every call wait d (or until ctx is cancelled) before
// replying, for exercising timeout/cancellation paths.
func (p *MockProvider) WithDelay(d time.Duration) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
	return p
}

// CallCount returns how many times Complete or CompleteStream has been
// invoked, for asserting budget enforcement (spec §8 invariant 7).
func (p *MockProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *MockProvider) next() mockStep {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.queue) == 0 {
		return mockStep{resp: &CompletionResponse{StopReason: StopEndTurn}}
	}
	idx := p.calls - 1
	if idx >= len(p.queue) {
		idx = len(p.queue) - 1
	}
	return p.queue[idx]
}

func (p *MockProvider) waitDelay(ctx context.Context) error {
	p.mu.Lock()
	delay := p.delay
	p.mu.Unlock()
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Name returns the provider identifier.
func (p *MockProvider) Name() string { return p.name }

// AvailableModels returns a single synthetic model sized by WithContextWindow,
// or any models set explicitly.
func (p *MockProvider) AvailableModels(ctx context.Context) ([]Model, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.models) > 0 {
		return p.models, nil
	}
	return []Model{{
		ID:              "mock-model",
		DisplayName:     "Mock Model",
		ContextWindow:   p.contextWindow,
		MaxOutputTokens: p.contextWindow / 4,
		SupportsTools:   true,
	}}, nil
}

// SupportsModel always reports true for the mock provider.
func (p *MockProvider) SupportsModel(id string) bool { return true }

// Complete returns the next queued response or error.
func (p *MockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := p.waitDelay(ctx); err != nil {
		return nil, err
	}
	step := p.next()
	if step.err != nil {
		return nil, step.err
	}
	resp := *step.resp
	if resp.ID == "" {
		resp.ID = "mock-response"
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return &resp, nil
}

// CompleteStream replays the next queued response as a sequence of
// StreamEvents: one ContentBlockStart/Delta/Stop triplet per content block,
// then a MessageDelta carrying the stop reason and usage, then MessageStop.
func (p *MockProvider) CompleteStream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	if err := p.waitDelay(ctx); err != nil {
		return nil, err
	}
	step := p.next()
	ch := make(chan StreamEvent, 16)

	go func() {
		defer close(ch)

		if step.err != nil {
			var pe *Error
			if asErr, ok := step.err.(*Error); ok {
				pe = asErr
			} else {
				pe = &Error{Kind: ErrStreamError, Message: step.err.Error()}
			}
			ch <- StreamEvent{Type: EventError, Err: pe}
			return
		}

		resp := step.resp
		ch <- StreamEvent{Type: EventMessageStart, MessageID: resp.ID, Model: req.Model}

		for i, block := range resp.Content {
			b := block
			ch <- StreamEvent{Type: EventContentBlockStart, Index: i, Block: &b}
			switch block.Type {
			case BlockText:
				ch <- StreamEvent{Type: EventContentBlockDelta, Index: i, DeltaType: DeltaText, DeltaText: block.Text}
			case BlockToolUse:
				ch <- StreamEvent{Type: EventContentBlockDelta, Index: i, DeltaType: DeltaInputJSON, DeltaJSON: string(block.ToolInput)}
			}
			ch <- StreamEvent{Type: EventContentBlockStop, Index: i}
		}

		stopReason := resp.StopReason
		usage := resp.Usage
		ch <- StreamEvent{Type: EventMessageDelta, StopReason: &stopReason, Usage: &usage}
		ch <- StreamEvent{Type: EventMessageStop}
	}()

	return ch, nil
}

// CountTokens uses the same rough estimator as CodeChunk.EstimatedTokens
// (len/4); the mock provider never calls a real tokenizer.
func (p *MockProvider) CountTokens(text string, model string) int {
	return len(text) / 4
}

// MockFactory constructs MockProviders sharing a name and canned response.
type MockFactory struct {
	name     string
	response string
}

// NewMockFactory returns a Factory that creates mock providers which reply
// with response as a single end-turn text completion.
func NewMockFactory(name, response string) *MockFactory {
	return &MockFactory{name: name, response: response}
}

func (f *MockFactory) Name() string { return f.name }

func (f *MockFactory) Create(model string, opts Options) Provider {
	return NewMock(f.name).WithTextResponse(f.response)
}
