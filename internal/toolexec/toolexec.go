// Package toolexec looks up a tool by name, validates permissions, runs
// it, and produces a result, per spec §4.3 and the batch algorithm of
// §4.6. It is grounded on the teacher's internal/mcp Proxy, generalized
// from an MCP-specific dispatcher into the spec's tool-registry contract
// (spec §9: "use a capability set rather than inheritance").
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/corewright/agentcore/internal/loopdetect"
)

// RecallSender is the narrow interface a ToolContext needs to emit recall
// events; the indexer package's recall bus implements it. Defined here
// (rather than imported) to avoid a toolexec -> indexer dependency.
type RecallSender interface {
	Send(event any)
}

// ToolContext is handed to every tool implementation (spec §4.3).
type ToolContext struct {
	WorkingDir   string
	ProjectRoot  string
	SessionID    string
	TrustMode    string
	RecallSender RecallSender
}

// Output is a tool result: either Success(text) or Error(text).
type Output struct {
	Text    string
	IsError bool
}

// Success builds a non-error Output.
func Success(text string) Output { return Output{Text: text} }

// Failure builds an error Output.
func Failure(text string) Output { return Output{Text: text, IsError: true} }

// Handler is the capability set every tool implementation exposes. The
// executor dispatches by name lookup, never by type hierarchy (spec §9).
type Handler interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage
	Execute(ctx context.Context, toolUseID string, input json.RawMessage, tc ToolContext) Output
}

// Result pairs a tool_use id with its Output.
type Result struct {
	ToolUseID string
	Output    Output
}

// Executor holds a registry mapping tool name to implementation and an
// optional permission set.
type Executor struct {
	mu          sync.RWMutex
	handlers    map[string]Handler
	permissions map[string]bool // nil means "all tools allowed"
}

// NewExecutor returns an Executor with no tools registered and every tool
// name permitted. Call SetPermissions to restrict it (e.g. for a
// sub-agent's task-type-derived permission set, spec §4.7).
func NewExecutor() *Executor {
	return &Executor{handlers: make(map[string]Handler)}
}

// Register adds or replaces a tool implementation.
func (e *Executor) Register(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[h.Name()] = h
}

// SetPermissions restricts dispatch to exactly the named tools. Passing
// nil (or calling it with no names) restores "all tools allowed".
func (e *Executor) SetPermissions(names []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(names) == 0 {
		e.permissions = nil
		return
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	e.permissions = set
}

// Tools returns the provider-facing tool definitions for every registered
// handler, for building a CompletionRequest.
func (e *Executor) Tools() []ToolDef {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ToolDef, 0, len(e.handlers))
	for _, h := range e.handlers {
		out = append(out, ToolDef{Name: h.Name(), Description: h.Description(), Parameters: h.InputSchema()})
	}
	return out
}

// ToolDef is the provider-agnostic shape of a tool definition.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Execute dispatches a single tool call. It never panics: any panic inside
// a handler is recovered and converted into an Error result (spec §4.3:
// "never panics on tool failure").
func (e *Executor) Execute(ctx context.Context, toolUseID, name string, input json.RawMessage, tc ToolContext) (result Result) {
	result = Result{ToolUseID: toolUseID}

	e.mu.RLock()
	h, known := e.handlers[name]
	permitted := e.permissions == nil || e.permissions[name]
	e.mu.RUnlock()

	if !permitted {
		result.Output = Failure(fmt.Sprintf("Tool %s not allowed", name))
		return result
	}
	if !known {
		result.Output = Failure(fmt.Sprintf("Unknown tool: %s", name))
		return result
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("tool", name).Msg("tool handler panicked")
			result.Output = Failure(fmt.Sprintf("tool %s panicked: %v", name, r))
		}
	}()

	result.Output = h.Execute(ctx, toolUseID, input, tc)
	return result
}

// BatchCall is one tool_use request from an assistant message.
type BatchCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Strategy executes a set of non-loop-detected, non-cancelled calls and
// reports which ids were cancelled instead of completed. The default is
// Sequential; a future parallel strategy can implement the same signature
// (spec §4.6 design note, §9 "future: parallel").
type Strategy func(ctx context.Context, e *Executor, calls []BatchCall, tc ToolContext) (results []Result, cancelledIDs []string)

// Sequential runs calls one at a time in request order, treating context
// cancellation observed between calls as "the rest of the batch is
// cancelled" rather than aborting silently.
func Sequential(ctx context.Context, e *Executor, calls []BatchCall, tc ToolContext) ([]Result, []string) {
	var results []Result
	var cancelled []string
	for _, call := range calls {
		select {
		case <-ctx.Done():
			cancelled = append(cancelled, call.ID)
			continue
		default:
		}
		results = append(results, e.Execute(ctx, call.ID, call.Name, call.Input, tc))
	}
	return results, cancelled
}

// LoopObserver is notified when a call is shortcut by loop detection.
type LoopObserver func(loopdetect.Detection)

// ExecuteBatch implements spec §4.6's full algorithm: loop-detected calls
// are shortcut to a synthetic error result without reaching the strategy;
// the remaining calls run through strategy; results are then re-ordered to
// match the original request order, filling in loop-detection errors,
// strategy results, and "Cancelled by user" errors for any id the strategy
// reported cancelled but did not itself produce a result for. Strategy
// results whose id was not in the request are preserved at the tail.
func ExecuteBatch(ctx context.Context, e *Executor, calls []BatchCall, detector *loopdetect.Detector, tc ToolContext, strategy Strategy, onLoop LoopObserver) []Result {
	if strategy == nil {
		strategy = Sequential
	}

	byID := make(map[string]Result)
	var toRun []BatchCall

	for _, call := range calls {
		if detector != nil {
			if det, hit := detector.Check(call.Name, call.Input); hit {
				byID[call.ID] = Result{ToolUseID: call.ID, Output: Failure(loopdetect.Message(det))}
				if onLoop != nil {
					onLoop(det)
				}
				continue
			}
		}
		toRun = append(toRun, call)
	}

	strategyResults, cancelledIDs := strategy(ctx, e, toRun, tc)
	strategyByID := make(map[string]Result, len(strategyResults))
	var extras []Result
	requested := make(map[string]bool, len(calls))
	for _, c := range calls {
		requested[c.ID] = true
	}
	for _, r := range strategyResults {
		if requested[r.ToolUseID] {
			strategyByID[r.ToolUseID] = r
		} else {
			extras = append(extras, r)
		}
	}
	cancelledSet := make(map[string]bool, len(cancelledIDs))
	for _, id := range cancelledIDs {
		cancelledSet[id] = true
	}

	out := make([]Result, 0, len(calls)+len(extras))
	for _, call := range calls {
		if r, ok := byID[call.ID]; ok {
			out = append(out, r)
			continue
		}
		if r, ok := strategyByID[call.ID]; ok {
			out = append(out, r)
			continue
		}
		if cancelledSet[call.ID] {
			out = append(out, Result{ToolUseID: call.ID, Output: Failure("Cancelled by user")})
			continue
		}
		// Strategy neither produced a result nor reported cancellation;
		// treat as cancelled to guarantee every request gets a pairing.
		out = append(out, Result{ToolUseID: call.ID, Output: Failure("Cancelled by user")})
	}
	out = append(out, extras...)
	return out
}
