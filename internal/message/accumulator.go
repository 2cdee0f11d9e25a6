package message

import (
	"encoding/json"
	"sort"

	"github.com/corewright/agentcore/internal/provider"
)

// Accumulator reassembles a streamed response into content blocks plus a
// stop reason (spec §4.2). It is a plain state machine keyed by block
// index, grounded on the teacher's toolCallAccumulator/collectWithDeltas
// pair in internal/llm/loop.go, generalized to the full provider contract.
type Accumulator struct {
	order  []int
	blocks map[int]*blockState

	stopReason provider.StopReason
	usage      provider.Usage
	err        *provider.Error
}

type blockState struct {
	kind      provider.ContentBlockType
	text      []byte
	toolUseID string
	toolName  string
	signature string
	jsonBuf   []byte
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{blocks: make(map[int]*blockState)}
}

// Feed processes one StreamEvent. onTextDelta, if non-nil, is called with
// every literal text fragment in arrival order so the loop can forward it
// to observers — the concatenation of every call's argument must equal
// the final Text() of that block (spec §4.2).
func (a *Accumulator) Feed(ev provider.StreamEvent, onTextDelta func(blockIndex int, text string)) {
	switch ev.Type {
	case provider.EventContentBlockStart:
		st := &blockState{kind: provider.BlockText}
		if ev.Block != nil {
			st.kind = ev.Block.Type
			st.toolUseID = ev.Block.ToolUseID
			st.toolName = ev.Block.ToolName
			st.signature = ev.Block.ThoughtSignature
		}
		if _, exists := a.blocks[ev.Index]; !exists {
			a.order = append(a.order, ev.Index)
		}
		a.blocks[ev.Index] = st

	case provider.EventContentBlockDelta:
		st := a.blockFor(ev.Index)
		switch ev.DeltaType {
		case provider.DeltaText:
			st.text = append(st.text, ev.DeltaText...)
			if onTextDelta != nil {
				onTextDelta(ev.Index, ev.DeltaText)
			}
		case provider.DeltaInputJSON:
			st.jsonBuf = append(st.jsonBuf, ev.DeltaJSON...)
		}

	case provider.EventContentBlockStop:
		// Parsing of tool-input JSON happens lazily in Finish, since a
		// block may still be referenced afterward (e.g. by index).

	case provider.EventMessageDelta:
		if ev.StopReason != nil {
			a.stopReason = *ev.StopReason
		}
		if ev.Usage != nil {
			a.usage = *ev.Usage
		}

	case provider.EventError:
		a.err = ev.Err

	case provider.EventMessageStart, provider.EventMessageStop, provider.EventPing:
		// no-op
	}
}

func (a *Accumulator) blockFor(index int) *blockState {
	st, ok := a.blocks[index]
	if !ok {
		st = &blockState{kind: provider.BlockText}
		a.blocks[index] = st
		a.order = append(a.order, index)
	}
	return st
}

// Err returns the terminal stream error, if the accumulator observed one.
func (a *Accumulator) Err() *provider.Error { return a.err }

// Finish returns the reassembled content blocks in block-index order and
// the recorded stop reason. Tool-input JSON fragments are parsed here,
// tolerating empty or already-structured values per spec §7's input
// normalization rule: an empty buffer becomes "{}", a buffer that is
// itself a JSON string is unwrapped and re-parsed, and anything that fails
// to parse falls back to "{}" rather than erroring the whole turn.
func (a *Accumulator) Finish() ([]ContentBlock, provider.StopReason) {
	indices := append([]int(nil), a.order...)
	sort.Ints(indices)

	blocks := make([]ContentBlock, 0, len(indices))
	for _, idx := range indices {
		st := a.blocks[idx]
		switch st.kind {
		case provider.BlockText:
			blocks = append(blocks, Text(string(st.text)))
		case provider.BlockToolUse:
			blocks = append(blocks, ToolUse(st.toolUseID, st.toolName, normalizeToolInput(st.jsonBuf)))
		}
	}
	return blocks, a.stopReason
}

// normalizeToolInput applies spec §7's resilience rule: a string input is
// parsed as JSON (falling back to {}), null becomes {}, and any object
// passes through unchanged.
func normalizeToolInput(raw []byte) []byte {
	trimmed := trimSpace(raw)
	if len(trimmed) == 0 {
		return []byte("{}")
	}

	var probe any
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return []byte("{}")
	}

	switch v := probe.(type) {
	case nil:
		return []byte("{}")
	case string:
		// The provider streamed a JSON-encoded string containing JSON
		// (double-encoded partial-JSON); unwrap one level.
		inner := trimSpace([]byte(v))
		if len(inner) == 0 {
			return []byte("{}")
		}
		var innerProbe any
		if err := json.Unmarshal(inner, &innerProbe); err != nil {
			return []byte("{}")
		}
		return inner
	default:
		return trimmed
	}
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
