// Package message implements the immutable value types for one
// conversation: messages, content blocks, tool results, and the
// conversation itself (trimming, rollback, tool-pairing invariant).
package message

import (
	"time"

	"github.com/google/uuid"

	"github.com/corewright/agentcore/internal/provider"
)

// Role identifies the speaker of a Message. Tool-result messages always
// carry RoleUser (spec §3 invariant 2).
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// BlockKind tags the variant held by a ContentBlock.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

// ResultPartKind tags the variant of one piece of tool-result content.
type ResultPartKind string

const (
	ResultPartText  ResultPartKind = "text"
	ResultPartImage ResultPartKind = "image"
)

// ResultPart is one piece of a tool result's content, which spec §3 allows
// to be "text or a list of text/image blocks".
type ResultPart struct {
	Kind      ResultPartKind
	Text      string
	ImageData string // base64, only set when Kind == ResultPartImage
	MediaType string
}

// ContentBlock is one of Text, ToolUse, or ToolResult (spec §3). Only the
// fields for Kind are populated.
type ContentBlock struct {
	Kind BlockKind

	// Text
	Text string

	// ToolUse
	ToolUseID string
	ToolName  string
	ToolInput []byte // JSON-encoded structured value

	// ToolResult
	ToolResultForID string
	ToolResultParts []ResultPart
	ToolResultError bool
}

// Text builds a Text content block.
func Text(s string) ContentBlock { return ContentBlock{Kind: BlockText, Text: s} }

// ToolUse builds a ToolUse content block.
func ToolUse(id, name string, input []byte) ContentBlock {
	return ContentBlock{Kind: BlockToolUse, ToolUseID: id, ToolName: name, ToolInput: input}
}

// ToolResultText builds a ToolResult content block carrying plain text.
func ToolResultText(forID, text string, isError bool) ContentBlock {
	return ContentBlock{
		Kind:            BlockToolResult,
		ToolResultForID: forID,
		ToolResultParts: []ResultPart{{Kind: ResultPartText, Text: text}},
		ToolResultError: isError,
	}
}

// CancelledToolResult builds the byte-exact cancellation result required
// by spec §4.5.1 / §6.
func CancelledToolResult(forID string) ContentBlock {
	return ToolResultText(forID, "Cancelled by user", true)
}

// Message is an immutable value once pushed onto a Conversation.
type Message struct {
	ID         uuid.UUID
	Role       Role
	Content    []ContentBlock
	Timestamp  time.Time
	ToolUseID  *string // optional, set for single-tool-result convenience messages
	TokenCount *int    // optional, filled in once known
}

// NewUserText builds a plain-text user message.
func NewUserText(text string) Message {
	return Message{ID: uuid.New(), Role: RoleUser, Content: []ContentBlock{Text(text)}, Timestamp: now()}
}

// NewAssistant builds an assistant message from content blocks.
func NewAssistant(blocks []ContentBlock) Message {
	return Message{ID: uuid.New(), Role: RoleAssistant, Content: blocks, Timestamp: now()}
}

// NewToolResults builds the single user message carrying an ordered list of
// tool-result blocks, as produced after a tool batch (spec §4.5 step 5).
func NewToolResults(results []ContentBlock) Message {
	return Message{ID: uuid.New(), Role: RoleUser, Content: results, Timestamp: now()}
}

// now is a seam so tests can be deterministic about message timestamps
// without the forbidden time.Now() rule leaking into callers that need
// reproducibility; production code just wants wall-clock time.
var now = time.Now

// ToolUseIDs returns the IDs of every ToolUse block in the message, in
// order.
func (m Message) ToolUseIDs() []string {
	var ids []string
	for _, b := range m.Content {
		if b.Kind == BlockToolUse {
			ids = append(ids, b.ToolUseID)
		}
	}
	return ids
}

// Text concatenates every Text block's content, in block order. This is
// the "text shown to the observer must exactly equal the concatenation of
// all text deltas in block-index order" contract from spec §4.2, restated
// at the message level.
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Kind == BlockText {
			out += b.Text
		}
	}
	return out
}

// Config carries token-estimation parameters for a Conversation (spec §3).
type Config struct {
	CharsPerToken      float64
	PerMessageOverhead int
	ResponseReserve    int
	TrimThreshold      int
	ImageTokenEstimate int
}

// DefaultConfig mirrors the teacher's conservative defaults for estimating
// token counts without a real tokenizer in the loop.
func DefaultConfig() Config {
	return Config{
		CharsPerToken:      4.0,
		PerMessageOverhead: 4,
		ResponseReserve:    1000,
		TrimThreshold:      0,
		ImageTokenEstimate: 1000,
	}
}

// Conversation is owned by one turn at a time; the agent loop takes
// exclusive access while running (spec §3 Lifetimes).
type Conversation struct {
	Messages     []Message
	SystemPrompt string
	Config       Config
}

// New creates an empty conversation with default token-estimation config.
func New(systemPrompt string) *Conversation {
	return &Conversation{SystemPrompt: systemPrompt, Config: DefaultConfig()}
}

// Append adds a message to the end of the conversation.
func (c *Conversation) Append(m Message) {
	c.Messages = append(c.Messages, m)
}

// Len returns the number of messages.
func (c *Conversation) Len() int { return len(c.Messages) }

// RollbackTo truncates the message list back to n, per the agent loop's
// rollback invariant (spec §3 invariant 3, §4.5).
func (c *Conversation) RollbackTo(n int) {
	if n < 0 {
		n = 0
	}
	if n > len(c.Messages) {
		return
	}
	c.Messages = c.Messages[:n]
}

// PendingToolUseIDs returns the tool-use IDs in the last message that have
// no matching ToolResult in any later message, in request order. Used to
// synthesize cancellation results before a mid-batch interrupt (spec
// §4.5.1).
func (c *Conversation) PendingToolUseIDs() []string {
	if len(c.Messages) == 0 {
		return nil
	}
	last := c.Messages[len(c.Messages)-1]
	pending := last.ToolUseIDs()
	if len(pending) == 0 {
		return nil
	}
	resolved := make(map[string]bool)
	for _, b := range last.Content {
		if b.Kind == BlockToolResult {
			resolved[b.ToolResultForID] = true
		}
	}
	var out []string
	for _, id := range pending {
		if !resolved[id] {
			out = append(out, id)
		}
	}
	return out
}

// EstimateTokens returns a rough token count for a single message: content
// length over CharsPerToken, plus per-message overhead, plus a flat
// estimate per image part.
func (c *Conversation) EstimateTokens(m Message) int {
	chars := 0
	images := 0
	for _, b := range m.Content {
		switch b.Kind {
		case BlockText:
			chars += len(b.Text)
		case BlockToolUse:
			chars += len(b.ToolName) + len(b.ToolInput)
		case BlockToolResult:
			for _, p := range b.ToolResultParts {
				if p.Kind == ResultPartImage {
					images++
				} else {
					chars += len(p.Text)
				}
			}
		}
	}
	tokens := int(float64(chars)/c.Config.CharsPerToken) + c.Config.PerMessageOverhead
	tokens += images * c.Config.ImageTokenEstimate
	return tokens
}

// EstimateTotalTokens sums EstimateTokens over every message plus the
// system prompt and response reserve.
func (c *Conversation) EstimateTotalTokens() int {
	total := int(float64(len(c.SystemPrompt))/c.Config.CharsPerToken) + c.Config.ResponseReserve
	for _, m := range c.Messages {
		total += c.EstimateTokens(m)
	}
	return total
}

// TrimToFit removes the oldest messages until the cumulative estimated
// token count of the remaining suffix, plus system prompt and response
// reserve, does not exceed target. Returns the number of messages removed
// (spec §4.5.2, §8 invariant 6: "trim_to_fit(T) preserves the suffix of
// messages whose cumulative estimated tokens plus system+buffer do not
// exceed T, and removes the rest").
func (c *Conversation) TrimToFit(target int) int {
	fixed := int(float64(len(c.SystemPrompt))/c.Config.CharsPerToken) + c.Config.ResponseReserve

	costs := make([]int, len(c.Messages))
	for i, m := range c.Messages {
		costs[i] = c.EstimateTokens(m)
	}

	keepFrom := len(c.Messages)
	sum := 0
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if fixed+sum+costs[i] > target {
			break
		}
		sum += costs[i]
		keepFrom = i
	}

	removed := keepFrom
	if removed > 0 {
		c.Messages = c.Messages[keepFrom:]
	}
	return removed
}

// ToProviderMessages converts the conversation's messages into the
// provider's wire vocabulary, dropping the conversation-only ID/timestamp
// fields. This mirrors the teacher's store.ToProviderMessages conversion
// from persisted SessionMessage to provider.Message.
func (c *Conversation) ToProviderMessages() []provider.Message {
	out := make([]provider.Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		out = append(out, provider.Message{
			Role:    provider.Role(m.Role),
			Content: toProviderBlocks(m.Content),
		})
	}
	return out
}

func toProviderBlocks(blocks []ContentBlock) []provider.ContentBlock {
	out := make([]provider.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Kind {
		case BlockText:
			out = append(out, provider.ContentBlock{Type: provider.BlockText, Text: b.Text})
		case BlockToolUse:
			out = append(out, provider.ContentBlock{
				Type: provider.BlockToolUse, ToolUseID: b.ToolUseID, ToolName: b.ToolName, ToolInput: b.ToolInput,
			})
		case BlockToolResult:
			out = append(out, provider.ContentBlock{
				Type:            provider.BlockToolResult,
				ToolResultForID: b.ToolResultForID,
				ToolResultText:  joinResultParts(b.ToolResultParts),
				ToolResultIsErr: b.ToolResultError,
			})
		}
	}
	return out
}

func joinResultParts(parts []ResultPart) string {
	var out string
	for _, p := range parts {
		if p.Kind == ResultPartText {
			out += p.Text
		}
	}
	return out
}
