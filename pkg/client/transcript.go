package client

import (
	"regexp"
	"strings"
	"sync"

	"sadhana-metering/pkg/api"
)

// citationPattern matches "[REF: source]" markers and the blanks before them.
var citationPattern = regexp.MustCompile(`[ \t]*\[REF:\s*([^\]]+?)\s*\]`)

// ExtractCitations strips every citation marker from raw and returns the
// cleaned text with the references in order of appearance. It must be given
// the complete text of a turn so no marker is split.
func ExtractCitations(raw string) (string, []string) {
	matches := citationPattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(raw), nil
	}
	citations := make([]string, 0, len(matches))
	for _, m := range matches {
		citations = append(citations, m[1])
	}
	return strings.TrimSpace(citationPattern.ReplaceAllString(raw, "")), citations
}

// TurnState is the lifecycle of one chat turn.
type TurnState uint8

const (
	TurnIdle TurnState = iota
	TurnAwaitingFirstByte
	TurnStreaming
	TurnFinalizing
	TurnSettled
	TurnAborted
	TurnFailed
)

func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnAwaitingFirstByte:
		return "awaiting_first_byte"
	case TurnStreaming:
		return "streaming"
	case TurnFinalizing:
		return "finalizing"
	case TurnSettled:
		return "settled"
	case TurnAborted:
		return "aborted"
	case TurnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message is one entry of a rendered transcript.
type Message struct {
	ID        string
	Role      api.Role
	Content   string
	Citations []string
	Streaming bool
}

func messageFromData(m api.MessageData) Message {
	var citations []string
	if len(m.SourceReferences) > 0 {
		citations = append(citations, m.SourceReferences...)
	}
	return Message{ID: m.ID, Role: m.Role, Content: m.Content, Citations: citations}
}

// Assembler owns the live transcript and builds the assistant message of the
// turn in flight.
type Assembler struct {
	mu       sync.Mutex
	messages []Message
	state    TurnState
	buf      strings.Builder
	// index of the streaming placeholder, -1 when none
	pending int
}

func NewAssembler() *Assembler {
	return &Assembler{pending: -1}
}

// Reset replaces the transcript, e.g. after loading history.
func (a *Assembler) Reset(messages []Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append([]Message(nil), messages...)
	a.state = TurnIdle
	a.buf.Reset()
	a.pending = -1
}

// Begin appends the user message and an empty streaming placeholder.
func (a *Assembler) Begin(userText string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf.Reset()
	a.messages = append(a.messages,
		Message{Role: api.RoleUser, Content: userText},
		Message{Role: api.RoleAssistant, Streaming: true},
	)
	a.pending = len(a.messages) - 1
	a.state = TurnAwaitingFirstByte
}

// Append adds a streamed fragment to the placeholder. Markers are left in
// place until Finalize.
func (a *Assembler) Append(fragment string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending < 0 || fragment == "" {
		return
	}
	a.buf.WriteString(fragment)
	a.messages[a.pending].Content = a.buf.String()
	a.state = TurnStreaming
}

// Finalize extracts citations from the complete buffer and returns the
// cleaned assistant message.
func (a *Assembler) Finalize() Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = TurnFinalizing
	content, citations := ExtractCitations(a.buf.String())
	if a.pending < 0 {
		return Message{Role: api.RoleAssistant, Content: content, Citations: citations}
	}
	msg := &a.messages[a.pending]
	msg.Content = content
	msg.Citations = citations
	msg.Streaming = false
	return *msg
}

// Settle marks the finalized turn as stored.
func (a *Assembler) Settle() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = -1
	a.buf.Reset()
	a.state = TurnSettled
}

// Abort drops the turn in flight, user message included.
func (a *Assembler) Abort() {
	a.drop(TurnAborted)
}

// Fail drops the turn in flight, user message included.
func (a *Assembler) Fail() {
	a.drop(TurnFailed)
}

func (a *Assembler) drop(state TurnState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending > 0 {
		a.messages = a.messages[:a.pending-1]
	}
	a.pending = -1
	a.buf.Reset()
	a.state = state
}

func (a *Assembler) State() TurnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Messages returns a copy of the transcript.
func (a *Assembler) Messages() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Message(nil), a.messages...)
}

// Turns returns the settled transcript as model input.
func (a *Assembler) Turns() []api.Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	end := len(a.messages)
	if a.pending >= 0 {
		end = a.pending
	}
	turns := make([]api.Turn, 0, end)
	for _, m := range a.messages[:end] {
		turns = append(turns, api.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}
