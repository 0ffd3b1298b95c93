package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"sadhana-metering/pkg/api"
	"sadhana-metering/pkg/metering"

	"github.com/sirupsen/logrus"
)

// ErrReadOnly is returned by Send while a historical conversation is open.
var ErrReadOnly = errors.New("historical conversation is read-only")

// Backend is the server surface a Session needs. *Client implements it.
type Backend interface {
	usageAPI
	conversationAPI
	Usage(ctx context.Context) (*api.UsageResponse, error)
	ChatStream(ctx context.Context, req api.ChatRequest) (io.ReadCloser, error)
}

type SessionOption func(*Session)

func WithLogger(log logrus.FieldLogger) SessionOption {
	return func(s *Session) { s.log = log }
}

// WithFragmentHandler registers a callback receiving raw fragments as they
// arrive, markers included.
func WithFragmentHandler(fn func(string)) SessionOption {
	return func(s *Session) { s.onFragment = fn }
}

// WithHistoryTurns caps how many transcript turns are sent with each
// request. Values below 1 keep the default.
func WithHistoryTurns(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.historyTurns = n
		}
	}
}

// WithSystem sets the extra system instruction sent with every turn.
func WithSystem(system string) SessionOption {
	return func(s *Session) { s.system = system }
}

// DefaultHistoryTurns matches the window the server forwards upstream.
const DefaultHistoryTurns = 10

// Session is the per-session chat context: live transcript, usage cache,
// active conversation and the in-flight guard.
type Session struct {
	backend       Backend
	log           logrus.FieldLogger
	usage         *UsageTracker
	conversations *ConversationManager
	assembler     *Assembler
	inFlight      atomic.Bool
	onFragment    func(string)
	system        string
	historyTurns  int
}

func NewSession(backend Backend, opts ...SessionOption) *Session {
	s := &Session{
		backend:      backend,
		log:          logrus.StandardLogger(),
		assembler:    NewAssembler(),
		historyTurns: DefaultHistoryTurns,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.usage = NewUsageTracker(backend, s.log)
	s.conversations = NewConversationManager(backend)
	return s
}

// Start seeds the usage cache and hydrates the transcript from the most
// recent conversation. A failed history load leaves an empty transcript.
func (s *Session) Start(ctx context.Context) error {
	snapshot, err := s.backend.Usage(ctx)
	if err != nil {
		s.usage.Reset()
		return fmt.Errorf("fetch usage: %w", err)
	}
	s.usage.Seed(snapshot)

	messages, err := s.conversations.LoadMostRecent(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Failed to load most recent conversation")
	}
	s.assembler.Reset(messages)
	return nil
}

// Send runs one chat turn. While a turn is in flight a second Send is a
// no-op returning nil, nil. A cancelled ctx aborts the turn: nothing is
// stored and usage is not incremented.
func (s *Session) Send(ctx context.Context, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("message is empty")
	}
	if _, viewing := s.conversations.Viewing(); viewing {
		return nil, ErrReadOnly
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, nil
	}
	defer s.inFlight.Store(false)

	if blocked := s.usage.blocked(metering.FeatureChat); blocked != nil {
		return nil, blocked
	}

	s.assembler.Begin(text)
	turns := s.assembler.Turns()
	if len(turns) > s.historyTurns {
		turns = turns[len(turns)-s.historyTurns:]
	}
	raw, err := s.stream(ctx, api.ChatRequest{Messages: turns, System: s.system})
	if err != nil {
		if ctx.Err() != nil {
			s.assembler.Abort()
			return nil, ctx.Err()
		}
		s.assembler.Fail()
		return nil, err
	}
	if raw == "" {
		s.assembler.Fail()
		return nil, &UpstreamError{Message: "empty response"}
	}

	msg := s.assembler.Finalize()
	s.persistTurn(context.WithoutCancel(ctx), text, msg)
	s.assembler.Settle()
	return &msg, nil
}

func (s *Session) stream(ctx context.Context, req api.ChatRequest) (string, error) {
	body, err := s.backend.ChatStream(ctx, req)
	if err != nil {
		return "", err
	}
	defer body.Close()

	var raw strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			fragment := string(buf[:n])
			raw.WriteString(fragment)
			s.assembler.Append(fragment)
			if s.onFragment != nil {
				s.onFragment(fragment)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", &UpstreamError{Message: "stream interrupted", Err: err}
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return raw.String(), nil
}

// persistTurn stores the settled turn and bumps the usage cache. Failures
// are logged and swallowed; the turn already succeeded.
func (s *Session) persistTurn(ctx context.Context, userText string, assistant Message) {
	id, err := s.conversations.Ensure(ctx, userText)
	if err != nil {
		s.log.WithError(err).Error("Failed to create conversation")
	} else {
		log := s.log.WithField("conversation_id", id)
		if err := s.conversations.SaveMessage(ctx, id, api.RoleUser, userText, nil); err != nil {
			log.WithError(err).Error("Failed to save user message")
		}
		if err := s.conversations.SaveMessage(ctx, id, api.RoleAssistant, assistant.Content, assistant.Citations); err != nil {
			log.WithError(err).Error("Failed to save assistant message")
		}
		if err := s.conversations.Touch(ctx, id); err != nil {
			log.WithError(err).Warn("Failed to touch conversation")
		}
	}
	s.usage.Increment(ctx, metering.FeatureChat)
}

// ViewConversation opens a past conversation read-only. Send is refused
// until ReturnToLive.
func (s *Session) ViewConversation(ctx context.Context, conversationID string) ([]Message, error) {
	return s.conversations.Load(ctx, conversationID)
}

// ReturnToLive closes the historical view. The live transcript is reloaded
// from the active conversation.
func (s *Session) ReturnToLive(ctx context.Context) error {
	id := s.conversations.BackToLive()
	if id == "" {
		return nil
	}
	data, err := s.backend.Messages(ctx, id)
	if err != nil {
		return fmt.Errorf("reload active conversation: %w", err)
	}
	s.assembler.Reset(toMessages(data))
	return nil
}

// Clear deletes the active conversation and empties the transcript.
func (s *Session) Clear(ctx context.Context) error {
	if s.inFlight.Load() {
		return errors.New("a turn is in flight")
	}
	err := s.conversations.Clear(ctx)
	s.assembler.Reset(nil)
	return err
}

func (s *Session) Transcript() []Message {
	return s.assembler.Messages()
}

func (s *Session) TurnState() TurnState {
	return s.assembler.State()
}

func (s *Session) Usage() *UsageTracker {
	return s.usage
}

func (s *Session) ActiveConversation() string {
	return s.conversations.ActiveID()
}
