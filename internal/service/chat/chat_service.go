package chat

import (
	"context"

	"sadhana-metering/internal/apperr"
	"sadhana-metering/internal/logger"
	"sadhana-metering/internal/metrics"
	"sadhana-metering/internal/service/llm"
	"sadhana-metering/internal/service/quota"
	"sadhana-metering/pkg/api"
	"sadhana-metering/pkg/metering"
	"sadhana-metering/pkg/validation"

	"github.com/sirupsen/logrus"
)

// DefaultHistoryTurns is how many trailing turns are sent upstream.
const DefaultHistoryTurns = 10

// StreamRequest contains all the parameters needed to stream one turn
type StreamRequest struct {
	UserID   string // Extracted from auth context
	Messages []api.Turn
	System   string
}

// ChatService meters chat turns and proxies them to the stream provider
type ChatService struct {
	gate         *quota.Gate
	provider     llm.StreamProvider
	validator    *validation.ChatRequestValidator
	historyTurns int
}

// NewChatService creates a new ChatService
func NewChatService(gate *quota.Gate, provider llm.StreamProvider, historyTurns int) *ChatService {
	if historyTurns <= 0 {
		historyTurns = DefaultHistoryTurns
	}
	return &ChatService{
		gate:         gate,
		provider:     provider,
		validator:    validation.NewChatRequestValidator(),
		historyTurns: historyTurns,
	}
}

// Stream is an admitted turn whose upstream response is open.
type Stream struct {
	ctx       context.Context
	cancel    context.CancelFunc
	chunks    <-chan llm.StreamChunk
	admission *quota.Admission
	gate      *quota.Gate
	log       *logrus.Entry
}

// Open validates the request, admits it against today's chat quota and
// opens the upstream stream. Every error returned here happens before any
// byte is streamed, so the caller can still answer with a JSON error.
func (s *ChatService) Open(ctx context.Context, req StreamRequest) (*Stream, error) {
	if req.UserID == "" {
		return nil, apperr.Authentication("authentication required")
	}
	turns := lastTurns(req.Messages, s.historyTurns)
	if err := s.validator.ValidateChatRequest(api.ChatRequest{Messages: turns, System: req.System}); err != nil {
		return nil, apperr.InvalidInput("validation failed", err)
	}

	admission, err := s.gate.Admit(ctx, req.UserID, metering.FeatureChat)
	if err != nil {
		metrics.RecordStreamOutcome(metrics.StreamRejected)
		return nil, err
	}

	log := logger.Log.WithFields(logrus.Fields{
		"user_id":  req.UserID,
		"provider": s.provider.Name(),
		"turns":    len(turns),
	})

	ctx, cancel := context.WithCancel(ctx)
	chunks, err := s.provider.ChatStream(ctx, llm.StreamRequest{Turns: turns, System: req.System})
	if err != nil {
		cancel()
		metrics.RecordStreamOutcome(metrics.StreamFailed)
		log.WithError(err).Warn("Upstream refused the chat stream")
		if apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.Upstream("model request failed", err)
		}
		return nil, err
	}

	log.Debug("Chat stream opened")
	return &Stream{
		ctx:       ctx,
		cancel:    cancel,
		chunks:    chunks,
		admission: admission,
		gate:      s.gate,
		log:       log,
	}, nil
}

// Forward passes every fragment to emit until the upstream stream ends.
// Usage is committed only when the stream completed without error and the
// caller did not go away. A failing emit cancels the upstream request.
func (st *Stream) Forward(emit func(fragment string) error) error {
	defer st.cancel()

	fragments := 0
	for chunk := range st.chunks {
		if chunk.Err != nil {
			metrics.RecordStreamOutcome(metrics.StreamFailed)
			st.log.WithError(chunk.Err).WithField("fragments", fragments).Warn("Chat stream failed")
			return chunk.Err
		}
		if err := emit(chunk.Content); err != nil {
			metrics.RecordStreamOutcome(metrics.StreamCancelled)
			st.log.WithError(err).WithField("fragments", fragments).Info("Client stopped reading the chat stream")
			return apperr.New(apperr.KindCancelled, "client went away", err)
		}
		fragments++
		metrics.RecordStreamFragment()
	}

	if err := st.ctx.Err(); err != nil {
		metrics.RecordStreamOutcome(metrics.StreamCancelled)
		st.log.WithField("fragments", fragments).Info("Chat stream cancelled")
		return apperr.New(apperr.KindCancelled, "chat stream cancelled", err)
	}

	metrics.RecordStreamOutcome(metrics.StreamCompleted)
	st.log.WithField("fragments", fragments).Info("Chat stream completed")
	st.gate.Commit(st.ctx, st.admission)
	return nil
}

// Close releases the upstream request without committing usage.
func (st *Stream) Close() {
	st.cancel()
}

// lastTurns keeps the trailing n turns.
func lastTurns(turns []api.Turn, n int) []api.Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
