package client

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"sadhana-metering/pkg/api"
	"sadhana-metering/pkg/metering"
	"sadhana-metering/pkg/validation"
)

var validator = validation.NewChatRequestValidator()

// fakeBackend is an in-memory server for session tests. It validates
// requests the way the server does.
type fakeBackend struct {
	mu sync.Mutex

	usage         *api.UsageResponse
	setUsageErr   error
	setUsageCalls []int
	durable       map[metering.Feature]int

	fragments []string
	streamErr error
	// block makes ChatStream wait for ctx after sending fragments.
	block       bool
	chatCalls   int
	lastRequest api.ChatRequest

	conversations map[string][]api.MessageData
	order         []string
	nextID        int
	touched       []string
}

func newFakeBackend(plan metering.Plan, used int) *fakeBackend {
	ent := metering.Resolve(&metering.Subscription{Plan: plan, Status: metering.StatusActive}, time.Now(), metering.DefaultPlanTable())
	return &fakeBackend{
		usage: &api.UsageResponse{
			Plan:       ent.Plan,
			Status:     ent.Status,
			DateBucket: "2026-03-14",
			Timezone:   "Asia/Kolkata",
			Features: map[metering.Feature]metering.Quota{
				metering.FeatureChat:     ent.Quota(metering.FeatureChat, used),
				metering.FeatureIdentify: ent.Quota(metering.FeatureIdentify, 0),
			},
		},
		durable:       map[metering.Feature]int{metering.FeatureChat: used},
		conversations: make(map[string][]api.MessageData),
	}
}

func (f *fakeBackend) Usage(context.Context) (*api.UsageResponse, error) {
	return f.usage, nil
}

func (f *fakeBackend) SetUsage(_ context.Context, feature metering.Feature, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setUsageCalls = append(f.setUsageCalls, count)
	if f.setUsageErr != nil {
		return f.setUsageErr
	}
	f.durable[feature] = count
	return nil
}

func (f *fakeBackend) ChatStream(ctx context.Context, req api.ChatRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	f.chatCalls++
	f.lastRequest = req
	f.mu.Unlock()
	if err := validator.ValidateChatRequest(req); err != nil {
		return nil, &UpstreamError{StatusCode: 400, Message: err.Error()}
	}
	if f.streamErr != nil {
		return nil, f.streamErr
	}

	pr, pw := io.Pipe()
	go func() {
		for _, frag := range f.fragments {
			if _, err := pw.Write([]byte(frag)); err != nil {
				return
			}
		}
		if f.block {
			<-ctx.Done()
			pw.CloseWithError(ctx.Err())
			return
		}
		pw.Close()
	}()
	return pr, nil
}

func (f *fakeBackend) CreateConversation(_ context.Context, firstMessage string) (*api.ConversationInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "conv-" + strconv.Itoa(f.nextID)
	f.conversations[id] = nil
	f.order = append(f.order, id)
	return &api.ConversationInfo{ID: id, Title: firstMessage}, nil
}

func (f *fakeBackend) LatestConversation(context.Context) (*api.ConversationWithMessages, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.order) == 0 {
		return nil, nil
	}
	id := f.order[len(f.order)-1]
	return &api.ConversationWithMessages{
		Conversation: api.ConversationInfo{ID: id},
		Messages:     append([]api.MessageData(nil), f.conversations[id]...),
	}, nil
}

func (f *fakeBackend) Messages(_ context.Context, id string) ([]api.MessageData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, ok := f.conversations[id]
	if !ok {
		return nil, &notFoundError{message: "conversation not found"}
	}
	return append([]api.MessageData(nil), msgs...), nil
}

func (f *fakeBackend) AddMessage(_ context.Context, id string, req api.AddMessageRequest) (*api.MessageData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.conversations[id]; !ok {
		return nil, errors.New("no such conversation")
	}
	if err := validator.ValidateAddMessage(req); err != nil {
		return nil, &UpstreamError{StatusCode: 400, Message: err.Error()}
	}
	msg := api.MessageData{
		ID:               id + "-msg-" + strconv.Itoa(len(f.conversations[id])+1),
		ConversationID:   id,
		Role:             req.Role,
		Content:          req.Content,
		SourceReferences: req.SourceReferences,
	}
	f.conversations[id] = append(f.conversations[id], msg)
	return &msg, nil
}

func (f *fakeBackend) TouchConversation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeBackend) DeleteConversation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conversations, id)
	kept := f.order[:0]
	for _, o := range f.order {
		if o != id {
			kept = append(kept, o)
		}
	}
	f.order = kept
	return nil
}

func (f *fakeBackend) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, msgs := range f.conversations {
		n += len(msgs)
	}
	return n
}

func (f *fakeBackend) durableCount(feature metering.Feature) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.durable[feature]
}

func joinContents(msgs []Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.Role.String()+":"+m.Content)
	}
	return strings.Join(parts, "|")
}
