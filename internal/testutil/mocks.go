package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"sadhana-metering/internal/app"
	"sadhana-metering/internal/config"
	"sadhana-metering/internal/repository/db"
	"sadhana-metering/internal/service/llm"
	"sadhana-metering/pkg/api"
	"sadhana-metering/pkg/metering"
)

var errNotImplemented = errors.New("not implemented")

// MockDatabase is a mock implementation of db.Database for testing
type MockDatabase struct {
	// User mocks
	CreateUserFunc        func(username, email, password string) (*db.User, error)
	GetUserByUsernameFunc func(username string) (*db.User, error)

	// Subscription mocks
	GetSubscriptionFunc    func(userID string) (*metering.Subscription, error)
	UpsertSubscriptionFunc func(sub metering.Subscription) error

	// Usage mocks
	GetUsageCountsFunc func(userID, bucket string) (map[metering.Feature]int, error)
	GetUsageCountFunc  func(userID string, feature metering.Feature, bucket string) (int, error)
	SetUsageCountFunc  func(userID string, feature metering.Feature, bucket string, count int) error
	IncrementUsageFunc func(userID string, feature metering.Feature, bucket string) (int, error)

	// Conversation mocks
	CreateConversationFunc     func(userID, title string) (*db.Conversation, error)
	GetConversationFunc        func(id string) (*db.Conversation, error)
	GetConversationsByUserFunc func(userID string) ([]db.Conversation, error)
	GetLatestConversationFunc  func(userID string) (*db.Conversation, error)
	TouchConversationFunc      func(id string) error
	DeleteConversationFunc     func(id string) error

	// Message mocks
	AddMessageFunc              func(msg db.Message) (*db.Message, error)
	GetConversationMessagesFunc func(conversationID string) ([]db.Message, error)
}

// User methods
func (m *MockDatabase) CreateUser(_ context.Context, username, email, password string) (*db.User, error) {
	if m.CreateUserFunc != nil {
		return m.CreateUserFunc(username, email, password)
	}
	return nil, errNotImplemented
}

func (m *MockDatabase) GetUserByUsername(_ context.Context, username string) (*db.User, error) {
	if m.GetUserByUsernameFunc != nil {
		return m.GetUserByUsernameFunc(username)
	}
	return nil, errNotImplemented
}

// Subscription methods. A nil GetSubscriptionFunc means every user is on
// the free plan.
func (m *MockDatabase) GetSubscription(_ context.Context, userID string) (*metering.Subscription, error) {
	if m.GetSubscriptionFunc != nil {
		return m.GetSubscriptionFunc(userID)
	}
	return nil, nil
}

func (m *MockDatabase) UpsertSubscription(_ context.Context, sub metering.Subscription) error {
	if m.UpsertSubscriptionFunc != nil {
		return m.UpsertSubscriptionFunc(sub)
	}
	return errNotImplemented
}

// Usage methods
func (m *MockDatabase) GetUsageCounts(_ context.Context, userID, bucket string) (map[metering.Feature]int, error) {
	if m.GetUsageCountsFunc != nil {
		return m.GetUsageCountsFunc(userID, bucket)
	}
	return nil, errNotImplemented
}

func (m *MockDatabase) GetUsageCount(_ context.Context, userID string, feature metering.Feature, bucket string) (int, error) {
	if m.GetUsageCountFunc != nil {
		return m.GetUsageCountFunc(userID, feature, bucket)
	}
	return 0, errNotImplemented
}

func (m *MockDatabase) SetUsageCount(_ context.Context, userID string, feature metering.Feature, bucket string, count int) error {
	if m.SetUsageCountFunc != nil {
		return m.SetUsageCountFunc(userID, feature, bucket, count)
	}
	return errNotImplemented
}

func (m *MockDatabase) IncrementUsage(_ context.Context, userID string, feature metering.Feature, bucket string) (int, error) {
	if m.IncrementUsageFunc != nil {
		return m.IncrementUsageFunc(userID, feature, bucket)
	}
	return 0, errNotImplemented
}

// Conversation methods
func (m *MockDatabase) CreateConversation(_ context.Context, userID, title string) (*db.Conversation, error) {
	if m.CreateConversationFunc != nil {
		return m.CreateConversationFunc(userID, title)
	}
	return nil, errNotImplemented
}

func (m *MockDatabase) GetConversation(_ context.Context, id string) (*db.Conversation, error) {
	if m.GetConversationFunc != nil {
		return m.GetConversationFunc(id)
	}
	return nil, errNotImplemented
}

func (m *MockDatabase) GetConversationsByUser(_ context.Context, userID string) ([]db.Conversation, error) {
	if m.GetConversationsByUserFunc != nil {
		return m.GetConversationsByUserFunc(userID)
	}
	return nil, errNotImplemented
}

func (m *MockDatabase) GetLatestConversation(_ context.Context, userID string) (*db.Conversation, error) {
	if m.GetLatestConversationFunc != nil {
		return m.GetLatestConversationFunc(userID)
	}
	return nil, errNotImplemented
}

func (m *MockDatabase) TouchConversation(_ context.Context, id string) error {
	if m.TouchConversationFunc != nil {
		return m.TouchConversationFunc(id)
	}
	return errNotImplemented
}

func (m *MockDatabase) DeleteConversation(_ context.Context, id string) error {
	if m.DeleteConversationFunc != nil {
		return m.DeleteConversationFunc(id)
	}
	return errNotImplemented
}

// Message methods
func (m *MockDatabase) AddMessage(_ context.Context, msg db.Message) (*db.Message, error) {
	if m.AddMessageFunc != nil {
		return m.AddMessageFunc(msg)
	}
	return nil, errNotImplemented
}

func (m *MockDatabase) GetConversationMessages(_ context.Context, conversationID string) ([]db.Message, error) {
	if m.GetConversationMessagesFunc != nil {
		return m.GetConversationMessagesFunc(conversationID)
	}
	return nil, errNotImplemented
}

func (m *MockDatabase) Close() error {
	return nil
}

// UsageCounters is an in-memory counter table keyed like usage_logs.
type UsageCounters struct {
	mu     sync.Mutex
	counts map[string]int
}

func usageKey(userID string, feature metering.Feature, bucket string) string {
	return userID + "|" + string(feature) + "|" + bucket
}

// Get returns the stored count for one key.
func (u *UsageCounters) Get(userID string, feature metering.Feature, bucket string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[usageKey(userID, feature, bucket)]
}

// Set stores count for one key.
func (u *UsageCounters) Set(userID string, feature metering.Feature, bucket string, count int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.counts[usageKey(userID, feature, bucket)] = count
}

// NewMockDatabaseWithUsage returns a MockDatabase whose usage methods are
// backed by an in-memory table, along with that table.
func NewMockDatabaseWithUsage() (*MockDatabase, *UsageCounters) {
	u := &UsageCounters{counts: make(map[string]int)}
	m := &MockDatabase{
		GetUsageCountsFunc: func(userID, bucket string) (map[metering.Feature]int, error) {
			counts := make(map[metering.Feature]int)
			for _, f := range metering.Features {
				if n := u.Get(userID, f, bucket); n > 0 {
					counts[f] = n
				}
			}
			return counts, nil
		},
		GetUsageCountFunc: func(userID string, feature metering.Feature, bucket string) (int, error) {
			return u.Get(userID, feature, bucket), nil
		},
		SetUsageCountFunc: func(userID string, feature metering.Feature, bucket string, count int) error {
			u.Set(userID, feature, bucket, count)
			return nil
		},
		IncrementUsageFunc: func(userID string, feature metering.Feature, bucket string) (int, error) {
			u.mu.Lock()
			defer u.mu.Unlock()
			k := usageKey(userID, feature, bucket)
			u.counts[k]++
			return u.counts[k], nil
		},
	}
	return m, u
}

// ActiveSubscription returns a GetSubscriptionFunc that puts every user on
// plan with no expiry.
func ActiveSubscription(plan metering.Plan) func(string) (*metering.Subscription, error) {
	return func(userID string) (*metering.Subscription, error) {
		return &metering.Subscription{UserID: userID, Plan: plan, Status: metering.StatusActive}, nil
	}
}

// MockStreamProvider is a mock implementation of llm.StreamProvider for testing
type MockStreamProvider struct {
	ChatStreamFunc func(ctx context.Context, req llm.StreamRequest) (<-chan llm.StreamChunk, error)
	calls          atomic.Int32
}

// Calls reports how many streams were requested.
func (m *MockStreamProvider) Calls() int {
	return int(m.calls.Load())
}

func (m *MockStreamProvider) ChatStream(ctx context.Context, req llm.StreamRequest) (<-chan llm.StreamChunk, error) {
	m.calls.Add(1)
	if m.ChatStreamFunc != nil {
		return m.ChatStreamFunc(ctx, req)
	}
	return nil, errNotImplemented
}

func (m *MockStreamProvider) Name() string {
	return "mock"
}

// StreamOf returns a ChatStreamFunc that emits the given fragments and,
// if failure is non-nil, a trailing error chunk.
func StreamOf(failure error, fragments ...string) func(context.Context, llm.StreamRequest) (<-chan llm.StreamChunk, error) {
	return func(ctx context.Context, _ llm.StreamRequest) (<-chan llm.StreamChunk, error) {
		ch := make(chan llm.StreamChunk)
		go func() {
			defer close(ch)
			for _, f := range fragments {
				select {
				case ch <- llm.StreamChunk{Content: f}:
				case <-ctx.Done():
					return
				}
			}
			if failure != nil {
				select {
				case ch <- llm.StreamChunk{Err: failure}:
				case <-ctx.Done():
				}
			}
		}()
		return ch, nil
	}
}

// MockVisionProvider is a mock implementation of llm.VisionProvider for testing
type MockVisionProvider struct {
	IdentifyFunc func(image []byte, mimeType string) (*api.IdentifyResult, error)
	calls        atomic.Int32
}

// Calls reports how many identifications were requested.
func (m *MockVisionProvider) Calls() int {
	return int(m.calls.Load())
}

func (m *MockVisionProvider) Identify(_ context.Context, image []byte, mimeType string) (*api.IdentifyResult, error) {
	m.calls.Add(1)
	if m.IdentifyFunc != nil {
		return m.IdentifyFunc(image, mimeType)
	}
	return nil, errNotImplemented
}

// NewMockConfig creates a mock app.Config for testing
func NewMockConfig(database db.Database) *app.Config {
	return app.NewConfig(database, database, &config.AppConfig{
		Server: config.ServerConfig{MaxImageBytes: 1 << 20},
		LLM: config.LLMConfig{
			Provider:            config.ProviderOpenRouter,
			OpenRouterAPIKey:    "test-api-key",
			Model:               "test/model",
			MaxTokens:           256,
			DefaultSystemPrompt: "You are a helpful assistant.",
			HistoryTurns:        10,
		},
		Auth: config.AuthConfig{
			JWTSecret:       []byte("test-secret-that-is-at-least-32-bytes-long"),
			TokenExpiration: time.Hour,
		},
		Usage: config.UsageConfig{
			Store:             config.UsageStorePostgres,
			ReferenceTimezone: metering.DefaultReferenceTimezone,
		},
		RateLimit: config.RateLimitConfig{RPS: 100, Burst: 100},
		Plans:     metering.DefaultPlanTable(),
	})
}
