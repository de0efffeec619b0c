package auth

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/acm/internal/model"
)

// --- モック定義 ---

type mockProvider struct {
	sessionFn  func(ctx context.Context) (*model.Session, error)
	signUpFn   func(ctx context.Context, email, password string, metadata map[string]any) (*model.SignUpResult, error)
	signInFn   func(ctx context.Context, email, password string) (*model.Session, error)
	signOutFn  func(ctx context.Context) error
	resetFn    func(ctx context.Context, email string) error
	events     chan model.AuthChange
	subscribed atomic.Int32
}

func newMockProvider() *mockProvider {
	return &mockProvider{events: make(chan model.AuthChange)}
}

func (m *mockProvider) Session(ctx context.Context) (*model.Session, error) {
	if m.sessionFn != nil {
		return m.sessionFn(ctx)
	}
	return nil, model.ErrNoSession
}

func (m *mockProvider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*model.SignUpResult, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password, metadata)
	}
	return &model.SignUpResult{User: model.AuthUser{ID: uuid.New(), Email: email}}, nil
}

func (m *mockProvider) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return newSession(uuid.New(), email), nil
}

func (m *mockProvider) SignOut(ctx context.Context) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx)
	}
	return nil
}

func (m *mockProvider) ResetPasswordForEmail(ctx context.Context, email string) error {
	if m.resetFn != nil {
		return m.resetFn(ctx, email)
	}
	return nil
}

func (m *mockProvider) AuthStateChanges(_ context.Context) <-chan model.AuthChange {
	m.subscribed.Add(1)
	return m.events
}

type mockProfileRepo struct {
	findByIDFn func(ctx context.Context, id uuid.UUID) (*model.Profile, error)
	createFn   func(ctx context.Context, profile *model.Profile) error
	findCalls  atomic.Int32
}

func (m *mockProfileRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Profile, error) {
	m.findCalls.Add(1)
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockProfileRepo) Create(ctx context.Context, profile *model.Profile) error {
	if m.createFn != nil {
		return m.createFn(ctx, profile)
	}
	return nil
}

// memoryHintRepo はメモリ上のEmailHintRepository。
type memoryHintRepo struct {
	mu    sync.Mutex
	email string
}

func (r *memoryHintRepo) Get(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.email, nil
}

func (r *memoryHintRepo) Set(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.email = email
	return nil
}

func (r *memoryHintRepo) Clear(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.email = ""
	return nil
}

func (r *memoryHintRepo) value() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.email
}

type mockMetrics struct {
	mu         sync.Mutex
	operations map[string]int
	events     map[string]int
	fetches    map[string]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{
		operations: map[string]int{},
		events:     map[string]int{},
		fetches:    map[string]int{},
	}
}

func (m *mockMetrics) RecordOperation(op, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[op+"/"+result]++
}

func (m *mockMetrics) RecordAuthEvent(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[kind]++
}

func (m *mockMetrics) RecordProfileFetch(result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches[result]++
}

func (m *mockMetrics) operation(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.operations[key]
}

// stripSanitizer はテスト用のNameSanitizer。<b>タグを取り除く。
type stripSanitizer struct{}

func (stripSanitizer) SanitizeName(name string) string {
	return strings.TrimSpace(strings.NewReplacer("<b>", "", "</b>", "").Replace(name))
}

// --- ヘルパー ---

func newSession(id uuid.UUID, email string) *model.Session {
	return &model.Session{
		AccessToken:  "access-" + id.String(),
		RefreshToken: "refresh-" + id.String(),
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         model.AuthUser{ID: id, Email: email},
	}
}

type testDeps struct {
	provider *mockProvider
	profiles *mockProfileRepo
	hints    *memoryHintRepo
	metrics  *mockMetrics
}

func newTestManager(t *testing.T) (*Manager, *testDeps) {
	t.Helper()
	deps := &testDeps{
		provider: newMockProvider(),
		profiles: &mockProfileRepo{},
		hints:    &memoryHintRepo{},
		metrics:  newMockMetrics(),
	}
	m := NewManager(deps.provider, deps.profiles, deps.hints, ManagerConfig{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:   deps.metrics,
		Sanitizer: stripSanitizer{},
	})
	t.Cleanup(m.Close)
	return m, deps
}

// sendEvent はリスナーがイベントを受け取るまで待つ。
func sendEvent(t *testing.T, p *mockProvider, evt model.AuthChange) {
	t.Helper()
	select {
	case p.events <- evt:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not receive event")
	}
}
