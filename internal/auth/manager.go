// Package auth は認証セッションとプロフィールの同期を提供する。
// Managerは認証状態の唯一の所有者で、プロバイダーのセッション変更ストリームと
// 明示的な操作の両方から状態を更新し、表示層へスナップショットを公開する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/acm/internal/metrics"
	"github.com/hitoshi/acm/internal/model"
	"github.com/hitoshi/acm/internal/repository"
)

// ユーザー向けの定型文言
const (
	confirmEmailMessage     = "Please check your email to confirm your account."
	passwordResetMessage    = "Password reset email sent. Please check your inbox."
	noSessionMessage        = "No active session. Please sign in."
	noProfileSessionMessage = "No active session to fetch profile."
	profileNotFoundMessage  = "No profile was found for this account."
	profileFetchMessage     = "Could not load your profile. Please try again."
)

// 操作名（ログとメトリクスのラベル）
const (
	opCheckSession  = "check_session"
	opSignUp        = "sign_up"
	opSignIn        = "sign_in"
	opSignOut       = "sign_out"
	opResetPassword = "reset_password"
)

// Provider は認証プロバイダーのインターフェース。
type Provider interface {
	// Session は現在のセッションを返す。セッションがない場合はmodel.ErrNoSessionを返す。
	Session(ctx context.Context) (*model.Session, error)
	// SignUp はアカウントを登録する。メール確認が必要な場合はSessionのない結果を返す。
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*model.SignUpResult, error)
	// SignIn はメールアドレスとパスワードでサインインする。
	SignIn(ctx context.Context, email, password string) (*model.Session, error)
	// SignOut はサインアウトする。
	SignOut(ctx context.Context) error
	// ResetPasswordForEmail はパスワード再設定メールの送信を依頼する。
	ResetPasswordForEmail(ctx context.Context, email string) error
	// AuthStateChanges はセッション変更ストリームを購読する。
	AuthStateChanges(ctx context.Context) <-chan model.AuthChange
}

// NameSanitizer は表示名からマークアップを取り除く。
type NameSanitizer interface {
	SanitizeName(name string) string
}

// ManagerConfig はManagerの任意設定。
type ManagerConfig struct {
	Logger    *slog.Logger
	Metrics   metrics.MetricsCollector // nilの場合は記録しない
	Sanitizer NameSanitizer            // nilの場合は前後の空白除去のみ
}

// Manager は認証状態を所有し、プロバイダーと同期する。
type Manager struct {
	provider    Provider
	profileRepo repository.ProfileRepository
	hintRepo    repository.EmailHintRepository
	metrics     metrics.MetricsCollector
	sanitizer   NameSanitizer
	logger      *slog.Logger

	// muは状態・セッション・購読者を保護する
	mu           sync.Mutex
	state        State
	session      *model.Session
	observers    map[int]chan State
	nextObserver int
	closed       bool

	// opMuは状態を変える操作を1つずつ実行させる
	opMu         sync.Mutex
	profileGroup singleflight.Group

	ctx          context.Context
	cancel       context.CancelFunc
	listenOnce   sync.Once
	listening    bool
	listenerDone chan struct{}
	closeOnce    sync.Once
}

// NewManager はManagerを生成する。hintRepoはnilでもよい。
func NewManager(
	provider Provider,
	profileRepo repository.ProfileRepository,
	hintRepo repository.EmailHintRepository,
	config ManagerConfig,
) *Manager {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		provider:     provider,
		profileRepo:  profileRepo,
		hintRepo:     hintRepo,
		metrics:      config.Metrics,
		sanitizer:    config.Sanitizer,
		logger:       logger,
		state:        State{Status: StatusUnknown},
		observers:    make(map[int]chan State),
		ctx:          ctx,
		cancel:       cancel,
		listenerDone: make(chan struct{}),
	}
}

// Close はリスナーを停止して終了を待ち、購読チャネルを閉じる。複数回呼んでもよい。
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		listening := m.listening
		m.mu.Unlock()

		m.cancel()
		if listening {
			<-m.listenerDone
		}

		m.mu.Lock()
		for id, ch := range m.observers {
			delete(m.observers, id)
			close(ch)
		}
		m.mu.Unlock()
	})
}

// runOperation は状態を変える操作を直列に実行する。
// 開始時にメッセージを消してIsLoadingを立て、終了時にdeferで必ず下ろす。
// fnのエラーはユーザー向け文言に変換してErrorMessageに記録し、呼び出し元には返さない。
func (m *Manager) runOperation(ctx context.Context, op string, fn func(ctx context.Context) error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.update(func(s *State) {
		s.IsLoading = true
		s.ErrorMessage = ""
		s.InfoMessage = ""
	})
	defer m.update(func(s *State) { s.IsLoading = false })

	err := fn(ctx)
	if err != nil {
		m.logger.Warn("auth operation failed",
			slog.String("op", op),
			slog.String("error_kind", string(model.ClassifyAuthError(err))),
			slog.String("error", err.Error()),
		)
		m.update(func(s *State) { s.ErrorMessage = userMessage(err) })
		m.recordOperation(op, metrics.ResultFailure)
		return
	}
	m.recordOperation(op, metrics.ResultSuccess)
}

// userMessage はエラーをユーザー向け文言に変換する。
func userMessage(err error) string {
	if errors.Is(err, model.ErrNoSession) {
		return noSessionMessage
	}
	return model.AuthErrorMessage(err)
}

// CheckAuthSession はプロバイダーに現在のセッションを問い合わせて状態に反映する。
// セッションがあればプロフィールも取得する。
func (m *Manager) CheckAuthSession(ctx context.Context) {
	m.restoreEmailHint(ctx)

	m.runOperation(ctx, opCheckSession, func(ctx context.Context) error {
		session, err := m.provider.Session(ctx)
		if err != nil {
			m.update(func(s *State) { m.applySessionLocked(s, nil) })
			return fmt.Errorf("failed to get session: %w", err)
		}

		m.update(func(s *State) { m.applySessionLocked(s, session) })
		m.rememberEmail(ctx, session.User.Email)
		m.fetchProfile(ctx, false)
		return nil
	})
}

// SignUp はアカウントを登録する。fullNameはユーザーメタデータとプロフィールに保存する。
// セッションが返った場合はサインイン状態にしてプロフィール行を作成する。
// メール確認が必要な場合はサインアウト状態のまま確認を促すメッセージを設定する。
func (m *Manager) SignUp(ctx context.Context, email, password, fullName string) {
	m.runOperation(ctx, opSignUp, func(ctx context.Context) error {
		name := m.sanitizeName(fullName)
		metadata := map[string]any{}
		if name != "" {
			metadata["full_name"] = name
		}

		result, err := m.provider.SignUp(ctx, email, password, metadata)
		if err != nil {
			return fmt.Errorf("failed to sign up: %w", err)
		}

		// 1. メール確認待ち。確認後のサインインで取得できるよう行は先に作成する
		if result.Session == nil {
			m.logger.Info("sign up requires email confirmation",
				slog.String("user_id", result.User.ID.String()),
			)
			pending := &model.Profile{
				ID:       result.User.ID,
				FullName: name,
				Email:    firstNonEmpty(result.User.Email, email),
			}
			// アカウントは作成済みのため、行の作成失敗はログのみ
			if err := m.profileRepo.Create(ctx, pending); err != nil {
				m.logger.Warn("failed to create profile before email confirmation",
					slog.String("user_id", result.User.ID.String()),
					slog.String("error", err.Error()),
				)
			}
			m.update(func(s *State) {
				if s.Status == StatusUnknown {
					m.applySessionLocked(s, nil)
				}
				s.InfoMessage = confirmEmailMessage
			})
			return nil
		}

		// 2. セッションを反映
		session := result.Session
		m.update(func(s *State) { m.applySessionLocked(s, session) })
		m.rememberEmail(ctx, session.User.Email)

		// 3. プロフィール行を作成してローカルに反映
		profile := &model.Profile{
			ID:       session.User.ID,
			FullName: name,
			Email:    firstNonEmpty(session.User.Email, email),
		}
		if err := m.profileRepo.Create(ctx, profile); err != nil {
			return fmt.Errorf("failed to create profile: %w", err)
		}
		m.setProfile(profile)

		m.logger.Info("user signed up", slog.String("user_id", session.User.ID.String()))
		return nil
	})
}

// SignIn はメールアドレスとパスワードでサインインする。
// 失敗した場合は認証状態を変えずにエラーを記録する。
func (m *Manager) SignIn(ctx context.Context, email, password string) {
	m.runOperation(ctx, opSignIn, func(ctx context.Context) error {
		session, err := m.provider.SignIn(ctx, email, password)
		if err != nil {
			return fmt.Errorf("failed to sign in: %w", err)
		}

		m.update(func(s *State) { m.applySessionLocked(s, session) })
		m.rememberEmail(ctx, session.User.Email)
		m.logger.Info("user signed in", slog.String("user_id", session.User.ID.String()))
		return nil
	})
}

// SignOut はサインアウトし、メールアドレス・プロフィール・ヒントを消去する。
// 失敗した場合は状態を巻き戻しも強制消去もせずにエラーを記録する。
func (m *Manager) SignOut(ctx context.Context) {
	m.runOperation(ctx, opSignOut, func(ctx context.Context) error {
		if err := m.provider.SignOut(ctx); err != nil {
			return fmt.Errorf("failed to sign out: %w", err)
		}

		m.update(func(s *State) {
			m.applySessionLocked(s, nil)
			s.EmailHint = ""
		})
		m.forgetEmail(ctx)
		m.logger.Info("user signed out")
		return nil
	})
}

// ResetPassword はパスワード再設定メールの送信を依頼する。認証状態は変えない。
func (m *Manager) ResetPassword(ctx context.Context, email string) {
	m.runOperation(ctx, opResetPassword, func(ctx context.Context) error {
		if err := m.provider.ResetPasswordForEmail(ctx, email); err != nil {
			return fmt.Errorf("failed to reset password: %w", err)
		}
		m.update(func(s *State) { s.InfoMessage = passwordResetMessage })
		return nil
	})
}

// sanitizeName は表示名を正規化する。
func (m *Manager) sanitizeName(name string) string {
	if m.sanitizer != nil {
		return m.sanitizer.SanitizeName(name)
	}
	return strings.TrimSpace(name)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (m *Manager) recordOperation(op, result string) {
	if m.metrics != nil {
		m.metrics.RecordOperation(op, result)
	}
}
