// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNoSession は現在有効なセッションが存在しないことを表す。
var ErrNoSession = errors.New("no active session")

// AuthUser は認証プロバイダーが管理するユーザーを表す。
type AuthUser struct {
	ID          uuid.UUID
	Email       string
	ConfirmedAt *time.Time
	Metadata    map[string]any
}

// Session は認証プロバイダーが発行したログインセッションを表す。
// メモリ上にのみ保持し、永続化しない。
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	User         AuthUser
}

// IsExpired はmarginを考慮してセッションが期限切れかどうかを返す。
// ExpiresAtがゼロ値の場合は期限なしとして扱う。
func (s *Session) IsExpired(now time.Time, margin time.Duration) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(s.ExpiresAt)
}

// SignUpResult はサインアップ結果を表す。
// メール確認が必要な場合はSessionがnilになる。
type SignUpResult struct {
	User    AuthUser
	Session *Session
}

// AuthEventKind はセッション変更イベントの種類。
type AuthEventKind string

const (
	AuthEventInitialSession AuthEventKind = "INITIAL_SESSION"
	AuthEventSignedIn       AuthEventKind = "SIGNED_IN"
	AuthEventSignedOut      AuthEventKind = "SIGNED_OUT"
	AuthEventTokenRefreshed AuthEventKind = "TOKEN_REFRESHED"
	AuthEventUserUpdated    AuthEventKind = "USER_UPDATED"
)

// AuthChange はセッション変更ストリームの1イベント。
// Sessionがnilの場合はサインアウト状態を表す。
type AuthChange struct {
	Kind    AuthEventKind
	Session *Session
}
