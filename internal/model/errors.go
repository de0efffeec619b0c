// Package model はドメインモデルを定義する。
package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeMissingField     = "MISSING_FIELD"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// NewInvalidRequestError はリクエストボディが不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("invalid request body: %s", reason),
		Category: "validation",
		Action:   "Send a JSON object with the documented fields.",
	}
}

// NewMissingFieldError は必須フィールドが空の場合のエラーを生成する。
func NewMissingFieldError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingField,
		Message:  fmt.Sprintf("%s is required", field),
		Category: "validation",
		Action:   fmt.Sprintf("Provide a non-empty %s.", field),
	}
}

// NewNotFoundError は存在しないパスへのリクエストのエラーを生成する。
func NewNotFoundError(path string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%s was not found", path),
		Category: "validation",
		Action:   "Check the request path.",
	}
}

// NewMethodNotAllowedError は許可されていないメソッドでのリクエストのエラーを生成する。
func NewMethodNotAllowedError(method, path string) *APIError {
	return &APIError{
		Code:     ErrCodeMethodNotAllowed,
		Message:  fmt.Sprintf("%s is not allowed on %s", method, path),
		Category: "validation",
		Action:   "Check the request method.",
	}
}

// AuthErrorKind はプロバイダーエラーをユーザー向けに分類したカテゴリ。
// 表示文言の選択にのみ使い、制御フローには影響させない。
type AuthErrorKind string

const (
	AuthErrInvalidCredentials    AuthErrorKind = "invalid_credentials"
	AuthErrUnconfirmedEmail      AuthErrorKind = "unconfirmed_email"
	AuthErrDuplicateRegistration AuthErrorKind = "duplicate_registration"
	AuthErrNetworkFailure        AuthErrorKind = "network_failure"
	AuthErrRateLimited           AuthErrorKind = "rate_limited"
	AuthErrWeakPassword          AuthErrorKind = "weak_password"
	AuthErrInvalidEmailFormat    AuthErrorKind = "invalid_email_format"
	AuthErrTimeout               AuthErrorKind = "timeout"
	AuthErrUnknown               AuthErrorKind = "unknown"
)

// authErrorMessages はカテゴリごとのユーザー向け文言。
var authErrorMessages = map[AuthErrorKind]string{
	AuthErrInvalidCredentials:    "Invalid email or password. Please try again.",
	AuthErrUnconfirmedEmail:      "Please confirm your email address before signing in.",
	AuthErrDuplicateRegistration: "An account with this email already exists. Try signing in instead.",
	AuthErrNetworkFailure:        "Network error. Please check your connection and try again.",
	AuthErrRateLimited:           "Too many attempts. Please wait a moment and try again.",
	AuthErrWeakPassword:          "Password is too weak. Please use at least 6 characters.",
	AuthErrInvalidEmailFormat:    "Please enter a valid email address.",
	AuthErrTimeout:               "The request timed out. Please try again.",
	AuthErrUnknown:               "Something went wrong. Please try again.",
}

// Message はカテゴリに対応するユーザー向け文言を返す。
func (k AuthErrorKind) Message() string {
	if msg, ok := authErrorMessages[k]; ok {
		return msg
	}
	return authErrorMessages[AuthErrUnknown]
}

// authErrorPatterns は部分一致による分類規則。上から順に評価する。
// timeoutを含むネットワークエラー文言があるため、TimeoutをNetworkFailureより先に置く。
var authErrorPatterns = []struct {
	kind     AuthErrorKind
	patterns []string
}{
	{AuthErrInvalidCredentials, []string{"invalid login credentials", "invalid credentials", "wrong password"}},
	{AuthErrUnconfirmedEmail, []string{"email not confirmed", "email_not_confirmed", "not confirmed"}},
	{AuthErrDuplicateRegistration, []string{"already registered", "already exists", "user_already_exists", "duplicate key"}},
	{AuthErrRateLimited, []string{"rate limit", "too many requests", "over_request_rate_limit", "over_email_send_rate_limit"}},
	{AuthErrWeakPassword, []string{"password should be", "weak password", "weak_password", "password is too short"}},
	{AuthErrInvalidEmailFormat, []string{"invalid email", "unable to validate email", "email_address_invalid", "invalid format"}},
	{AuthErrTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{AuthErrNetworkFailure, []string{"network", "connection refused", "connection reset", "no such host", "offline", "unreachable", "eof"}},
}

// ClassifyAuthError はプロバイダーエラーをカテゴリに分類する。
// コンテキスト期限切れ・HTTP 429などの型情報を先に判定し、
// 該当しない場合はエラー文言の部分一致で分類する。
func ClassifyAuthError(err error) AuthErrorKind {
	if err == nil {
		return AuthErrUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return AuthErrTimeout
	}
	var statusErr interface{ HTTPStatus() int }
	if errors.As(err, &statusErr) {
		switch statusErr.HTTPStatus() {
		case http.StatusTooManyRequests:
			return AuthErrRateLimited
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return AuthErrTimeout
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return AuthErrTimeout
	}

	text := strings.ToLower(err.Error())
	for _, rule := range authErrorPatterns {
		for _, p := range rule.patterns {
			if strings.Contains(text, p) {
				return rule.kind
			}
		}
	}
	return AuthErrUnknown
}

// AuthErrorMessage はエラーをユーザー向け文言に変換する。
func AuthErrorMessage(err error) string {
	return ClassifyAuthError(err).Message()
}
