// Package handler は制御APIのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hitoshi/acm/internal/auth"
	"github.com/hitoshi/acm/internal/middleware"
	"github.com/hitoshi/acm/internal/model"
)

// maxBodyBytes はリクエストボディの上限。
const maxBodyBytes = 1 << 16

// AuthManager は認証ハンドラーが必要とするManagerのインターフェース。
// 操作はエラーを返さず、結果はStateのメッセージに反映される。
type AuthManager interface {
	State() auth.State
	CheckAuthSession(ctx context.Context)
	SignUp(ctx context.Context, email, password, fullName string)
	SignIn(ctx context.Context, email, password string)
	SignOut(ctx context.Context)
	ResetPassword(ctx context.Context, email string)
	FetchUserProfile(ctx context.Context)
}

// AuthHandler は認証操作のHTTPハンドラー。
// 成功・失敗にかかわらず、操作後の状態を200で返す。
type AuthHandler struct {
	manager AuthManager
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(manager AuthManager) *AuthHandler {
	return &AuthHandler{manager: manager}
}

// signUpRequest はサインアップリクエストのボディ。
type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// signInRequest はサインインリクエストのボディ。
type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// resetPasswordRequest はパスワード再設定リクエストのボディ。
type resetPasswordRequest struct {
	Email string `json:"email"`
}

// State は現在の認証状態を返す。
// GET /auth/state
func (h *AuthHandler) State(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.manager.State())
}

// CheckSession はプロバイダーのセッションを確認する。
// POST /auth/session/check
func (h *AuthHandler) CheckSession(w http.ResponseWriter, r *http.Request) {
	h.manager.CheckAuthSession(r.Context())
	middleware.WriteJSON(w, http.StatusOK, h.manager.State())
}

// SignUp はアカウントを登録する。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if !requireFields(w, "email", req.Email, "password", req.Password) {
		return
	}

	h.manager.SignUp(r.Context(), req.Email, req.Password, req.FullName)
	middleware.WriteJSON(w, http.StatusOK, h.manager.State())
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if !requireFields(w, "email", req.Email, "password", req.Password) {
		return
	}

	h.manager.SignIn(r.Context(), req.Email, req.Password)
	middleware.WriteJSON(w, http.StatusOK, h.manager.State())
}

// SignOut はサインアウトする。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.manager.SignOut(r.Context())
	middleware.WriteJSON(w, http.StatusOK, h.manager.State())
}

// ResetPassword はパスワード再設定メールの送信を依頼する。
// POST /auth/password/reset
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if !requireFields(w, "email", req.Email) {
		return
	}

	h.manager.ResetPassword(r.Context(), req.Email)
	middleware.WriteJSON(w, http.StatusOK, h.manager.State())
}

// RefreshProfile はプロフィールを再取得する。
// POST /auth/profile/refresh
func (h *AuthHandler) RefreshProfile(w http.ResponseWriter, r *http.Request) {
	h.manager.FetchUserProfile(r.Context())
	middleware.WriteJSON(w, http.StatusOK, h.manager.State())
}

// decodeRequest はJSONボディをvに読み込む。失敗した場合は400を書き込んでfalseを返す。
func decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(err.Error()))
		return false
	}
	return true
}

// requireFields は名前と値の組を受け取り、空の値があれば400を書き込んでfalseを返す。
func requireFields(w http.ResponseWriter, pairs ...string) bool {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldError(pairs[i]))
			return false
		}
	}
	return true
}
