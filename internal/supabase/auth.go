package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/acm/internal/model"
)

// tokenResponse はGoTrueのトークン発行レスポンス。
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`
}

// userResponse はGoTrueのユーザーオブジェクト。
type userResponse struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	ConfirmedAt      *time.Time     `json:"confirmed_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

// toAuthUser はユーザーオブジェクトをドメインモデルに変換する。
func (u *userResponse) toAuthUser() (model.AuthUser, error) {
	id, err := uuid.Parse(u.ID)
	if err != nil {
		return model.AuthUser{}, fmt.Errorf("invalid user id %q: %w", u.ID, err)
	}
	confirmed := u.EmailConfirmedAt
	if confirmed == nil {
		confirmed = u.ConfirmedAt
	}
	return model.AuthUser{
		ID:          id,
		Email:       u.Email,
		ConfirmedAt: confirmed,
		Metadata:    u.UserMetadata,
	}, nil
}

// accessClaims はアクセストークンから読み出す項目。
type accessClaims struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
}

// parseAccessClaims はアクセストークンのクレームを署名検証せずに読み出す。
// 署名の検証はトークンを受け取るSupabase側の責務。
func parseAccessClaims(token string) (*accessClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}
	out := &accessClaims{}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if email, ok := claims["email"].(string); ok {
		out.Email = email
	}
	return out, nil
}

// toSession はトークンレスポンスをセッションに変換する。
// 有効期限はexpires_at、expires_in、JWTのexpの順に採用する。
func (c *Client) toSession(tr *tokenResponse) (*model.Session, error) {
	if tr.AccessToken == "" {
		return nil, errors.New("empty access token in response")
	}

	s := &model.Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
	}
	switch {
	case tr.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(tr.ExpiresAt, 0)
	case tr.ExpiresIn > 0:
		s.ExpiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	if tr.User != nil {
		user, err := tr.User.toAuthUser()
		if err != nil {
			return nil, err
		}
		s.User = user
	}

	if s.ExpiresAt.IsZero() || tr.User == nil {
		claims, err := parseAccessClaims(tr.AccessToken)
		if err != nil {
			return nil, err
		}
		if s.ExpiresAt.IsZero() {
			s.ExpiresAt = claims.ExpiresAt
		}
		if tr.User == nil {
			id, err := uuid.Parse(claims.Subject)
			if err != nil {
				return nil, fmt.Errorf("invalid subject in access token: %w", err)
			}
			s.User = model.AuthUser{ID: id, Email: claims.Email}
		}
	}
	return s, nil
}

// currentSession は保持しているセッションを返す。
func (c *Client) currentSession() *model.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// setSession はセッションを置き換え、変更イベントを配信する。
func (c *Client) setSession(s *model.Session, kind model.AuthEventKind) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	c.events.publish(model.AuthChange{Kind: kind, Session: s})
}

// Session は現在のセッションを返す。
// 期限切れが近い場合はリフレッシュトークンで更新してから返す。
// セッションがない場合はmodel.ErrNoSessionを返す。
func (c *Client) Session(ctx context.Context) (*model.Session, error) {
	s := c.currentSession()
	if s == nil {
		return nil, model.ErrNoSession
	}
	if !s.IsExpired(c.now(), c.refreshMargin) {
		return s, nil
	}
	return c.RefreshSession(ctx)
}

// RefreshSession はリフレッシュトークンでセッションを更新する。
// 同時に呼ばれた場合も更新リクエストは1回にまとめる。
// サーバーがリフレッシュトークンを拒否した場合はセッションを破棄して
// SIGNED_OUTを配信する。
func (c *Client) RefreshSession(ctx context.Context) (*model.Session, error) {
	v, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		current := c.currentSession()
		if current == nil {
			return nil, model.ErrNoSession
		}
		if current.RefreshToken == "" {
			return nil, errors.New("session has no refresh token")
		}

		var tr tokenResponse
		err := c.doAuth(ctx, request{
			method: http.MethodPost,
			path:   "/token",
			query:  url.Values{"grant_type": {"refresh_token"}},
			body:   map[string]string{"refresh_token": current.RefreshToken},
		}, &tr)
		if err != nil {
			if isClientError(err) {
				c.logger.Warn("refresh token rejected, clearing session",
					"user_id", current.User.ID.String(),
					"error", err,
				)
				c.setSession(nil, model.AuthEventSignedOut)
			}
			return nil, fmt.Errorf("failed to refresh session: %w", err)
		}

		s, err := c.toSession(&tr)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh session: %w", err)
		}
		c.setSession(s, model.AuthEventTokenRefreshed)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Session), nil
}

// SignUp はメールアドレスとパスワードでアカウントを登録する。
// metadataはuser_metadataとして保存される。
// メール確認が必要なプロジェクトではSessionのない結果を返す。
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*model.SignUpResult, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
	}
	if len(metadata) > 0 {
		body["data"] = metadata
	}

	var raw json.RawMessage
	if err := c.doAuth(ctx, request{method: http.MethodPost, path: "/signup", body: body}, &raw); err != nil {
		return nil, fmt.Errorf("failed to sign up: %w", err)
	}

	// 1. セッション付きのトークンレスポンスを試す
	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse signup response: %w", err)
	}
	if tr.AccessToken != "" {
		s, err := c.toSession(&tr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signup session: %w", err)
		}
		c.setSession(s, model.AuthEventSignedIn)
		return &model.SignUpResult{User: s.User, Session: s}, nil
	}

	// 2. メール確認待ちの場合はユーザーオブジェクトのみが返る
	var ur userResponse
	if err := json.Unmarshal(raw, &ur); err != nil {
		return nil, fmt.Errorf("failed to parse signup user: %w", err)
	}
	if ur.ID == "" {
		return nil, errors.New("empty user in signup response")
	}
	user, err := ur.toAuthUser()
	if err != nil {
		return nil, fmt.Errorf("failed to parse signup user: %w", err)
	}
	return &model.SignUpResult{User: user}, nil
}

// SignIn はメールアドレスとパスワードでサインインし、セッションを保持する。
func (c *Client) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	var tr tokenResponse
	err := c.doAuth(ctx, request{
		method: http.MethodPost,
		path:   "/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   map[string]string{"email": email, "password": password},
	}, &tr)
	if err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}

	s, err := c.toSession(&tr)
	if err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}
	c.setSession(s, model.AuthEventSignedIn)
	return s, nil
}

// SignOut はサーバー側のセッションを失効させ、保持しているセッションを破棄する。
// 通信エラーの場合はセッションを保持したままエラーを返す。
// サーバーがトークンを既に無効と判断した場合（401/403/404）はサインアウト済みとして扱う。
func (c *Client) SignOut(ctx context.Context) error {
	current := c.currentSession()
	if current == nil {
		c.setSession(nil, model.AuthEventSignedOut)
		return nil
	}

	err := c.doAuth(ctx, request{
		method: http.MethodPost,
		path:   "/logout",
		bearer: current.AccessToken,
	}, nil)
	if err != nil && !isRejected(err) {
		return fmt.Errorf("failed to sign out: %w", err)
	}

	c.setSession(nil, model.AuthEventSignedOut)
	return nil
}

// ResetPasswordForEmail はパスワード再設定メールの送信を依頼する。
func (c *Client) ResetPasswordForEmail(ctx context.Context, email string) error {
	err := c.doAuth(ctx, request{
		method: http.MethodPost,
		path:   "/recover",
		body:   map[string]string{"email": email},
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to request password reset: %w", err)
	}
	return nil
}

// AuthStateChanges はセッション変更ストリームを購読する。
// 最初のイベントは現在のセッションを持つINITIAL_SESSION。
// ctxの終了またはCloseでチャネルは閉じられる。
func (c *Client) AuthStateChanges(ctx context.Context) <-chan model.AuthChange {
	return c.events.subscribe(ctx, func() model.AuthChange {
		return model.AuthChange{Kind: model.AuthEventInitialSession, Session: c.currentSession()}
	})
}
