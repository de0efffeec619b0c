// Package supabase はSupabase Auth (GoTrue) とPostgRESTのHTTPクライアントを提供する。
// セッションはメモリ上にのみ保持し、変更はAuthStateChangesで購読者に配信する。
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/hitoshi/acm/internal/model"
)

const (
	defaultHTTPTimeout   = 15 * time.Second
	defaultRefreshMargin = 90 * time.Second
	defaultRateLimit     = 5
	defaultRateBurst     = 10

	authPathPrefix = "/auth/v1"
	restPathPrefix = "/rest/v1"
)

// Config はSupabaseクライアントの設定。
type Config struct {
	URL     string
	AnonKey string

	// HTTPClient が未指定の場合はTimeout付きのクライアントを生成する
	HTTPClient *http.Client
	Timeout    time.Duration

	// 認証エンドポイントへの送信頻度制限（秒間リクエスト数とバースト）
	RateLimit float64
	RateBurst int

	// 有効期限のこの時間前からセッションを期限切れとみなして更新する
	RefreshMargin time.Duration
}

// Client はSupabaseプロジェクトへのクライアント。
type Client struct {
	baseURL       string
	anonKey       string
	httpClient    *http.Client
	limiter       *rate.Limiter
	refreshMargin time.Duration
	logger        *slog.Logger
	now           func() time.Time

	mu      sync.RWMutex
	session *model.Session

	refreshGroup singleflight.Group
	events       *broadcaster
}

// NewClient はClientを生成する。URLとAnonKeyは必須。
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	baseURL, err := validateBaseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.AnonKey) == "" {
		return nil, errors.New("supabase anon key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = defaultRateBurst
	}

	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = defaultRefreshMargin
	}

	return &Client{
		baseURL:       baseURL,
		anonKey:       cfg.AnonKey,
		httpClient:    httpClient,
		limiter:       rate.NewLimiter(rate.Limit(limit), burst),
		refreshMargin: margin,
		logger:        logger,
		now:           time.Now,
		events:        newBroadcaster(),
	}, nil
}

// validateBaseURL はプロジェクトURLを検証し、末尾のスラッシュを除いて返す。
// ローカル開発用のhttp://localhostも許可する。
func validateBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("supabase url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid supabase url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid supabase url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("invalid supabase url: missing host")
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// Close はセッション変更ストリームをすべて終了する。
func (c *Client) Close() {
	c.events.close()
}

// request は1回分のHTTPリクエストの内容。
type request struct {
	method  string
	path    string
	query   url.Values
	body    any
	bearer  string
	headers map[string]string
}

// do はリクエストを送信し、成功時はレスポンスボディをoutにデコードする。
// 4xx/5xxは*APIErrorとして返す。
func (c *Client) do(ctx context.Context, r request, out any) error {
	raw, err := c.doRaw(ctx, r)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// doRaw はリクエストを送信し、成功時の生のレスポンスボディを返す。
func (c *Client) doRaw(ctx context.Context, r request) ([]byte, error) {
	endpoint := c.baseURL + r.path
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	bearer := r.bearer
	if bearer == "" {
		bearer = c.anonKey
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, parseAPIError(resp.StatusCode, raw)
	}
	return raw, nil
}

// doAuth は送信頻度制限を適用して認証エンドポイントへリクエストする。
func (c *Client) doAuth(ctx context.Context, r request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}
	r.path = authPathPrefix + r.path
	return c.do(ctx, r, out)
}

// accessToken は現在のセッションのアクセストークンを返す。セッションがなければ空文字。
func (c *Client) accessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}
