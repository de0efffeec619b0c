package supabase

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// StartAutoRefresh はintervalごとにセッションの期限を確認し、
// 期限切れが近ければ更新する。コンテキストがキャンセルされるまで実行を継続する。
func (c *Client) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("token auto refresh started", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("token auto refresh stopped")
			return
		case <-ticker.C:
			if _, err := c.RefreshIfNeeded(ctx, interval); err != nil {
				c.logger.Error("token auto refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RefreshIfNeeded はセッションが期限切れ間近の場合のみ更新する。
// 一時的な失敗は指数バックオフで最大maxElapsedまで再試行する。
// リフレッシュトークンが拒否された場合は再試行しない。
// 更新した場合はtrueを返す。
func (c *Client) RefreshIfNeeded(ctx context.Context, maxElapsed time.Duration) (bool, error) {
	s := c.currentSession()
	if s == nil || !s.IsExpired(c.now(), c.refreshMargin) {
		return false, nil
	}

	op := func() error {
		if c.currentSession() == nil {
			return nil
		}
		_, err := c.RefreshSession(ctx)
		if err != nil && isClientError(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	// MaxElapsedTimeが0だと無期限に再試行するため既定値を入れる
	if maxElapsed <= 0 {
		maxElapsed = 10 * time.Second
	}
	bo.MaxElapsedTime = maxElapsed
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return false, err
	}
	return c.currentSession() != nil, nil
}
