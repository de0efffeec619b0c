package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hitoshi/acm/internal/model"
)

// Insert はtableに1行を追加する。
// サインイン中はユーザーのアクセストークンで送信し、行レベルセキュリティを適用させる。
func (c *Client) Insert(ctx context.Context, table string, row any) error {
	err := c.do(ctx, request{
		method:  http.MethodPost,
		path:    restPathPrefix + "/" + url.PathEscape(table),
		body:    row,
		bearer:  c.accessToken(),
		headers: map[string]string{"Prefer": "return=minimal"},
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return nil
}

// SelectOne はcolumn = valueに一致する1行を取得してoutにデコードする。
// 該当行がない場合はmodel.ErrRowNotFoundを返す。
func (c *Client) SelectOne(ctx context.Context, table, column, value string, out any) error {
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   restPathPrefix + "/" + url.PathEscape(table),
		query: url.Values{
			"select": {"*"},
			column:   {"eq." + value},
		},
		bearer:  c.accessToken(),
		headers: map[string]string{"Accept": "application/vnd.pgrst.object+json"},
	}, out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Code == postgrestNoRowsCode || apiErr.Status == http.StatusNotAcceptable) {
			return fmt.Errorf("failed to select from %s: %w", table, model.ErrRowNotFound)
		}
		return fmt.Errorf("failed to select from %s: %w", table, err)
	}
	return nil
}
