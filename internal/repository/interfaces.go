// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/hitoshi/acm/internal/model"
)

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定ユーザーIDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id uuid.UUID) (*model.Profile, error)

	// Create はプロフィールを作成する。
	Create(ctx context.Context, profile *model.Profile) error
}

// EmailHintRepository は起動時表示用のメールアドレスヒントの保存先。
// 認証の根拠には使わない。
type EmailHintRepository interface {
	// Get は保存済みのヒントを返す。未保存の場合は空文字を返す。
	Get(ctx context.Context) (string, error)
	// Set はヒントを保存する。
	Set(ctx context.Context, email string) error
	// Clear はヒントを削除する。
	Clear(ctx context.Context) error
}

// RowStore は認証プロバイダーが提供する汎用の行ストア。
type RowStore interface {
	// Insert はtableに1行を追加する。
	Insert(ctx context.Context, table string, row any) error
	// SelectOne はcolumn = valueに一致する1行をoutにデコードする。
	// 該当行がない場合はmodel.ErrRowNotFoundを返す。
	SelectOne(ctx context.Context, table, column, value string, out any) error
}
