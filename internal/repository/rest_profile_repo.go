package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/acm/internal/model"
)

// RESTProfileRepo は認証プロバイダーの行ストアを使用したプロフィールリポジトリ。
type RESTProfileRepo struct {
	store RowStore
}

// NewRESTProfileRepo はRESTProfileRepoを生成する。
func NewRESTProfileRepo(store RowStore) *RESTProfileRepo {
	return &RESTProfileRepo{store: store}
}

// FindByID は指定ユーザーIDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *RESTProfileRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Profile, error) {
	profile := &model.Profile{}
	err := r.store.SelectOne(ctx, model.ProfilesTable, "id", id.String(), profile)
	if errors.Is(err, model.ErrRowNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by ID: %w", err)
	}
	return profile, nil
}

// Create はプロフィールを作成する。
func (r *RESTProfileRepo) Create(ctx context.Context, profile *model.Profile) error {
	if err := r.store.Insert(ctx, model.ProfilesTable, profile); err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProfileRepository = (*RESTProfileRepo)(nil)
