package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultEmailHintKey はヒントを保存するRedisキーの既定値。
const DefaultEmailHintKey = "acm:email_hint"

// RedisHintRepo はRedisを使用したメールアドレスヒントの保存先。
// キーは期限なしで保存し、サインアウト時に削除する。
type RedisHintRepo struct {
	client *redis.Client
	key    string
}

// NewRedisHintRepo はRedisHintRepoを生成する。keyが空の場合は既定値を使う。
func NewRedisHintRepo(client *redis.Client, key string) *RedisHintRepo {
	if key == "" {
		key = DefaultEmailHintKey
	}
	return &RedisHintRepo{client: client, key: key}
}

// Get は保存済みのヒントを返す。未保存の場合は空文字を返す。
func (r *RedisHintRepo) Get(ctx context.Context) (string, error) {
	email, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get email hint: %w", err)
	}
	return email, nil
}

// Set はヒントを保存する。
func (r *RedisHintRepo) Set(ctx context.Context, email string) error {
	if err := r.client.Set(ctx, r.key, email, 0).Err(); err != nil {
		return fmt.Errorf("failed to set email hint: %w", err)
	}
	return nil
}

// Clear はヒントを削除する。未保存でもエラーにしない。
func (r *RedisHintRepo) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to clear email hint: %w", err)
	}
	return nil
}

// compile-time interface check
var _ EmailHintRepository = (*RedisHintRepo)(nil)
