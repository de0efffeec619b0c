package auth

import (
	"context"
	"log/slog"
)

// restoreEmailHint は保存済みのメールアドレスヒントを状態に読み込む。
// ヒントは起動直後の表示用で、認証状態には影響しない。
func (m *Manager) restoreEmailHint(ctx context.Context) {
	if m.hintRepo == nil {
		return
	}
	hint, err := m.hintRepo.Get(ctx)
	if err != nil {
		m.logger.Warn("failed to load email hint", slog.String("error", err.Error()))
		return
	}
	if hint == "" {
		return
	}
	m.update(func(s *State) { s.EmailHint = hint })
}

// rememberEmail はサインイン中のメールアドレスをヒントとして保存する。
func (m *Manager) rememberEmail(ctx context.Context, email string) {
	if email == "" {
		return
	}
	changed := false
	m.update(func(s *State) {
		if s.EmailHint != email {
			s.EmailHint = email
			changed = true
		}
	})
	if !changed || m.hintRepo == nil {
		return
	}
	if err := m.hintRepo.Set(ctx, email); err != nil {
		m.logger.Warn("failed to save email hint", slog.String("error", err.Error()))
	}
}

// forgetEmail は保存済みのヒントを削除する。
func (m *Manager) forgetEmail(ctx context.Context) {
	if m.hintRepo == nil {
		return
	}
	if err := m.hintRepo.Clear(ctx); err != nil {
		m.logger.Warn("failed to clear email hint", slog.String("error", err.Error()))
	}
}
