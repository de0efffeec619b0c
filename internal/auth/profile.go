package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/acm/internal/metrics"
	"github.com/hitoshi/acm/internal/model"
)

// FetchUserProfile は現在のセッションのユーザーIDでプロフィールを取得する。
// セッションがない場合は取得せずにエラーを記録する。
// 取得に失敗した場合は保持しているプロフィールを変えずにエラーを記録する。
// IsLoadingは変更しない。
func (m *Manager) FetchUserProfile(ctx context.Context) {
	m.update(func(s *State) {
		s.ErrorMessage = ""
		s.InfoMessage = ""
	})
	m.fetchProfile(ctx, true)
}

// fetchProfile はプロフィールを取得して状態に反映する。
// explicitがfalseの場合（セッション検出時の自動取得）は、セッションがない場合と
// 行が未作成の場合をエラーにしない。サインアップ直後は行の作成と競合するため。
// 同じユーザーへの同時取得は1回の問い合わせにまとめる。共有する問い合わせは
// 最初の呼び出し元のキャンセルに巻き込まれないよう、キャンセルを切り離したctxで実行する。
// 結果はエラーも含め、セッションのユーザーが変わっていない場合のみ反映する。
func (m *Manager) fetchProfile(ctx context.Context, explicit bool) {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	if session == nil {
		if explicit {
			m.update(func(s *State) { s.ErrorMessage = noProfileSessionMessage })
		}
		return
	}

	userID := session.User.ID
	start := time.Now()
	lookupCtx := context.WithoutCancel(ctx)
	v, err, _ := m.profileGroup.Do(userID.String(), func() (any, error) {
		return m.profileRepo.FindByID(lookupCtx, userID)
	})
	duration := time.Since(start)

	if err != nil {
		m.recordProfileFetch(metrics.ResultFailure, duration)
		m.logger.Error("failed to fetch profile",
			slog.String("user_id", userID.String()),
			slog.String("error", err.Error()),
		)
		msg := model.AuthErrorMessage(err)
		if model.ClassifyAuthError(err) == model.AuthErrUnknown {
			msg = profileFetchMessage
		}
		m.setProfileError(userID, msg)
		return
	}

	profile, _ := v.(*model.Profile)
	if profile == nil {
		m.recordProfileFetch(metrics.ResultMissing, duration)
		m.logger.Warn("profile not found", slog.String("user_id", userID.String()))
		if explicit {
			m.setProfileError(userID, profileNotFoundMessage)
		}
		return
	}

	m.recordProfileFetch(metrics.ResultSuccess, duration)
	m.setProfile(profile)
}

// setProfile はプロフィールが現在のセッションのユーザーのものである場合のみ反映する。
func (m *Manager) setProfile(profile *model.Profile) {
	applied := false
	m.update(func(s *State) {
		if m.session == nil || m.session.User.ID != profile.ID {
			return
		}
		p := *profile
		s.Profile = &p
		applied = true
	})
	if !applied {
		m.logger.Info("discarded profile for a user who is no longer signed in",
			slog.String("user_id", profile.ID.String()),
		)
	}
}

// setProfileError は取得対象のユーザーがまだサインインしている場合のみエラーを記録する。
func (m *Manager) setProfileError(userID uuid.UUID, msg string) {
	m.update(func(s *State) {
		if m.session == nil || m.session.User.ID != userID {
			return
		}
		s.ErrorMessage = msg
	})
}

func (m *Manager) recordProfileFetch(result string, d time.Duration) {
	if m.metrics != nil {
		m.metrics.RecordProfileFetch(result, d)
	}
}
