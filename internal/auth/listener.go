package auth

import (
	"log/slog"

	"github.com/hitoshi/acm/internal/model"
)

// ListenForAuthStateChanges はセッション変更ストリームの受信を開始する。
// 受信用のゴルーチンは1つだけ起動し、2回目以降の呼び出しは何もしない。
// ストリームが閉じた場合は受信を終了する。再接続はしない。
func (m *Manager) ListenForAuthStateChanges() {
	m.listenOnce.Do(func() {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			close(m.listenerDone)
			return
		}
		m.listening = true
		m.mu.Unlock()

		events := m.provider.AuthStateChanges(m.ctx)
		go m.listen(events)
	})
}

// ListenerDone はリスナーの終了時に閉じられるチャネルを返す。
func (m *Manager) ListenerDone() <-chan struct{} {
	return m.listenerDone
}

func (m *Manager) listen(events <-chan model.AuthChange) {
	defer close(m.listenerDone)

	m.logger.Info("listening for auth state changes")
	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("auth state listener stopped")
			return
		case evt, ok := <-events:
			if !ok {
				m.logger.Warn("auth state stream closed")
				return
			}
			m.handleAuthChange(evt)
		}
	}
}

// handleAuthChange はイベントのセッションを状態に反映する。
// ErrorMessageには触れないため、外部要因のサインアウトはエラーとして表示されない。
// セッションがあり、そのユーザーのプロフィールを保持していない場合は取得する。
func (m *Manager) handleAuthChange(evt model.AuthChange) {
	if m.metrics != nil {
		m.metrics.RecordAuthEvent(string(evt.Kind))
	}

	userID := ""
	if evt.Session != nil {
		userID = evt.Session.User.ID.String()
	}
	m.logger.Info("auth state changed",
		slog.String("event", string(evt.Kind)),
		slog.String("user_id", userID),
	)

	needsProfile := false
	m.update(func(s *State) {
		m.applySessionLocked(s, evt.Session)
		needsProfile = evt.Session != nil && s.Profile == nil
	})

	if evt.Session == nil {
		return
	}
	m.rememberEmail(m.ctx, evt.Session.User.Email)
	if needsProfile {
		m.fetchProfile(m.ctx, false)
	}
}
