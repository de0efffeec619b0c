package auth

import (
	"context"

	"github.com/hitoshi/acm/internal/model"
)

// Status は認証状態。
type Status string

const (
	// StatusUnknown はセッション確認もイベント受信もまだ行われていない初期状態。
	StatusUnknown Status = "unknown"
	// StatusSignedOut はサインアウト状態。
	StatusSignedOut Status = "signed_out"
	// StatusSignedIn はサインイン状態。
	StatusSignedIn Status = "signed_in"
)

// State は表示層へ公開する認証状態のスナップショット。
// IsAuthenticatedならUserEmailは空でなく、IsAuthenticatedでなければProfileはnil。
type State struct {
	Status          Status         `json:"status"`
	IsAuthenticated bool           `json:"is_authenticated"`
	UserEmail       string         `json:"user_email,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	InfoMessage     string         `json:"info_message,omitempty"`
	IsLoading       bool           `json:"is_loading"`
	Profile         *model.Profile `json:"profile,omitempty"`
	EmailHint       string         `json:"email_hint,omitempty"`
}

// clone はProfileを複製したコピーを返す。
func (s State) clone() State {
	if s.Profile != nil {
		p := *s.Profile
		s.Profile = &p
	}
	return s
}

// observerBuffer は購読者ごとのスナップショットバッファ長。
const observerBuffer = 8

// Subscribe は状態スナップショットの購読チャネルを返す。
// 最初に現在の状態が届き、以後は状態が変わるたびに届く。
// 受信が遅れた場合は古いスナップショットから捨てる。
// ctxの終了またはCloseでチャネルは閉じられる。
func (m *Manager) Subscribe(ctx context.Context) <-chan State {
	ch := make(chan State, observerBuffer)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch
	}
	id := m.nextObserver
	m.nextObserver++
	m.observers[id] = ch
	deliverState(ch, m.state.clone())
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-m.ctx.Done():
		}
		m.mu.Lock()
		if c, ok := m.observers[id]; ok {
			delete(m.observers, id)
			close(c)
		}
		m.mu.Unlock()
	}()

	return ch
}

// State は現在の状態のスナップショットを返す。
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// update は状態を変更して購読者に通知する。状態への書き込みはすべてここを通る。
func (m *Manager) update(fn func(s *State)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fn(&m.state)
	if !m.state.IsAuthenticated {
		m.state.Profile = nil
	}

	snapshot := m.state.clone()
	for _, ch := range m.observers {
		deliverState(ch, snapshot.clone())
	}
}

// applySessionLocked はセッションを状態に反映する。m.muを保持して呼ぶこと。
func (m *Manager) applySessionLocked(s *State, session *model.Session) {
	m.session = session
	if session == nil {
		s.Status = StatusSignedOut
		s.IsAuthenticated = false
		s.UserEmail = ""
		s.Profile = nil
		return
	}

	s.Status = StatusSignedIn
	s.IsAuthenticated = true
	s.UserEmail = session.User.Email
	if s.UserEmail == "" {
		// メールアドレスのないユーザーはIDで識別する
		s.UserEmail = session.User.ID.String()
	}
	if s.Profile != nil && s.Profile.ID != session.User.ID {
		s.Profile = nil
	}
}

// deliverState はバッファが埋まっていれば古いスナップショットを1件捨ててから積む。
func deliverState(ch chan State, s State) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
