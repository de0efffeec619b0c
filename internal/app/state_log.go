package app

import (
	"context"
	"log/slog"

	"github.com/hitoshi/acm/internal/auth"
)

// stateSource は状態スナップショットの購読元。
type stateSource interface {
	Subscribe(ctx context.Context) <-chan auth.State
}

// logStateChanges は認証状態・エラー・案内メッセージが変わるたびにログを出力する。
// IsLoadingだけの変化は出力しない。ctxの終了または購読の終了で戻る。
func logStateChanges(ctx context.Context, src stateSource, log *slog.Logger) {
	var last auth.State
	first := true
	for s := range src.Subscribe(ctx) {
		if !first && s.Status == last.Status && s.ErrorMessage == last.ErrorMessage &&
			s.InfoMessage == last.InfoMessage && (s.Profile == nil) == (last.Profile == nil) {
			continue
		}
		first = false
		last = s

		attrs := []any{
			slog.String("status", string(s.Status)),
			slog.Bool("is_authenticated", s.IsAuthenticated),
			slog.Bool("has_profile", s.Profile != nil),
		}
		if s.ErrorMessage != "" {
			attrs = append(attrs, slog.String("error_message", s.ErrorMessage))
		}
		if s.InfoMessage != "" {
			attrs = append(attrs, slog.String("info_message", s.InfoMessage))
		}
		log.Info("auth state", attrs...)
	}
}
