package model

import (
	"errors"

	"github.com/google/uuid"
)

// ProfilesTable はプロフィール行を格納するテーブル名。
const ProfilesTable = "profiles"

// Profile はprofilesテーブルの1行を表す。
// IDは認証プロバイダーのユーザーIDと一致する。
type Profile struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
	Email    string    `json:"email"`
}

// ErrRowNotFound は主キー検索で行が見つからなかったことを表す。
var ErrRowNotFound = errors.New("row not found")
