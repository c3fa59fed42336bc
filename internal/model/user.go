// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザー（認証済みIdentity）を表す。
// パスワード登録ユーザーとOAuthユーザーの両方を同一レコードで扱う。
// emailは全ユーザーで一意。
type User struct {
	ID             string
	Name           string
	Email          string
	PasswordHash   string // OAuthのみのユーザーは空
	OAuthSubjectID string // OAuthプロバイダー側のユーザーID（uid/sub）
	IsOAuthUser    bool
	ProfilePicture string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasPassword はパスワードログインが可能なユーザーかどうかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}
