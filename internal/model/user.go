// Package model はドメインモデルを定義する。
package model

import "time"

// User はIdPで認証されたサービス利用ユーザーを表す。
// SubjectIDはIdPが発行する不変の識別子で、usersテーブルの主キーになる。
type User struct {
	SubjectID string
	Email     string
	Name      string
	Picture   string
}

// Session はサーバー側で保持するログインセッションを表す。
// Userはログイン時点のスナップショットであり、以降のプロフィール更新は
// 次回ログインまで反映されない。
type Session struct {
	ID           string
	User         *User
	CSRFToken    string
	PendingLogin *PendingLogin
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Authenticated はセッションにユーザーが紐付いているかを返す。
func (s *Session) Authenticated() bool {
	return s != nil && s.User != nil && s.User.SubjectID != ""
}

// PendingLogin はIdPへリダイレクトしてからコールバックを受けるまでの
// ログインフロー状態（PKCE verifier、state、nonce）を表す。
type PendingLogin struct {
	State        string
	CodeVerifier string
	Nonce        string
	StartedAt    time.Time
}
