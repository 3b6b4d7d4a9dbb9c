// Package repository はデータ永続化のインターフェースと、
// PostgreSQL・SQLiteそれぞれの実装を提供する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/campushub/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Upsert はsubjectIDをキーにユーザーを挿入または更新する。
	// プロフィール項目（email, name, picture）は最後のログインの値で上書きする。
	// 同じ値で繰り返し呼んでもエラーにならない。
	Upsert(ctx context.Context, user *model.User) error
}

// NoteRepository はメモデータの永続化インターフェース。
// すべての操作は所有者IDをWHERE句に含み、他ユーザーのメモには触れない。
type NoteRepository interface {
	// ListByOwner は所有者のメモをupdated_at降順で返す。該当なしの場合は空スライスを返す。
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Note, error)

	// Create はメモを作成し、created_at = updated_at = 現在時刻を設定する。
	// note.IDが既に存在する場合はmodel.ErrNoteConflictを返す。
	Create(ctx context.Context, ownerID string, note *model.Note) error

	// Update はidとownerIDが一致するメモのtitle, body, updated_atを更新する。
	// 該当行がない場合はfalseを返す（存在しない・所有者が異なるを区別しない）。
	Update(ctx context.Context, ownerID, id, title, body string) (bool, error)

	// Delete はidとownerIDが一致するメモを削除する。
	// 該当行がない場合はfalseを返す。
	Delete(ctx context.Context, ownerID, id string) (bool, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
// idはセッションCookieの値そのものではなく、session.Storeが導出したキーである。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string, now time.Time) (*model.Session, error)
	// Touch は有効なセッションの有効期限をexpiresAtまで延長する。
	Touch(ctx context.Context, id string, now, expiresAt time.Time) error
	// SetUser はセッションにユーザーのスナップショットを設定する。
	SetUser(ctx context.Context, id string, user *model.User) error
	// SetCSRFToken はセッションのCSRFトークンを上書きする。
	SetCSRFToken(ctx context.Context, id, token string) error
	// SetPendingLogin はログインフロー状態を保存する。nilの場合はクリアする。
	SetPendingLogin(ctx context.Context, id string, pending *model.PendingLogin) error
	// TakePendingLogin は有効なセッションのログインフロー状態を取り出し、同時にクリアする。
	// 並行して呼ばれても同じフロー状態を返すのは1回だけ。フローがない場合はnilを返す。
	TakePendingLogin(ctx context.Context, id string, now time.Time) (*model.PendingLogin, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
