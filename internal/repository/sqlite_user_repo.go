package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/campushub/internal/model"
)

// SQLiteUserRepo はSQLiteを使用したユーザーリポジトリ。
type SQLiteUserRepo struct {
	db *sql.DB

	// Now は更新時刻の取得元。
	Now func() time.Time
}

// NewSQLiteUserRepo はSQLiteUserRepoを生成する。
func NewSQLiteUserRepo(db *sql.DB) *SQLiteUserRepo {
	return &SQLiteUserRepo{db: db, Now: time.Now}
}

// Upsert はsubをキーにユーザーを挿入または更新する。
func (r *SQLiteUserRepo) Upsert(ctx context.Context, user *model.User) error {
	now := toMillis(r.Now())

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (sub, email, name, picture, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (sub) DO UPDATE
		 SET email = excluded.email,
		     name = excluded.name,
		     picture = excluded.picture,
		     updated_at = excluded.updated_at`,
		user.SubjectID, user.Email, nullString(user.Name), nullString(user.Picture), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// toMillis は時刻をUNIXミリ秒に変換する。SQLiteのタイムスタンプ列はすべてこの形式。
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// fromMillis はUNIXミリ秒をUTCの時刻に変換する。
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// compile-time interface check
var _ UserRepository = (*SQLiteUserRepo)(nil)
