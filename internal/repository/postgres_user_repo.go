package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/campushub/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// Upsert はsubをキーにユーザーを挿入または更新する。
func (r *PostgresUserRepo) Upsert(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (sub, email, name, picture)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (sub) DO UPDATE
		 SET email = excluded.email,
		     name = excluded.name,
		     picture = excluded.picture,
		     updated_at = now()`,
		user.SubjectID, user.Email, nullString(user.Name), nullString(user.Picture),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// nullString は空文字をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
