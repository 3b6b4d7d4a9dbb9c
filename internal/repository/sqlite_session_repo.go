package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/campushub/internal/model"
)

// SQLiteSessionRepo はSQLiteを使用したセッションリポジトリ。
type SQLiteSessionRepo struct {
	db *sql.DB
}

// NewSQLiteSessionRepo はSQLiteSessionRepoを生成する。
func NewSQLiteSessionRepo(db *sql.DB) *SQLiteSessionRepo {
	return &SQLiteSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *SQLiteSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, csrf_token, expires_at, created_at)
		 VALUES (?, ?, ?, ?)`,
		session.ID, nullString(session.CSRFToken), toMillis(session.ExpiresAt), toMillis(session.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は有効期限内のセッションを取得する。見つからない場合はnilを返す。
func (r *SQLiteSessionRepo) FindByID(ctx context.Context, id string, now time.Time) (*model.Session, error) {
	var (
		s                                model.Session
		sub, email, name, picture, csrf  sql.NullString
		loginState, loginVerifier, nonce sql.NullString
		loginStartedAt                   sql.NullInt64
		expiresAt, createdAt             int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_sub, user_email, user_name, user_picture, csrf_token,
		        login_state, login_verifier, login_nonce, login_started_at,
		        expires_at, created_at
		 FROM sessions
		 WHERE id = ? AND expires_at > ?`,
		id, toMillis(now),
	).Scan(
		&s.ID, &sub, &email, &name, &picture, &csrf,
		&loginState, &loginVerifier, &nonce, &loginStartedAt,
		&expiresAt, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session by id: %w", err)
	}

	s.ExpiresAt = fromMillis(expiresAt)
	s.CreatedAt = fromMillis(createdAt)
	s.CSRFToken = csrf.String
	if sub.Valid && sub.String != "" {
		s.User = &model.User{
			SubjectID: sub.String,
			Email:     email.String,
			Name:      name.String,
			Picture:   picture.String,
		}
	}
	if loginState.Valid {
		s.PendingLogin = &model.PendingLogin{
			State:        loginState.String,
			CodeVerifier: loginVerifier.String,
			Nonce:        nonce.String,
			StartedAt:    fromMillis(loginStartedAt.Int64),
		}
	}

	return &s, nil
}

// Touch は有効なセッションのexpires_atを更新する。
func (r *SQLiteSessionRepo) Touch(ctx context.Context, id string, now, expiresAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET expires_at = ? WHERE id = ? AND expires_at > ?`,
		toMillis(expiresAt), id, toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return requireSessionRow(result)
}

// SetUser はセッションにユーザーを紐付ける。
func (r *SQLiteSessionRepo) SetUser(ctx context.Context, id string, user *model.User) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET user_sub = ?, user_email = ?, user_name = ?, user_picture = ?
		 WHERE id = ?`,
		user.SubjectID, user.Email, nullString(user.Name), nullString(user.Picture), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set session user: %w", err)
	}
	return requireSessionRow(result)
}

// SetCSRFToken はCSRFトークンを上書きする。
func (r *SQLiteSessionRepo) SetCSRFToken(ctx context.Context, id, token string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET csrf_token = ? WHERE id = ?`,
		token, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set csrf token: %w", err)
	}
	return requireSessionRow(result)
}

// SetPendingLogin はログインフロー状態を保存またはクリアする。
func (r *SQLiteSessionRepo) SetPendingLogin(ctx context.Context, id string, pending *model.PendingLogin) error {
	var (
		state, verifier, nonce sql.NullString
		startedAt              sql.NullInt64
	)
	if pending != nil {
		state = sql.NullString{String: pending.State, Valid: true}
		verifier = sql.NullString{String: pending.CodeVerifier, Valid: true}
		nonce = sql.NullString{String: pending.Nonce, Valid: true}
		startedAt = sql.NullInt64{Int64: toMillis(pending.StartedAt), Valid: true}
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET login_state = ?, login_verifier = ?, login_nonce = ?, login_started_at = ?
		 WHERE id = ?`,
		state, verifier, nonce, startedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set pending login: %w", err)
	}
	return requireSessionRow(result)
}

// TakePendingLogin はログインフロー状態を取り出してクリアする。
// SQLiteのRETURNINGは更新後の値しか返せないため、読み出した値と一致する場合だけクリアする。
// クリアできなかった場合は他の呼び出しが先に取り出したものとしてnilを返す。
func (r *SQLiteSessionRepo) TakePendingLogin(ctx context.Context, id string, now time.Time) (*model.PendingLogin, error) {
	var (
		p         model.PendingLogin
		startedAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT login_state, login_verifier, login_nonce, login_started_at
		 FROM sessions
		 WHERE id = ? AND expires_at > ? AND login_state IS NOT NULL`,
		id, toMillis(now),
	).Scan(&p.State, &p.CodeVerifier, &p.Nonce, &startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending login: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET login_state = NULL, login_verifier = NULL, login_nonce = NULL, login_started_at = NULL
		 WHERE id = ? AND login_state = ?`,
		id, p.State,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to take pending login: %w", err)
	}
	ok, err := affected(result)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	p.StartedAt = fromMillis(startedAt)
	return &p, nil
}

// DeleteByID はセッションを削除する。
func (r *SQLiteSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れセッションを削除する。
func (r *SQLiteSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ SessionRepository = (*SQLiteSessionRepo)(nil)
