package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/campushub/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, csrf_token, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)`,
		session.ID, nullString(session.CSRFToken), session.ExpiresAt.UTC(), session.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は有効期限内のセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string, now time.Time) (*model.Session, error) {
	var (
		s                                model.Session
		sub, email, name, picture, csrf  sql.NullString
		loginState, loginVerifier, nonce sql.NullString
		loginStartedAt                   sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_sub, user_email, user_name, user_picture, csrf_token,
		        login_state, login_verifier, login_nonce, login_started_at,
		        expires_at, created_at
		 FROM sessions
		 WHERE id = $1 AND expires_at > $2`,
		id, now.UTC(),
	).Scan(
		&s.ID, &sub, &email, &name, &picture, &csrf,
		&loginState, &loginVerifier, &nonce, &loginStartedAt,
		&s.ExpiresAt, &s.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session by id: %w", err)
	}

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
			StartedAt:    loginStartedAt.Time,
		}
	}

	return &s, nil
}

// Touch は有効なセッションのexpires_atを更新する。
func (r *PostgresSessionRepo) Touch(ctx context.Context, id string, now, expiresAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET expires_at = $1 WHERE id = $2 AND expires_at > $3`,
		expiresAt.UTC(), id, now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return requireSessionRow(result)
}

// SetUser はセッションにユーザーを紐付ける。
func (r *PostgresSessionRepo) SetUser(ctx context.Context, id string, user *model.User) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET user_sub = $1, user_email = $2, user_name = $3, user_picture = $4
		 WHERE id = $5`,
		user.SubjectID, user.Email, nullString(user.Name), nullString(user.Picture), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set session user: %w", err)
	}
	return requireSessionRow(result)
}

// SetCSRFToken はCSRFトークンを上書きする。
func (r *PostgresSessionRepo) SetCSRFToken(ctx context.Context, id, token string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET csrf_token = $1 WHERE id = $2`,
		token, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set csrf token: %w", err)
	}
	return requireSessionRow(result)
}

// SetPendingLogin はログインフロー状態を保存またはクリアする。
func (r *PostgresSessionRepo) SetPendingLogin(ctx context.Context, id string, pending *model.PendingLogin) error {
	var (
		state, verifier, nonce sql.NullString
		startedAt              sql.NullTime
	)
	if pending != nil {
		state = sql.NullString{String: pending.State, Valid: true}
		verifier = sql.NullString{String: pending.CodeVerifier, Valid: true}
		nonce = sql.NullString{String: pending.Nonce, Valid: true}
		startedAt = sql.NullTime{Time: pending.StartedAt.UTC(), Valid: true}
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET login_state = $1, login_verifier = $2, login_nonce = $3, login_started_at = $4
		 WHERE id = $5`,
		state, verifier, nonce, startedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set pending login: %w", err)
	}
	return requireSessionRow(result)
}

// TakePendingLogin はログインフロー状態を1文で取り出してクリアする。
// 行ロックを取る副問い合わせで更新前の値を返すため、並行する呼び出しのうち1つだけが値を得る。
func (r *PostgresSessionRepo) TakePendingLogin(ctx context.Context, id string, now time.Time) (*model.PendingLogin, error) {
	var (
		p         model.PendingLogin
		startedAt time.Time
	)
	err := r.db.QueryRowContext(ctx,
		`UPDATE sessions AS s
		 SET login_state = NULL, login_verifier = NULL, login_nonce = NULL, login_started_at = NULL
		 FROM (
		     SELECT id, login_state, login_verifier, login_nonce, login_started_at
		     FROM sessions
		     WHERE id = $1 AND expires_at > $2 AND login_state IS NOT NULL
		     FOR UPDATE
		 ) AS old
		 WHERE s.id = old.id
		 RETURNING old.login_state, old.login_verifier, old.login_nonce, old.login_started_at`,
		id, now.UTC(),
	).Scan(&p.State, &p.CodeVerifier, &p.Nonce, &startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take pending login: %w", err)
	}
	p.StartedAt = startedAt
	return &p, nil
}

// DeleteByID はセッションを削除する。存在しない場合もエラーにしない。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れセッションを削除する。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// requireSessionRow は更新対象のセッションが存在しなかった場合にErrSessionNotFoundを返す。
func requireSessionRow(result sql.Result) error {
	ok, err := affected(result)
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrSessionNotFound
	}
	return nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
