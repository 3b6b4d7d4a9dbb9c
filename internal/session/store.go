// Package session はサーバー側セッションの発行・検証・破棄を提供する。
//
// Cookieに載るのはランダムなセッションIDのみで、永続化層には
// HMAC-SHA256(secret, id) をキーとして保存する。DBの内容が漏洩しても
// そのままCookieとして再利用することはできない。
package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/campushub/internal/model"
	"github.com/hitoshi/campushub/internal/repository"
)

const (
	// sessionIDBytes はセッションIDの乱数バイト数（256bit）。
	sessionIDBytes = 32
	// csrfTokenBytes はCSRFトークンの乱数バイト数。
	csrfTokenBytes = 24
)

// DefaultMaxAge は無操作でセッションが失効するまでの時間。
const DefaultMaxAge = 30 * time.Minute

// ErrEmptySecret はセッション署名鍵が空の場合に返される。
var ErrEmptySecret = errors.New("session secret must not be empty")

// Store はセッションの保存・取得を行う。
type Store struct {
	repo   repository.SessionRepository
	secret []byte
	maxAge time.Duration

	// Now は現在時刻の取得元。テストで差し替える。
	Now func() time.Time
}

// NewStore はStoreを生成する。maxAgeが0以下の場合はDefaultMaxAgeを使用する。
func NewStore(repo repository.SessionRepository, secret string, maxAge time.Duration) (*Store, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Store{
		repo:   repo,
		secret: []byte(secret),
		maxAge: maxAge,
		Now:    time.Now,
	}, nil
}

// MaxAge はセッションの無操作タイムアウトを返す。
func (s *Store) MaxAge() time.Duration {
	return s.maxAge
}

// Create は未認証の新しいセッションを作成する。
// 返却するSession.IDはCookieに設定する生のIDである。
func (s *Store) Create(ctx context.Context) (*model.Session, error) {
	id, err := randomHex(sessionIDBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	now := s.Now()
	sess := &model.Session{
		ID:        s.key(id),
		CreatedAt: now,
		ExpiresAt: now.Add(s.maxAge),
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	sess.ID = id
	return sess, nil
}

// Get は有効なセッションを返す。存在しないか期限切れの場合はnilを返す。
func (s *Store) Get(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, nil
	}
	sess, err := s.repo.FindByID(ctx, s.key(id), s.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if sess == nil {
		return nil, nil
	}
	sess.ID = id
	return sess, nil
}

// Touch はセッションの有効期限を現在時刻+MaxAgeまで延長する。
func (s *Store) Touch(ctx context.Context, id string) error {
	now := s.Now()
	if err := s.repo.Touch(ctx, s.key(id), now, now.Add(s.maxAge)); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// SetUser はセッションに認証済みユーザーを紐付ける。
func (s *Store) SetUser(ctx context.Context, id string, user *model.User) error {
	if err := s.repo.SetUser(ctx, s.key(id), user); err != nil {
		return fmt.Errorf("failed to set session user: %w", err)
	}
	return nil
}

// IssueCSRFToken は新しいCSRFトークンを発行してセッションに保存する。
// 以前のトークンは上書きされ、以後は無効になる。
func (s *Store) IssueCSRFToken(ctx context.Context, id string) (string, error) {
	token, err := randomHex(csrfTokenBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	if err := s.repo.SetCSRFToken(ctx, s.key(id), token); err != nil {
		return "", fmt.Errorf("failed to store csrf token: %w", err)
	}
	return token, nil
}

// BeginLogin はログインフロー状態をセッションに保存する。
// 進行中のフローがあれば上書きする。
func (s *Store) BeginLogin(ctx context.Context, id string, pending *model.PendingLogin) error {
	if err := s.repo.SetPendingLogin(ctx, s.key(id), pending); err != nil {
		return fmt.Errorf("failed to store pending login: %w", err)
	}
	return nil
}

// TakePendingLogin はログインフロー状態を取り出し、セッションから削除する。
// 取り出しとクリアはリポジトリで不可分に行うため、並行したコールバックでも
// 同じフロー状態は一度しか取り出せない。フローがない場合はnilを返す。
func (s *Store) TakePendingLogin(ctx context.Context, id string) (*model.PendingLogin, error) {
	pending, err := s.repo.TakePendingLogin(ctx, s.key(id), s.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to take pending login: %w", err)
	}
	return pending, nil
}

// Destroy はセッションを削除する。
func (s *Store) Destroy(ctx context.Context, id string) error {
	if err := s.repo.DeleteByID(ctx, s.key(id)); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// PurgeExpired は期限切れセッションを削除し、削除件数を返す。
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired sessions: %w", err)
	}
	return n, nil
}

// key はCookieのセッションIDから永続化用のキーを導出する。
func (s *Store) key(id string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
