// Package auth は外部IdPによるログインフローとセッションへのユーザー紐付けを提供する。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/campushub/internal/model"
	"github.com/hitoshi/campushub/internal/repository"
	"golang.org/x/oauth2"
)

// PendingLoginTTL はログイン開始からコールバックまでの許容時間。
const PendingLoginTTL = 10 * time.Minute

var (
	// ErrInvalidLoginState はコールバックのstateが不正・期限切れ・使用済みの場合に返される。
	ErrInvalidLoginState = errors.New("invalid login state")

	// ErrMissingClaims はIDトークンにsubまたはemailが含まれない場合に返される。
	ErrMissingClaims = errors.New("required claims missing")
)

// ログイン結果のラベル。
const (
	LoginResultSuccess       = "success"
	LoginResultInvalidState  = "invalid_state"
	LoginResultProviderError = "provider_error"
	LoginResultMissingClaims = "missing_claims"
	LoginResultError         = "error"
)

// SessionStore はログインフローが必要とするセッション操作。
// session.Storeが満たす。
type SessionStore interface {
	Create(ctx context.Context) (*model.Session, error)
	Get(ctx context.Context, id string) (*model.Session, error)
	SetUser(ctx context.Context, id string, user *model.User) error
	IssueCSRFToken(ctx context.Context, id string) (string, error)
	BeginLogin(ctx context.Context, id string, pending *model.PendingLogin) error
	TakePendingLogin(ctx context.Context, id string) (*model.PendingLogin, error)
	Destroy(ctx context.Context, id string) error
}

// LoginRecorder はログイン結果を記録する。
type LoginRecorder interface {
	RecordLogin(result string)
}

type noopLoginRecorder struct{}

func (noopLoginRecorder) RecordLogin(string) {}

// Service はログイン・ログアウトのビジネスロジックを提供する。
type Service struct {
	provider IdentityProvider
	users    repository.UserRepository
	sessions SessionStore
	recorder LoginRecorder

	// Now は現在時刻の取得元。テストで差し替える。
	Now func() time.Time
}

// NewService はServiceを生成する。recorderがnilの場合は記録しない。
func NewService(
	provider IdentityProvider,
	users repository.UserRepository,
	sessions SessionStore,
	recorder LoginRecorder,
) *Service {
	if recorder == nil {
		recorder = noopLoginRecorder{}
	}
	return &Service{
		provider: provider,
		users:    users,
		sessions: sessions,
		recorder: recorder,
		Now:      time.Now,
	}
}

// BeginLogin はログインフローを開始し、IdPの認可URLとセッションIDを返す。
// sessionIDが有効なセッションを指す場合はそれを再利用し、そうでなければ新規作成する。
// 進行中のフローがあれば新しいもので置き換える。
func (s *Service) BeginLogin(ctx context.Context, sessionID string) (authURL, sid string, err error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", "", fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		sess, err = s.sessions.Create(ctx)
		if err != nil {
			return "", "", fmt.Errorf("failed to create session: %w", err)
		}
	}

	state, err := randomHex(16)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}
	nonce, err := randomHex(16)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	pending := &model.PendingLogin{
		State:        state,
		CodeVerifier: oauth2.GenerateVerifier(),
		Nonce:        nonce,
		StartedAt:    s.Now(),
	}
	if err := s.sessions.BeginLogin(ctx, sess.ID, pending); err != nil {
		return "", "", fmt.Errorf("failed to store pending login: %w", err)
	}

	return s.provider.AuthCodeURL(pending.State, pending.Nonce, pending.CodeVerifier), sess.ID, nil
}

// CompleteLogin はIdPからのコールバックを処理し、ユーザーを紐付けた新しいセッションのIDを返す。
// ログイン前のセッションは破棄するため、ログイン前に知られたIDはログイン後に使えない。
// ログインフロー状態は検証前に取り出して破棄するため、同じstateでの再試行はできない。
func (s *Service) CompleteLogin(ctx context.Context, sessionID, state, code string) (user *model.User, sid string, err error) {
	if sessionID == "" || state == "" || code == "" {
		s.recorder.RecordLogin(LoginResultInvalidState)
		return nil, "", ErrInvalidLoginState
	}

	pending, err := s.sessions.TakePendingLogin(ctx, sessionID)
	if err != nil {
		s.recorder.RecordLogin(LoginResultError)
		return nil, "", fmt.Errorf("failed to take pending login: %w", err)
	}
	if pending == nil || subtle.ConstantTimeCompare([]byte(pending.State), []byte(state)) != 1 {
		s.recorder.RecordLogin(LoginResultInvalidState)
		return nil, "", ErrInvalidLoginState
	}
	if s.Now().Sub(pending.StartedAt) > PendingLoginTTL {
		s.recorder.RecordLogin(LoginResultInvalidState)
		return nil, "", ErrInvalidLoginState
	}

	claims, err := s.provider.Exchange(ctx, code, pending.CodeVerifier, pending.Nonce)
	if err != nil {
		s.recorder.RecordLogin(LoginResultProviderError)
		return nil, "", fmt.Errorf("failed to complete provider exchange: %w", err)
	}
	if claims.Sub == "" || claims.Email == "" {
		s.recorder.RecordLogin(LoginResultMissingClaims)
		return nil, "", ErrMissingClaims
	}

	user = &model.User{
		SubjectID: claims.Sub,
		Email:     claims.Email,
		Name:      claims.Name,
		Picture:   claims.Picture,
	}
	if err := s.users.Upsert(ctx, user); err != nil {
		s.recorder.RecordLogin(LoginResultError)
		return nil, "", fmt.Errorf("failed to upsert user: %w", err)
	}

	sess, err := s.sessions.Create(ctx)
	if err != nil {
		s.recorder.RecordLogin(LoginResultError)
		return nil, "", fmt.Errorf("failed to create session: %w", err)
	}
	if err := s.sessions.SetUser(ctx, sess.ID, user); err != nil {
		s.recorder.RecordLogin(LoginResultError)
		return nil, "", fmt.Errorf("failed to attach user to session: %w", err)
	}
	if _, err := s.sessions.IssueCSRFToken(ctx, sess.ID); err != nil {
		s.recorder.RecordLogin(LoginResultError)
		return nil, "", fmt.Errorf("failed to issue csrf token: %w", err)
	}
	// 古いセッションは未認証のため、削除に失敗してもログインは成功させる
	if err := s.sessions.Destroy(ctx, sessionID); err != nil {
		slog.Warn("failed to destroy pre-login session", slog.String("error", err.Error()))
	}

	s.recorder.RecordLogin(LoginResultSuccess)
	slog.Info("user logged in", slog.String("user_id", user.SubjectID))
	return user, sess.ID, nil
}

// Logout はセッションを破棄する。sessionIDが空の場合は何もしない。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.Destroy(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
