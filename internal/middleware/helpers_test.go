package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/campushub/internal/model"
)

// mockSessionStore はテスト用のSessionStore。
type mockSessionStore struct {
	getFn   func(ctx context.Context, id string) (*model.Session, error)
	touchFn func(ctx context.Context, id string) error

	touched []string
}

func (m *mockSessionStore) Get(ctx context.Context, id string) (*model.Session, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionStore) Touch(ctx context.Context, id string) error {
	m.touched = append(m.touched, id)
	if m.touchFn != nil {
		return m.touchFn(ctx, id)
	}
	return nil
}

// authenticatedSession はユーザー付きのセッションを返す。
func authenticatedSession(id, sub, csrfToken string) *model.Session {
	return &model.Session{
		ID:        id,
		User:      &model.User{SubjectID: sub, Email: sub + "@example.com"},
		CSRFToken: csrfToken,
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}
}

// storeWith は指定セッションのみを返すmockSessionStoreを生成する。
func storeWith(sessions ...*model.Session) *mockSessionStore {
	return &mockSessionStore{
		getFn: func(_ context.Context, id string) (*model.Session, error) {
			for _, s := range sessions {
				if s.ID == id {
					return s, nil
				}
			}
			return nil, nil
		},
	}
}

// decodeErrorBody は統一エラーフォーマットのレスポンスをデコードする。
func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("エラーレスポンスのデコードに失敗: %v", err)
	}
	return body
}

// okHandler は200を返すハンドラー。
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})
