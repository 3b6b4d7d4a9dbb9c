package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/campushub/internal/middleware"
	"github.com/hitoshi/campushub/internal/model"
	"github.com/hitoshi/campushub/internal/session"
)

const testBaseURL = "http://localhost:3000"

func newTestCookie() *session.Cookie {
	return session.NewCookie(testBaseURL, "", session.DefaultMaxAge)
}

// withUser は認証済みセッションをコンテキストに設定したリクエストを返す。
func withUser(req *http.Request, sub string) *http.Request {
	sess := &model.Session{
		ID:   "sid-" + sub,
		User: &model.User{SubjectID: sub, Email: sub + "@example.com", Name: "User " + sub},
	}
	return req.WithContext(middleware.ContextWithSession(req.Context(), sess))
}

// decodeError は統一エラーフォーマットのレスポンスをデコードする。
func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("エラーレスポンスのデコードに失敗: %v\nbody: %s", err, w.Body.String())
	}
	return body
}

// sessionCookie はレスポンスのSet-Cookieからセッションクッキーを取り出す。
func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == session.CookieName {
			return c
		}
	}
	return nil
}

// --- モック定義 ---

type mockAuthService struct {
	beginLoginFn    func(ctx context.Context, sessionID string) (string, string, error)
	completeLoginFn func(ctx context.Context, sessionID, state, code string) (*model.User, string, error)
	logoutFn        func(ctx context.Context, sessionID string) error
}

func (m *mockAuthService) BeginLogin(ctx context.Context, sessionID string) (string, string, error) {
	if m.beginLoginFn != nil {
		return m.beginLoginFn(ctx, sessionID)
	}
	return "", "", nil
}

func (m *mockAuthService) CompleteLogin(ctx context.Context, sessionID, state, code string) (*model.User, string, error) {
	if m.completeLoginFn != nil {
		return m.completeLoginFn(ctx, sessionID, state, code)
	}
	return nil, "", nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

type mockNoteService struct {
	listFn   func(ctx context.Context, ownerID string) ([]*model.Note, error)
	createFn func(ctx context.Context, ownerID string, in model.NoteInput) (*model.Note, error)
	updateFn func(ctx context.Context, ownerID, id string, in model.NoteInput) error
	deleteFn func(ctx context.Context, ownerID, id string) error
}

func (m *mockNoteService) List(ctx context.Context, ownerID string) ([]*model.Note, error) {
	if m.listFn != nil {
		return m.listFn(ctx, ownerID)
	}
	return nil, nil
}

func (m *mockNoteService) Create(ctx context.Context, ownerID string, in model.NoteInput) (*model.Note, error) {
	if m.createFn != nil {
		return m.createFn(ctx, ownerID, in)
	}
	return &model.Note{ID: "note-1"}, nil
}

func (m *mockNoteService) Update(ctx context.Context, ownerID, id string, in model.NoteInput) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, ownerID, id, in)
	}
	return nil
}

func (m *mockNoteService) Delete(ctx context.Context, ownerID, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, ownerID, id)
	}
	return nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}
