package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/hitoshi/campushub/internal/model"
)

// --- モック定義 ---

type mockUserRepo struct {
	upsertFn func(ctx context.Context, user *model.User) error
	upserted []*model.User
}

func (m *mockUserRepo) Upsert(ctx context.Context, user *model.User) error {
	m.upserted = append(m.upserted, user)
	if m.upsertFn != nil {
		return m.upsertFn(ctx, user)
	}
	return nil
}

type mockSessionStore struct {
	sessions   map[string]*model.Session
	created    int
	destroyed  []string
	destroyErr error
	setUserFn  func(ctx context.Context, id string, user *model.User) error
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{sessions: make(map[string]*model.Session)}
}

func (m *mockSessionStore) Create(_ context.Context) (*model.Session, error) {
	m.created++
	id := fmt.Sprintf("session-%d", m.created)
	sess := &model.Session{ID: id}
	m.sessions[id] = sess
	return sess, nil
}

func (m *mockSessionStore) Get(_ context.Context, id string) (*model.Session, error) {
	return m.sessions[id], nil
}

func (m *mockSessionStore) SetUser(ctx context.Context, id string, user *model.User) error {
	if m.setUserFn != nil {
		return m.setUserFn(ctx, id, user)
	}
	sess, ok := m.sessions[id]
	if !ok {
		return model.ErrSessionNotFound
	}
	sess.User = user
	return nil
}

func (m *mockSessionStore) IssueCSRFToken(_ context.Context, id string) (string, error) {
	sess, ok := m.sessions[id]
	if !ok {
		return "", model.ErrSessionNotFound
	}
	sess.CSRFToken = "csrf-" + id
	return sess.CSRFToken, nil
}

func (m *mockSessionStore) BeginLogin(_ context.Context, id string, pending *model.PendingLogin) error {
	sess, ok := m.sessions[id]
	if !ok {
		return model.ErrSessionNotFound
	}
	sess.PendingLogin = pending
	return nil
}

func (m *mockSessionStore) TakePendingLogin(_ context.Context, id string) (*model.PendingLogin, error) {
	sess, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	pending := sess.PendingLogin
	sess.PendingLogin = nil
	return pending, nil
}

func (m *mockSessionStore) Destroy(_ context.Context, id string) error {
	if m.destroyErr != nil {
		return m.destroyErr
	}
	m.destroyed = append(m.destroyed, id)
	delete(m.sessions, id)
	return nil
}

type mockIdentityProvider struct {
	exchangeFn func(ctx context.Context, code, verifier, nonce string) (*Claims, error)

	lastVerifier string
	lastNonce    string
}

func (m *mockIdentityProvider) AuthCodeURL(state, nonce, verifier string) string {
	q := url.Values{"state": {state}, "nonce": {nonce}}
	return "https://idp.example.com/auth?" + q.Encode()
}

func (m *mockIdentityProvider) Exchange(ctx context.Context, code, verifier, nonce string) (*Claims, error) {
	m.lastVerifier = verifier
	m.lastNonce = nonce
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code, verifier, nonce)
	}
	return &Claims{Sub: "sub-1", Email: "alice@example.com", Name: "Alice"}, nil
}

type recordedLogins []string

func (r *recordedLogins) RecordLogin(result string) {
	*r = append(*r, result)
}

// --- ヘルパー ---

type serviceFixture struct {
	svc      *Service
	provider *mockIdentityProvider
	users    *mockUserRepo
	sessions *mockSessionStore
	logins   *recordedLogins
	now      time.Time
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		provider: &mockIdentityProvider{},
		users:    &mockUserRepo{},
		sessions: newMockSessionStore(),
		logins:   &recordedLogins{},
		now:      time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.provider, f.users, f.sessions, f.logins)
	f.svc.Now = func() time.Time { return f.now }
	return f
}

// beginLogin はログインを開始し、発行されたstateを返す。
func (f *serviceFixture) beginLogin(t *testing.T, sessionID string) (sid, state string) {
	t.Helper()
	authURL, sid, err := f.svc.BeginLogin(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("認可URLのパースに失敗: %v", err)
	}
	return sid, u.Query().Get("state")
}

// --- テスト ---

func TestBeginLogin_CreatesSessionWhenMissing(t *testing.T) {
	f := newServiceFixture()

	sid, state := f.beginLogin(t, "")

	if sid != "session-1" {
		t.Errorf("sid = %q, want %q", sid, "session-1")
	}
	if f.sessions.created != 1 {
		t.Errorf("作成されたセッション数 = %d, want 1", f.sessions.created)
	}
	pending := f.sessions.sessions[sid].PendingLogin
	if pending == nil {
		t.Fatal("PendingLoginが保存されていない")
	}
	if pending.State != state {
		t.Errorf("保存されたstate = %q, URLのstate = %q", pending.State, state)
	}
	if pending.CodeVerifier == "" || pending.Nonce == "" {
		t.Error("verifierとnonceが生成されていない")
	}
	if !pending.StartedAt.Equal(f.now) {
		t.Errorf("StartedAt = %v, want %v", pending.StartedAt, f.now)
	}
}

func TestBeginLogin_ReusesExistingSession(t *testing.T) {
	f := newServiceFixture()
	f.sessions.sessions["existing"] = &model.Session{ID: "existing"}

	sid, _ := f.beginLogin(t, "existing")

	if sid != "existing" {
		t.Errorf("sid = %q, want %q", sid, "existing")
	}
	if f.sessions.created != 0 {
		t.Errorf("新しいセッションが作成された: %d", f.sessions.created)
	}
}

func TestBeginLogin_ReplacesPendingLogin(t *testing.T) {
	f := newServiceFixture()

	sid, first := f.beginLogin(t, "")
	_, second := f.beginLogin(t, sid)

	if first == second {
		t.Fatal("stateが再生成されていない")
	}
	if got := f.sessions.sessions[sid].PendingLogin.State; got != second {
		t.Errorf("保存されたstate = %q, want %q", got, second)
	}
}

func TestCompleteLogin_Success(t *testing.T) {
	f := newServiceFixture()
	sid, state := f.beginLogin(t, "")
	pending := *f.sessions.sessions[sid].PendingLogin

	user, newSID, err := f.svc.CompleteLogin(context.Background(), sid, state, "auth-code")
	if err != nil {
		t.Fatalf("CompleteLogin() error = %v", err)
	}

	if user.SubjectID != "sub-1" || user.Email != "alice@example.com" {
		t.Errorf("user = %+v", user)
	}
	if len(f.users.upserted) != 1 {
		t.Errorf("Upsert呼び出し回数 = %d, want 1", len(f.users.upserted))
	}
	sess := f.sessions.sessions[newSID]
	if sess == nil || !sess.Authenticated() {
		t.Fatal("新しいセッションにユーザーが紐付いていない")
	}
	if sess.CSRFToken == "" {
		t.Error("CSRFトークンが発行されていない")
	}
	if sess.PendingLogin != nil {
		t.Error("PendingLoginが残っている")
	}
	if f.provider.lastVerifier != pending.CodeVerifier {
		t.Errorf("Exchangeに渡したverifier = %q, want %q", f.provider.lastVerifier, pending.CodeVerifier)
	}
	if f.provider.lastNonce != pending.Nonce {
		t.Errorf("Exchangeに渡したnonce = %q, want %q", f.provider.lastNonce, pending.Nonce)
	}
	if len(*f.logins) != 1 || (*f.logins)[0] != LoginResultSuccess {
		t.Errorf("記録されたログイン結果 = %v", *f.logins)
	}
}

// TestCompleteLogin_RotatesSessionID はログイン前のセッションIDがログイン後に使えないことを検証する。
func TestCompleteLogin_RotatesSessionID(t *testing.T) {
	f := newServiceFixture()
	f.sessions.sessions["planted"] = &model.Session{ID: "planted"}
	sid, state := f.beginLogin(t, "planted")

	_, newSID, err := f.svc.CompleteLogin(context.Background(), sid, state, "auth-code")
	if err != nil {
		t.Fatalf("CompleteLogin() error = %v", err)
	}

	if newSID == "" || newSID == "planted" {
		t.Fatalf("セッションIDが変更されていない: %q", newSID)
	}
	if _, ok := f.sessions.sessions["planted"]; ok {
		t.Error("ログイン前のセッションが残っている")
	}
	if len(f.sessions.destroyed) != 1 || f.sessions.destroyed[0] != "planted" {
		t.Errorf("破棄されたセッション = %v, want [planted]", f.sessions.destroyed)
	}
	if !f.sessions.sessions[newSID].Authenticated() {
		t.Error("新しいセッションが認証されていない")
	}
}

func TestCompleteLogin_DestroyErrorStillSucceeds(t *testing.T) {
	f := newServiceFixture()
	f.sessions.destroyErr = errors.New("db error")
	sid, state := f.beginLogin(t, "")

	_, newSID, err := f.svc.CompleteLogin(context.Background(), sid, state, "auth-code")
	if err != nil {
		t.Fatalf("CompleteLogin() error = %v", err)
	}
	if !f.sessions.sessions[newSID].Authenticated() {
		t.Error("新しいセッションが認証されていない")
	}
}

func TestCompleteLogin_StateMismatch(t *testing.T) {
	f := newServiceFixture()
	sid, _ := f.beginLogin(t, "")

	_, _, err := f.svc.CompleteLogin(context.Background(), sid, "forged", "auth-code")
	if !errors.Is(err, ErrInvalidLoginState) {
		t.Fatalf("err = %v, want ErrInvalidLoginState", err)
	}
	if len(f.users.upserted) != 0 {
		t.Error("state不一致なのにユーザーが作成された")
	}
	if f.sessions.sessions[sid].Authenticated() {
		t.Error("state不一致なのにセッションが認証された")
	}
}

func TestCompleteLogin_ReplayRejected(t *testing.T) {
	f := newServiceFixture()
	sid, state := f.beginLogin(t, "")

	if _, _, err := f.svc.CompleteLogin(context.Background(), sid, state, "auth-code"); err != nil {
		t.Fatalf("1回目のCompleteLogin() error = %v", err)
	}

	_, _, err := f.svc.CompleteLogin(context.Background(), sid, state, "auth-code")
	if !errors.Is(err, ErrInvalidLoginState) {
		t.Errorf("2回目のerr = %v, want ErrInvalidLoginState", err)
	}
}

func TestCompleteLogin_Expired(t *testing.T) {
	f := newServiceFixture()
	sid, state := f.beginLogin(t, "")

	f.now = f.now.Add(PendingLoginTTL + time.Second)

	_, _, err := f.svc.CompleteLogin(context.Background(), sid, state, "auth-code")
	if !errors.Is(err, ErrInvalidLoginState) {
		t.Errorf("err = %v, want ErrInvalidLoginState", err)
	}
}

func TestCompleteLogin_MissingParams(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		state     string
		code      string
	}{
		{"セッションなし", "", "state", "code"},
		{"stateなし", "sid", "", "code"},
		{"codeなし", "sid", "state", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture()
			_, _, err := f.svc.CompleteLogin(context.Background(), tt.sessionID, tt.state, tt.code)
			if !errors.Is(err, ErrInvalidLoginState) {
				t.Errorf("err = %v, want ErrInvalidLoginState", err)
			}
		})
	}
}

func TestCompleteLogin_ProviderError(t *testing.T) {
	f := newServiceFixture()
	f.provider.exchangeFn = func(_ context.Context, _, _, _ string) (*Claims, error) {
		return nil, errors.New("token endpoint unavailable")
	}
	sid, state := f.beginLogin(t, "")

	_, _, err := f.svc.CompleteLogin(context.Background(), sid, state, "auth-code")
	if err == nil {
		t.Fatal("エラーが返されなかった")
	}
	if errors.Is(err, ErrInvalidLoginState) {
		t.Error("IdPエラーがstateエラーとして扱われた")
	}
	if (*f.logins)[0] != LoginResultProviderError {
		t.Errorf("記録されたログイン結果 = %v", *f.logins)
	}
}

func TestCompleteLogin_MissingClaims(t *testing.T) {
	tests := []struct {
		name   string
		claims *Claims
	}{
		{"subなし", &Claims{Email: "a@example.com"}},
		{"emailなし", &Claims{Sub: "sub-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture()
			f.provider.exchangeFn = func(_ context.Context, _, _, _ string) (*Claims, error) {
				return tt.claims, nil
			}
			sid, state := f.beginLogin(t, "")

			_, _, err := f.svc.CompleteLogin(context.Background(), sid, state, "auth-code")
			if !errors.Is(err, ErrMissingClaims) {
				t.Errorf("err = %v, want ErrMissingClaims", err)
			}
			if len(f.users.upserted) != 0 {
				t.Error("必須クレーム欠落なのにユーザーが作成された")
			}
		})
	}
}

func TestCompleteLogin_UpsertError(t *testing.T) {
	f := newServiceFixture()
	f.users.upsertFn = func(_ context.Context, _ *model.User) error {
		return errors.New("db error")
	}
	sid, state := f.beginLogin(t, "")

	if _, _, err := f.svc.CompleteLogin(context.Background(), sid, state, "auth-code"); err == nil {
		t.Fatal("エラーが返されなかった")
	}
	if f.sessions.sessions[sid].Authenticated() {
		t.Error("ユーザー保存失敗なのにセッションが認証された")
	}
}

func TestLogout_DestroysSession(t *testing.T) {
	f := newServiceFixture()
	f.sessions.sessions["sid"] = &model.Session{ID: "sid"}

	if err := f.svc.Logout(context.Background(), "sid"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if len(f.sessions.destroyed) != 1 || f.sessions.destroyed[0] != "sid" {
		t.Errorf("破棄されたセッション = %v", f.sessions.destroyed)
	}
}

func TestLogout_EmptySessionID_NoOp(t *testing.T) {
	f := newServiceFixture()

	if err := f.svc.Logout(context.Background(), ""); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if len(f.sessions.destroyed) != 0 {
		t.Errorf("空IDでDestroyが呼ばれた: %v", f.sessions.destroyed)
	}
}
