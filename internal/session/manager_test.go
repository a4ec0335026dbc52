package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/joshp123/gohome-aircloud/internal/logging"
)

type fakeAuth struct {
	mu         sync.Mutex
	logins     int
	refreshes  int
	refreshErr error
	loginErr   error
	expiry     time.Duration
}

func (f *fakeAuth) Login(context.Context) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &oauth2.Token{AccessToken: "login-access", RefreshToken: "login-refresh", Expiry: time.Now().Add(f.expiry)}, nil
}

func (f *fakeAuth) Refresh(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &oauth2.Token{AccessToken: "refreshed-" + refreshToken, Expiry: time.Now().Add(f.expiry)}, nil
}

func newTestManager(t *testing.T, auth Authenticator, blob BlobStore) (*Manager, string) {
	t.Helper()
	statePath := filepath.Join(t.TempDir(), "aircloud", "me.json")
	m, err := NewManager(Declaration{Provider: "aircloud", Account: "me@example.com", StatePath: statePath}, auth, blob, logging.Discard())
	require.NoError(t, err)
	return m, statePath
}

func TestManagerLogsInOnceAndPersists(t *testing.T) {
	auth := &fakeAuth{expiry: time.Hour}
	blob := NewMemoryStore()
	m, statePath := newTestManager(t, auth, blob)

	token, err := m.Token()
	require.NoError(t, err)
	assert.Equal(t, "login-access", token.AccessToken)

	_, err = m.Token()
	require.NoError(t, err)
	assert.Equal(t, 1, auth.logins)

	state, err := LoadState(statePath)
	require.NoError(t, err)
	assert.Equal(t, "login-refresh", state.RefreshToken)

	info, err := os.Stat(statePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := blob.Load(context.Background(), Key("aircloud", "me@example.com"))
	require.NoError(t, err)
	remote, err := DecodeState(data)
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", remote.Account)
}

func TestManagerRefreshesExpiredToken(t *testing.T) {
	auth := &fakeAuth{expiry: time.Second}
	m, _ := newTestManager(t, auth, NewMemoryStore())

	_, err := m.Token()
	require.NoError(t, err)

	auth.expiry = time.Hour
	token, err := m.Token()
	require.NoError(t, err)
	assert.Equal(t, "refreshed-login-refresh", token.AccessToken)
	assert.Equal(t, "login-refresh", token.RefreshToken, "refresh token carried over")
	assert.Equal(t, 1, auth.refreshes)
}

func TestManagerFallsBackToLoginWhenRefreshFails(t *testing.T) {
	auth := &fakeAuth{expiry: time.Second}
	m, _ := newTestManager(t, auth, NewMemoryStore())

	_, err := m.Token()
	require.NoError(t, err)

	auth.refreshErr = errors.New("refresh rejected")
	auth.expiry = time.Hour
	token, err := m.Token()
	require.NoError(t, err)
	assert.Equal(t, "login-access", token.AccessToken)
	assert.Equal(t, 2, auth.logins)
}

func TestManagerRestoresFromBlob(t *testing.T) {
	blob := NewMemoryStore()
	data, err := EncodeState(State{
		Provider:     "aircloud",
		Account:      "me@example.com",
		RefreshToken: "stored-refresh",
		AccessToken:  "stored-access",
		Expiry:       time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, blob.Save(context.Background(), Key("aircloud", "me@example.com"), data))

	auth := &fakeAuth{expiry: time.Hour}
	m, statePath := newTestManager(t, auth, blob)

	token, err := m.Token()
	require.NoError(t, err)
	assert.Equal(t, "stored-access", token.AccessToken)
	assert.Zero(t, auth.logins)

	_, err = LoadState(statePath)
	assert.NoError(t, err, "blob state mirrored to disk")
}

func TestManagerInvalidateForcesRefresh(t *testing.T) {
	auth := &fakeAuth{expiry: time.Hour}
	m, _ := newTestManager(t, auth, NewMemoryStore())

	_, err := m.Token()
	require.NoError(t, err)
	m.Invalidate()

	token, err := m.Token()
	require.NoError(t, err)
	assert.Equal(t, "refreshed-login-refresh", token.AccessToken)
}

func TestManagerLoginError(t *testing.T) {
	boom := errors.New("bad password")
	m, _ := newTestManager(t, &fakeAuth{loginErr: boom}, NewMemoryStore())

	_, err := m.Token()
	assert.ErrorIs(t, err, boom)
}

func TestManagerHTTPClientSetsBearer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer login-access", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	m, _ := newTestManager(t, &fakeAuth{expiry: time.Hour}, NewMemoryStore())
	resp, err := m.HTTPClient(server.Client()).Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestNewManagerValidation(t *testing.T) {
	auth := &fakeAuth{}
	_, err := NewManager(Declaration{Provider: "aircloud", Account: "a", StatePath: "relative.json"}, auth, NewMemoryStore(), nil)
	assert.Error(t, err)

	_, err = NewManager(Declaration{Provider: "aircloud", StatePath: "/tmp/x.json"}, auth, NewMemoryStore(), nil)
	assert.Error(t, err)

	_, err = NewManager(Declaration{Provider: "aircloud", Account: "a", StatePath: "/tmp/x.json"}, nil, NewMemoryStore(), nil)
	assert.Error(t, err)
}
