package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const expiryLeeway = 30 * time.Second

var ErrNoCredentials = errors.New("session has no refresh token and no login")

// Authenticator performs the provider specific token exchanges.
type Authenticator interface {
	Login(ctx context.Context) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Declaration names the session a Manager owns.
type Declaration struct {
	Provider  string
	Account   string
	StatePath string
}

func (d Declaration) key() string {
	return Key(d.Provider, d.Account)
}

// Manager keeps one account's tokens fresh and persisted. It is an
// oauth2.TokenSource.
type Manager struct {
	decl    Declaration
	auth    Authenticator
	blob    BlobStore
	logger  logrus.FieldLogger
	timeout time.Duration

	refreshMu sync.Mutex

	mu    sync.Mutex
	token *oauth2.Token
}

var _ oauth2.TokenSource = (*Manager)(nil)

func NewManager(decl Declaration, auth Authenticator, blob BlobStore, logger logrus.FieldLogger) (*Manager, error) {
	if decl.Provider == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if decl.Account == "" {
		return nil, fmt.Errorf("account is required")
	}
	if decl.StatePath == "" {
		return nil, fmt.Errorf("statePath is required")
	}
	if !filepath.IsAbs(decl.StatePath) {
		return nil, fmt.Errorf("statePath must be absolute")
	}
	if auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if blob == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	m := &Manager{
		decl:    decl,
		auth:    auth,
		blob:    blob,
		logger:  logger.WithFields(logrus.Fields{"provider": decl.Provider, "account": decl.Account}),
		timeout: 15 * time.Second,
	}
	m.token = m.loadInitialToken(context.Background())
	return m, nil
}

// loadInitialToken prefers the local state file and falls back to the blob
// mirror. A nil token means the first call has to log in.
func (m *Manager) loadInitialToken(ctx context.Context) *oauth2.Token {
	local, err := LoadState(m.decl.StatePath)
	if err == nil && local.Account == m.decl.Account {
		return local.Token()
	}
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		m.logger.WithError(err).Warn("ignoring unreadable session state")
	}

	data, err := m.blob.Load(ctx, m.decl.key())
	if err != nil {
		if !errors.Is(err, ErrBlobNotFound) {
			m.logger.WithError(err).Warn("session blob unavailable")
		}
		return nil
	}
	remote, err := DecodeState(data)
	if err != nil || remote.Account != m.decl.Account {
		m.logger.WithError(err).Warn("ignoring invalid session blob")
		return nil
	}
	if err := WriteState(m.decl.StatePath, remote); err != nil {
		m.logger.WithError(err).Warn("could not mirror session blob locally")
	}
	return remote.Token()
}

// Token returns a valid access token, refreshing or logging in as needed.
func (m *Manager) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	return m.TokenContext(ctx)
}

func (m *Manager) TokenContext(ctx context.Context) (*oauth2.Token, error) {
	if token := m.current(); validToken(token, expiryLeeway) {
		return token, nil
	}

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	if token := m.current(); validToken(token, expiryLeeway) {
		return token, nil
	}
	return m.renew(ctx)
}

// Login discards the current session and performs a password login.
func (m *Manager) Login(ctx context.Context) (*oauth2.Token, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	token, err := m.login(ctx)
	if err != nil {
		return nil, err
	}
	m.store(ctx, token)
	return token, nil
}

// Invalidate drops the cached access token, typically after a 401.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != nil {
		token := *m.token
		token.AccessToken = ""
		token.Expiry = time.Time{}
		m.token = &token
	}
	tokenValid.WithLabelValues(m.decl.Provider, m.decl.Account).Set(0)
}

// HTTPClient returns a client that authenticates every request.
func (m *Manager) HTTPClient(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client := *base
	client.Transport = &oauth2.Transport{Source: m, Base: transport}
	return &client
}

// StartWithInterval refreshes ahead of expiry until ctx ends.
func (m *Manager) StartWithInterval(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	threshold := interval
	if threshold < expiryLeeway {
		threshold = expiryLeeway
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.refreshIfNeeded(ctx, threshold)
			}
		}
	}()
}

func (m *Manager) refreshIfNeeded(ctx context.Context, threshold time.Duration) {
	if validToken(m.current(), threshold) {
		return
	}
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	if validToken(m.current(), threshold) {
		return
	}
	if _, err := m.renew(ctx); err != nil {
		m.logger.WithError(err).Warn("background session refresh failed")
	}
}

// renew must be called with refreshMu held.
func (m *Manager) renew(ctx context.Context) (*oauth2.Token, error) {
	previous := m.current()
	if previous != nil && previous.RefreshToken != "" {
		token, err := m.auth.Refresh(ctx, previous.RefreshToken)
		if err == nil {
			refreshTotal.WithLabelValues(m.decl.Provider, m.decl.Account, "success").Inc()
			if token.RefreshToken == "" {
				token.RefreshToken = previous.RefreshToken
			}
			m.store(ctx, token)
			return token, nil
		}
		refreshTotal.WithLabelValues(m.decl.Provider, m.decl.Account, "failure").Inc()
		m.logger.WithError(err).Info("token refresh failed; logging in again")
	}

	token, err := m.login(ctx)
	if err != nil {
		return nil, err
	}
	m.store(ctx, token)
	return token, nil
}

func (m *Manager) login(ctx context.Context) (*oauth2.Token, error) {
	token, err := m.auth.Login(ctx)
	if err != nil {
		loginTotal.WithLabelValues(m.decl.Provider, m.decl.Account, "failure").Inc()
		tokenValid.WithLabelValues(m.decl.Provider, m.decl.Account).Set(0)
		return nil, err
	}
	if token == nil || token.AccessToken == "" {
		loginTotal.WithLabelValues(m.decl.Provider, m.decl.Account, "failure").Inc()
		return nil, ErrNoCredentials
	}
	loginTotal.WithLabelValues(m.decl.Provider, m.decl.Account, "success").Inc()
	return token, nil
}

func (m *Manager) store(ctx context.Context, token *oauth2.Token) {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()

	tokenValid.WithLabelValues(m.decl.Provider, m.decl.Account).Set(1)
	if !token.Expiry.IsZero() {
		tokenExpiry.WithLabelValues(m.decl.Provider, m.decl.Account).Set(float64(token.Expiry.Unix()))
	}

	if token.RefreshToken == "" {
		return
	}
	state := State{
		SchemaVersion: SchemaVersion,
		Provider:      m.decl.Provider,
		Account:       m.decl.Account,
		RefreshToken:  token.RefreshToken,
		AccessToken:   token.AccessToken,
		Expiry:        token.Expiry,
	}
	if err := WriteState(m.decl.StatePath, state); err != nil {
		m.logger.WithError(err).Warn("persist session state")
	}
	data, err := EncodeState(state)
	if err == nil {
		err = m.blob.Save(ctx, m.decl.key(), data)
	}
	if err != nil {
		remotePersistOK.WithLabelValues(m.decl.Provider, m.decl.Account).Set(0)
		m.logger.WithError(err).Warn("mirror session state")
		return
	}
	remotePersistOK.WithLabelValues(m.decl.Provider, m.decl.Account).Set(1)
}

func (m *Manager) current() *oauth2.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func validToken(token *oauth2.Token, leeway time.Duration) bool {
	if token == nil || token.AccessToken == "" {
		return false
	}
	if token.Expiry.IsZero() {
		return true
	}
	return time.Until(token.Expiry) > leeway
}
