package aircloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/joshp123/gohome-aircloud/internal/session"
)

// Tokens without a readable exp claim are treated as short lived.
const fallbackTokenLifetime = 5 * time.Minute

const errorStateNone = "NONE"

// AuthAPI performs the unauthenticated IAM calls.
type AuthAPI struct {
	BaseURL string
	HTTP    *http.Client
	now     func() time.Time
}

func NewAuthAPI(baseURL string, httpClient *http.Client) *AuthAPI {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &AuthAPI{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: httpClient, now: time.Now}
}

// PerformLogin exchanges email and password for tokens.
func (a *AuthAPI) PerformLogin(ctx context.Context, email, password string) (Tokens, error) {
	body, err := json.Marshal(signInRequest{Email: email, Password: password})
	if err != nil {
		return Tokens{}, wrap("sign in", err)
	}
	return a.exchange(ctx, "sign in", "/iam/auth/sign-in", body, nil)
}

// RefreshTokens trades a refresh token for a new access token.
func (a *AuthAPI) RefreshTokens(ctx context.Context, refreshToken string) (Tokens, error) {
	if refreshToken == "" {
		return Tokens{}, authenticationFailed("refresh", errors.New("no refresh token"))
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+refreshToken)
	headers.Set("isRefreshToken", "true")
	tokens, err := a.exchange(ctx, "refresh", "/iam/auth/refresh-token", nil, headers)
	if err != nil {
		return Tokens{}, err
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	return tokens, nil
}

func (a *AuthAPI) exchange(ctx context.Context, op, path string, body []byte, headers http.Header) (Tokens, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return Tokens{}, wrap(op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return Tokens{}, connectionFailed(op, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Tokens{}, connectionFailed(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Tokens{}, statusError(op, resp.StatusCode, payload)
	}

	var decoded tokenResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Tokens{}, wrap(op, fmt.Errorf("decode token response: %w", err))
	}
	if decoded.ErrorState != "" && decoded.ErrorState != errorStateNone {
		return Tokens{}, authenticationFailed(op, fmt.Errorf("error state %s", decoded.ErrorState))
	}
	if decoded.Token == "" {
		return Tokens{}, authenticationFailed(op, errors.New("empty access token"))
	}
	return Tokens{
		AccessToken:  decoded.Token,
		RefreshToken: decoded.RefreshToken,
		Expiry:       a.expiry(decoded.Token),
	}, nil
}

func (a *AuthAPI) expiry(token string) time.Time {
	if exp, ok := tokenExpiry(token); ok {
		return exp
	}
	return a.now().Add(fallbackTokenLifetime)
}

// tokenExpiry reads the exp claim. The signature is not checked; the token
// only ever goes back to the server that issued it.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// accountAuthenticator binds AuthAPI to one account for the session manager.
type accountAuthenticator struct {
	api      *AuthAPI
	email    string
	password string
}

var _ session.Authenticator = accountAuthenticator{}

func (a accountAuthenticator) Login(ctx context.Context) (*oauth2.Token, error) {
	tokens, err := a.api.PerformLogin(ctx, a.email, a.password)
	if err != nil {
		return nil, err
	}
	return tokens.OAuth2(), nil
}

func (a accountAuthenticator) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	tokens, err := a.api.RefreshTokens(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return tokens.OAuth2(), nil
}
