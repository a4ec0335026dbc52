package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const SchemaVersion = 1

var ErrStateNotFound = errors.New("session state not found")

// State is the persisted session of one cloud account.
type State struct {
	SchemaVersion int       `json:"schema_version"`
	Provider      string    `json:"provider"`
	Account       string    `json:"account"`
	RefreshToken  string    `json:"refresh_token"`
	AccessToken   string    `json:"access_token,omitempty"`
	Expiry        time.Time `json:"expiry,omitempty"`
}

func (s State) Validate() error {
	if s.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version: %d", s.SchemaVersion)
	}
	if s.Account == "" {
		return fmt.Errorf("state missing account")
	}
	if s.RefreshToken == "" {
		return fmt.Errorf("state missing refresh_token")
	}
	return nil
}

// Token converts the persisted state into an oauth2 token.
func (s State) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       s.Expiry,
	}
}

// Key is the storage key of an account's session.
func Key(provider, account string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", " ", "_")
	return provider + "/" + replacer.Replace(strings.ToLower(account))
}

// StatePath returns the local state file of an account below dir.
func StatePath(dir, provider, account string) string {
	return filepath.Join(dir, Key(provider, account)+".json")
}

func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, ErrStateNotFound
		}
		return State{}, fmt.Errorf("read state: %w", err)
	}
	return DecodeState(data)
}

func DecodeState(data []byte) (State, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	if err := state.Validate(); err != nil {
		return State{}, err
	}
	return state, nil
}

func EncodeState(state State) ([]byte, error) {
	if state.SchemaVersion == 0 {
		state.SchemaVersion = SchemaVersion
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return data, nil
}

// WriteState writes state with owner-only permissions.
func WriteState(path string, state State) error {
	data, err := EncodeState(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
