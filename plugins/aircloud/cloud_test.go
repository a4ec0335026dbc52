package aircloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/gohome-aircloud/internal/config"
	"github.com/joshp123/gohome-aircloud/internal/logging"
	"github.com/joshp123/gohome-aircloud/internal/session"
)

const (
	testEmail    = "owner@example.com"
	testPassword = "hunter2"
	testFamilyID = 77
)

// fakeCloud stands in for the AirCloud REST API.
type fakeCloud struct {
	t      *testing.T
	server *httptest.Server

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	issued       int
	signIns      int
	refreshes    int
	errorState   string
	rejectNext   int
	unitFailures int
	tempUnit     string
	groups       []groupResponse
	commands     []controlRequest
	commandPaths []string
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()
	cloud := &fakeCloud{t: t, tempUnit: UnitCelsius}
	cloud.groups = []groupResponse{{
		GroupID:   1,
		GroupName: "Home",
		IDUList: []iduResponse{
			{ID: 12, Name: "Living room", Vendor: "hitachi-12", ModelTypeCode: "RAK-25", Online: true, Power: PowerOn, Mode: ModeCooling, FanSpeed: "LV2", FanSwing: "OFF", RoomTemperature: 24.5, IDUTemperature: 22, Humidity: 40, UpdatedAt: 1700000000000},
		},
	}, {
		GroupID:   2,
		GroupName: "Upstairs",
		IDUList: []iduResponse{
			{ID: 7, Name: "Bedroom", Vendor: "hitachi-7", ModelTypeCode: "RAK-35", Online: true, Power: PowerOff, Mode: ModeHeating, FanSpeed: "AUTO", FanSwing: "VERTICAL", RoomTemperature: 19, IDUTemperature: 21, UpdatedAt: 1700000000000},
		},
	}}

	mux := http.NewServeMux()
	mux.HandleFunc("/iam/auth/sign-in", cloud.handleSignIn)
	mux.HandleFunc("/iam/auth/refresh-token", cloud.handleRefresh)
	mux.HandleFunc("/iam/user/v2/who-am-i", cloud.authorized(cloud.handleWhoAmI))
	mux.HandleFunc(fmt.Sprintf("/rac/ownership/groups/list/%d", testFamilyID), cloud.authorized(cloud.handleGroups))
	mux.HandleFunc("/rac/basic-idu-control/general-control-command/", cloud.authorized(cloud.handleControl))
	cloud.server = httptest.NewServer(mux)
	t.Cleanup(cloud.server.Close)
	return cloud
}

func (f *fakeCloud) URL() string { return f.server.URL }

// issue must be called with mu held.
func (f *fakeCloud) issue() tokenResponse {
	f.issued++
	claims := jwt.MapClaims{"sub": testEmail, "exp": time.Now().Add(time.Hour).Unix(), "n": f.issued}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(f.t, err)
	f.accessToken = signed
	f.refreshToken = fmt.Sprintf("refresh-%d", f.issued)
	return tokenResponse{Token: f.accessToken, RefreshToken: f.refreshToken, ErrorState: errorStateNone}
}

func (f *fakeCloud) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signIns++
	if f.errorState != "" {
		writeJSON(w, tokenResponse{ErrorState: f.errorState})
		return
	}
	if req.Email != testEmail || req.Password != testPassword {
		http.Error(w, `{"message":"bad credentials"}`, http.StatusUnauthorized)
		return
	}
	writeJSON(w, f.issue())
}

func (f *fakeCloud) handleRefresh(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if r.Header.Get("isRefreshToken") != "true" || r.Header.Get("Authorization") != "Bearer "+f.refreshToken {
		http.Error(w, "", http.StatusUnauthorized)
		return
	}
	writeJSON(w, f.issue())
}

func (f *fakeCloud) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		reject := f.rejectNext > 0
		if reject {
			f.rejectNext--
		}
		ok := r.Header.Get("Authorization") == "Bearer "+f.accessToken
		f.mu.Unlock()
		if reject || !ok {
			http.Error(w, "", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (f *fakeCloud) handleWhoAmI(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	unit := f.tempUnit
	f.mu.Unlock()
	body := map[string]any{
		"id":        5,
		"email":     testEmail,
		"firstName": "Ada",
		"lastName":  "Owner",
		"familyId":  testFamilyID,
		"settings":  map[string]any{"temperatureUnit": unit},
	}
	writeJSON(w, body)
}

func (f *fakeCloud) handleGroups(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unitFailures > 0 {
		f.unitFailures--
		http.Error(w, "down", http.StatusBadGateway)
		return
	}
	writeJSON(w, f.groups)
}

func (f *fakeCloud) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "", http.StatusMethodNotAllowed)
		return
	}
	payload, _ := io.ReadAll(r.Body)
	var req controlRequest
	require.NoError(f.t, json.Unmarshal(payload, &req))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, req)
	f.commandPaths = append(f.commandPaths, r.URL.RequestURI())
	// The real cloud applies the command; later polls see it.
	for gi := range f.groups {
		for ui := range f.groups[gi].IDUList {
			idu := &f.groups[gi].IDUList[ui]
			if idu.ID == req.ID {
				idu.Power, idu.Mode = req.Power, req.Mode
				idu.FanSpeed, idu.FanSwing = req.FanSpeed, req.FanSwing
				idu.IDUTemperature = req.IDUTemperature
			}
		}
	}
	w.WriteHeader(http.StatusOK)
}

// setUnit edits a unit in place.
func (f *fakeCloud) setUnit(id int, edit func(*iduResponse)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for gi := range f.groups {
		for ui := range f.groups[gi].IDUList {
			if f.groups[gi].IDUList[ui].ID == id {
				edit(&f.groups[gi].IDUList[ui])
			}
		}
	}
}

func (f *fakeCloud) removeUnit(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for gi := range f.groups {
		list := f.groups[gi].IDUList[:0]
		for _, idu := range f.groups[gi].IDUList {
			if idu.ID != id {
				list = append(list, idu)
			}
		}
		f.groups[gi].IDUList = list
	}
}

func (f *fakeCloud) lastCommand() (controlRequest, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.commands)
	return f.commands[len(f.commands)-1], f.commandPaths[len(f.commandPaths)-1]
}

func (f *fakeCloud) counts() (signIns, refreshes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signIns, f.refreshes
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testConfig(cloud *fakeCloud) Config {
	return Config{
		BaseURL:        cloud.URL(),
		PollInterval:   time.Hour,
		RequestTimeout: 5 * time.Second,
		Accounts:       []config.AirCloudAccount{{Email: testEmail, Password: testPassword}},
	}
}

func testSessionConfig(t *testing.T) config.SessionConfig {
	return config.SessionConfig{StateDir: t.TempDir()}
}

// newConnectedClient returns a client for the fake cloud after Connect.
func newConnectedClient(t *testing.T, cloud *fakeCloud) *Client {
	t.Helper()
	auth := accountAuthenticator{api: NewAuthAPI(cloud.URL(), nil), email: testEmail, password: testPassword}
	manager, err := session.NewManager(session.Declaration{
		Provider:  Domain,
		Account:   testEmail,
		StatePath: filepath.Join(t.TempDir(), "aircloud.json"),
	}, auth, session.NewMemoryStore(), logging.Discard())
	require.NoError(t, err)

	client := NewClient(testConfig(cloud), manager, logging.Discard())
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(client.Close)
	return client
}

func ptr[T any](v T) *T { return &v }
