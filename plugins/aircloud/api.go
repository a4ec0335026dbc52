package aircloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/joshp123/gohome-aircloud/internal/rate"
)

// Session supplies access tokens for one account.
type Session interface {
	TokenContext(ctx context.Context) (*oauth2.Token, error)
	HTTPClient(base *http.Client) *http.Client
	Invalidate()
}

// Client talks to the AirCloud REST API for one account and keeps the last
// known state of its interior units.
type Client struct {
	baseURL string
	session Session
	guard   *rate.Guard
	http    *http.Client
	logger  logrus.FieldLogger

	mu        sync.RWMutex
	profile   *UserProfile
	units     map[int]InteriorUnit
	listeners map[int]func(map[int]Change)
	nextID    int

	// commandSeq counts sent commands; commanded holds the seq of the last
	// command per unit.
	commandSeq uint64
	commanded  map[int]uint64
}

func NewClient(cfg Config, sess Session, logger logrus.FieldLogger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	guard := rate.NewGuard(RateLimits())
	base := guard.Client(&http.Client{Timeout: cfg.RequestTimeout})
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		session:   sess,
		guard:     guard,
		http:      sess.HTTPClient(base),
		logger:    logger,
		units:     make(map[int]InteriorUnit),
		listeners: make(map[int]func(map[int]Change)),
		commanded: make(map[int]uint64),
	}
}

// RateLimits is the request budget the client holds itself to.
func RateLimits() rate.Declaration {
	return rate.Provider("aircloud").
		MaxRequestsPer(rate.Minute, 30).
		MaxRequestsPer(rate.Hour, 600).
		CacheFor(5 * time.Minute).
		ReadHeaders(rate.RetryAfterOnly())
}

// Connect authenticates, loads the profile and the initial unit list.
func (c *Client) Connect(ctx context.Context) error {
	if _, err := c.session.TokenContext(ctx); err != nil {
		return wrap("connect", err)
	}
	profile, err := c.Profile(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.profile = &profile
	c.mu.Unlock()

	units, err := c.InteriorUnits(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.units = make(map[int]InteriorUnit, len(units))
	for _, unit := range units {
		c.units[unit.ID] = unit
	}
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{"family_id": profile.FamilyID, "units": len(units)}).Info("aircloud connected")
	return nil
}

// Close drops subscriptions and idle connections.
func (c *Client) Close() {
	c.mu.Lock()
	c.listeners = make(map[int]func(map[int]Change))
	c.mu.Unlock()
	c.http.CloseIdleConnections()
}

// Profile fetches the signed-in user.
func (c *Client) Profile(ctx context.Context) (UserProfile, error) {
	var resp whoAmIResponse
	if err := c.do(ctx, "profile", http.MethodGet, "/iam/user/v2/who-am-i", nil, &resp); err != nil {
		return UserProfile{}, err
	}
	return resp.profile(), nil
}

// InteriorUnits fetches every unit of the account's family, across groups.
func (c *Client) InteriorUnits(ctx context.Context) ([]InteriorUnit, error) {
	familyID, err := c.familyID()
	if err != nil {
		return nil, wrap("list units", err)
	}
	var groups []groupResponse
	path := fmt.Sprintf("/rac/ownership/groups/list/%d", familyID)
	if err := c.do(ctx, "list units", http.MethodGet, path, nil, &groups); err != nil {
		return nil, err
	}
	var units []InteriorUnit
	for _, group := range groups {
		for _, idu := range group.IDUList {
			units = append(units, idu.unit())
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
	return units, nil
}

// Set merges cmd into the unit's last known state and sends the full state.
func (c *Client) Set(ctx context.Context, unitID int, cmd Command) error {
	if cmd.empty() {
		return nil
	}
	familyID, err := c.familyID()
	if err != nil {
		return wrap("set", err)
	}
	current, ok := c.Unit(unitID)
	if !ok {
		return wrap("set", fmt.Errorf("%w: %d", ErrUnknownUnit, unitID))
	}

	next := cmd.apply(current)
	body, err := json.Marshal(controlRequestFor(next))
	if err != nil {
		return wrap("set", err)
	}
	path := fmt.Sprintf("/rac/basic-idu-control/general-control-command/%d?familyId=%d", unitID, familyID)
	if err := c.do(ctx, "set", http.MethodPut, path, body, nil); err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{"unit_id": unitID, "mode": next.Mode, "power": next.Power}).Debug("aircloud command sent")
	c.mu.Lock()
	c.commandSeq++
	c.commanded[unitID] = c.commandSeq
	c.mu.Unlock()
	c.store(map[int]InteriorUnit{unitID: next}, false, 0)
	return nil
}

// UpdateAll re-fetches the units and returns what changed. Units commanded
// while the fetch was in flight keep their optimistic state.
func (c *Client) UpdateAll(ctx context.Context) (map[int]Change, error) {
	c.mu.RLock()
	since := c.commandSeq
	c.mu.RUnlock()

	units, err := c.InteriorUnits(ctx)
	if err != nil {
		return nil, err
	}
	latest := make(map[int]InteriorUnit, len(units))
	for _, unit := range units {
		latest[unit.ID] = unit
	}
	return c.store(latest, true, since), nil
}

// store merges units into the cache and notifies listeners. With replace set
// units missing from the update are reported as disappeared, and units
// commanded after since are left alone.
func (c *Client) store(units map[int]InteriorUnit, replace bool, since uint64) map[int]Change {
	changes := make(map[int]Change)

	c.mu.Lock()
	for id, unit := range units {
		if replace && c.commanded[id] > since {
			continue
		}
		unit := unit
		old, known := c.units[id]
		switch {
		case !known:
			changes[id] = Change{New: &unit}
		case !old.Equal(unit):
			old := old
			changes[id] = Change{Old: &old, New: &unit}
		}
		c.units[id] = unit
	}
	if replace {
		for id, old := range c.units {
			if _, ok := units[id]; ok {
				continue
			}
			old := old
			changes[id] = Change{Old: &old}
			delete(c.units, id)
			delete(c.commanded, id)
		}
	}
	listeners := make([]func(map[int]Change), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	if len(changes) > 0 {
		for _, l := range listeners {
			l(changes)
		}
	}
	return changes
}

// OnChange subscribes to change sets and returns the cancel func.
func (c *Client) OnChange(fn func(map[int]Change)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Units returns the cached units sorted by id.
func (c *Client) Units() []InteriorUnit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]InteriorUnit, 0, len(c.units))
	for _, unit := range c.units {
		out = append(out, unit)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Client) Unit(id int) (InteriorUnit, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	unit, ok := c.units[id]
	return unit, ok
}

// UserProfile returns the profile loaded by Connect.
func (c *Client) UserProfile() (UserProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.profile == nil {
		return UserProfile{}, false
	}
	return *c.profile, true
}

// TemperatureUnit is the account's CELSIUS / FAHRENHEIT setting.
func (c *Client) TemperatureUnit() string {
	profile, _ := c.UserProfile()
	return profile.TemperatureUnit
}

func (c *Client) Email() string {
	profile, _ := c.UserProfile()
	return profile.Email
}

// AccessToken returns a current bearer token for side channels.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	token, err := c.session.TokenContext(ctx)
	if err != nil {
		return "", wrap("token", err)
	}
	return token.AccessToken, nil
}

// InvalidateSession drops the cached access token.
func (c *Client) InvalidateSession() {
	c.session.Invalidate()
}

// RateGuard exposes the request guard for metrics and status.
func (c *Client) RateGuard() *rate.Guard {
	return c.guard
}

func (c *Client) familyID() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.profile == nil {
		return 0, ErrNotConnected
	}
	return c.profile.FamilyID, nil
}

// do sends one request. A 401 invalidates the session and is retried once
// with a fresh token.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		status, payload, err := c.roundTrip(ctx, op, method, path, body)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized && attempt == 0 {
			c.logger.WithField("op", op).Info("aircloud token rejected; renewing session")
			c.session.Invalidate()
			lastErr = statusError(op, status, payload)
			continue
		}
		if status < 200 || status >= 300 {
			return statusError(op, status, payload)
		}
		if out == nil || len(bytes.TrimSpace(payload)) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return wrap(op, fmt.Errorf("decode response: %w", err))
		}
		return nil
	}
	return lastErr
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, wrap(op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Token acquisition failures surface through the transport.
		var vendorErr *Error
		if errors.As(err, &vendorErr) {
			return 0, nil, vendorErr
		}
		return 0, nil, connectionFailed(op, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, connectionFailed(op, err)
	}
	return resp.StatusCode, payload, nil
}
