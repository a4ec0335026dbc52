package rate

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimitError is returned when calls are blocked.
type RateLimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

type bucket struct {
	capacity float64
	tokens   float64
	last     time.Time
}

// refill tops the bucket up for the time elapsed since the last call.
func (b *bucket) refill(now time.Time, window time.Duration) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.capacity / window.Seconds()
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.last = now
}

// retryAt is when the bucket next holds a whole token.
func (b *bucket) retryAt(now time.Time, window time.Duration) time.Time {
	wait := time.Duration((1 - b.tokens) * float64(window) / b.capacity)
	return now.Add(wait)
}

type cacheEntry struct {
	status  int
	header  http.Header
	body    []byte
	expires time.Time
}

// Guard enforces a provider's declared limits.
type Guard struct {
	decl Declaration
	now  func() time.Time

	mu        sync.Mutex
	buckets   map[Window]*bucket
	remaining map[Window]int
	cooldown  time.Time
	cache     map[string]cacheEntry
}

func NewGuard(decl Declaration) *Guard {
	return newGuardAt(decl, time.Now)
}

func newGuardAt(decl Declaration, now func() time.Time) *Guard {
	g := &Guard{
		decl:      decl,
		now:       now,
		buckets:   make(map[Window]*bucket),
		remaining: make(map[Window]int),
		cache:     make(map[string]cacheEntry),
	}
	start := now()
	for window, limit := range decl.Limits() {
		g.buckets[window] = &bucket{capacity: float64(limit), tokens: float64(limit), last: start}
	}
	return g
}

// WrapHTTP wraps an http.Client with rate-limit enforcement.
func WrapHTTP(decl Declaration, base *http.Client) *http.Client {
	return NewGuard(decl).Client(base)
}

// Client returns a copy of base whose transport is guarded by g.
func (g *Guard) Client(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{base: transport, guard: g}
	return &client
}

func (g *Guard) ShouldCall() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.decl.HasLimits() {
		return Decision{Allowed: false, Reason: "disabled"}
	}
	if now.Before(g.cooldown) {
		return Decision{Allowed: false, Reason: "cooldown", RetryAt: g.cooldown}
	}
	for window, remaining := range g.remaining {
		if remaining <= 0 {
			return Decision{Allowed: false, Reason: "budget " + window.String()}
		}
	}
	// Every bucket must hold a token before any is spent.
	for window, b := range g.buckets {
		if b.capacity <= 0 {
			return Decision{Allowed: false, Reason: "disabled"}
		}
		b.refill(now, window.Duration())
		if b.tokens < 1 {
			return Decision{Allowed: false, Reason: "budget " + window.String(), RetryAt: b.retryAt(now, window.Duration())}
		}
	}
	for _, b := range g.buckets {
		b.tokens--
	}
	for window := range g.remaining {
		g.remaining[window]--
	}
	return Decision{Allowed: true}
}

// RecordResponse folds response status and budget headers into the guard.
func (g *Guard) RecordResponse(status int, headers http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	provider := g.decl.ProviderName()
	lastStatusGauge.WithLabelValues(provider).Set(float64(status))

	cfg := g.decl.Headers()
	if retry := headerInt(headers, cfg.RetryAfter); retry > 0 {
		g.cooldown = g.now().Add(time.Duration(retry) * time.Second)
		retryAfterGauge.WithLabelValues(provider).Set(float64(retry))
	} else if status == http.StatusTooManyRequests {
		g.cooldown = g.now().Add(time.Minute)
		retryAfterGauge.WithLabelValues(provider).Set(60)
	}

	record := func(window Window, value int) {
		if value < 0 {
			return
		}
		g.remaining[window] = value
		remainingGauge.WithLabelValues(provider, window.String()).Set(float64(value))
	}
	record(Minute, headerInt(headers, cfg.RemainingMinute))
	record(Day, headerInt(headers, cfg.RemainingDay))
}

// CooldownUntil reports the end of the current cooldown, if any.
func (g *Guard) CooldownUntil() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cooldown
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	decision := rt.guard.ShouldCall()
	if !decision.Allowed {
		provider := rt.guard.decl.ProviderName()
		if cached := rt.guard.cachedResponse(req); cached != nil {
			blockedTotal.WithLabelValues(provider, decision.Reason, "true").Inc()
			return cached, nil
		}
		blockedTotal.WithLabelValues(provider, decision.Reason, "false").Inc()
		return nil, RateLimitError{
			Provider: rt.guard.decl.ProviderName(),
			Reason:   decision.Reason,
			RetryAt:  decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	rt.guard.RecordResponse(resp.StatusCode, resp.Header)
	return rt.guard.maybeCache(req, resp)
}

func cacheable(req *http.Request) bool {
	return req.Method == http.MethodGet || req.Method == http.MethodHead
}

func (g *Guard) cachedResponse(req *http.Request) *http.Response {
	if g.decl.CacheTTL() <= 0 || !cacheable(req) {
		return nil
	}
	g.mu.Lock()
	entry, ok := g.cache[cacheKey(req)]
	g.mu.Unlock()
	if !ok || g.now().After(entry.expires) {
		return nil
	}
	return cloneResponse(req, entry.status, entry.header, entry.body)
}

func (g *Guard) maybeCache(req *http.Request, resp *http.Response) (*http.Response, error) {
	if g.decl.CacheTTL() <= 0 || !cacheable(req) || resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	now := g.now()
	g.mu.Lock()
	for key, entry := range g.cache {
		if now.After(entry.expires) {
			delete(g.cache, key)
		}
	}
	g.cache[cacheKey(req)] = cacheEntry{
		status:  resp.StatusCode,
		header:  resp.Header.Clone(),
		body:    body,
		expires: now.Add(g.decl.CacheTTL()),
	}
	g.mu.Unlock()

	return cloneResponse(req, resp.StatusCode, resp.Header, body), nil
}

func headerInt(h http.Header, key string) int {
	if key == "" {
		return -1
	}
	value := h.Get(key)
	if value == "" {
		return -1
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return -1
	}
	return parsed
}

// Only bodiless requests are cached; each account has its own guard.
func cacheKey(req *http.Request) string {
	return req.Method + " " + req.URL.String()
}

func cloneResponse(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:        header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
