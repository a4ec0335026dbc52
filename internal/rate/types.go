package rate

import "time"

// Window represents a provider rate-limit bucket.
type Window int

const (
	Minute Window = iota
	Hour
	Day
)

func (w Window) String() string {
	switch w {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Day:
		return "day"
	default:
		return "unknown"
	}
}

func (w Window) Duration() time.Duration {
	switch w {
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Headers names the response headers a provider reports its budget in.
// Empty names are ignored.
type Headers struct {
	RemainingMinute string
	RemainingDay    string
	RetryAfter      string
}

// RetryAfterOnly is for providers that only signal throttling via Retry-After.
func RetryAfterOnly() Headers {
	return Headers{RetryAfter: "Retry-After"}
}

// Declaration defines a provider's rate limits and header mapping.
type Declaration struct {
	provider string
	limits   map[Window]int
	cacheTTL time.Duration
	headers  Headers
}

// Provider creates a new declaration for a provider.
func Provider(name string) Declaration {
	return Declaration{provider: name}
}

func (d Declaration) ProviderName() string {
	return d.provider
}

func (d Declaration) MaxRequestsPer(window Window, limit int) Declaration {
	limits := make(map[Window]int, len(d.limits)+1)
	for w, l := range d.limits {
		limits[w] = l
	}
	limits[window] = limit
	d.limits = limits
	return d
}

// CacheFor keeps successful GET responses so they can be replayed while
// the guard is blocking calls.
func (d Declaration) CacheFor(ttl time.Duration) Declaration {
	d.cacheTTL = ttl
	return d
}

func (d Declaration) ReadHeaders(headers Headers) Declaration {
	d.headers = headers
	return d
}

func (d Declaration) Limits() map[Window]int {
	return d.limits
}

func (d Declaration) CacheTTL() time.Duration {
	return d.cacheTTL
}

func (d Declaration) Headers() Headers {
	return d.headers
}

func (d Declaration) HasLimits() bool {
	return len(d.limits) > 0
}

// RateLimited is the compile-time contract for plugins that declare limits.
type RateLimited interface {
	RateLimits() Declaration
}
