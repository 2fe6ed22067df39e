// Package ratelimit provides per-source token-bucket admission control for
// outbound fetches, with adaptive throttling driven by tier-failure reports.
package ratelimit

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrAcquireTimeout is returned when a token could not be acquired before
// the caller's deadline. Transient: the caller may retry at its discretion.
var ErrAcquireTimeout = eris.New("ratelimit: acquire timed out")

// Options configures a Limiter.
type Options struct {
	// RequestsPerMinute is the default refill rate per source.
	RequestsPerMinute float64

	// Burst is the bucket capacity per source.
	Burst int

	// AcquireTimeout bounds Acquire when the caller's context carries no
	// earlier deadline.
	AcquireTimeout time.Duration

	// PerSource overrides RequestsPerMinute for specific source hosts.
	PerSource map[string]float64
}

// recoveryWindow is how long a throttled source takes to climb back to its
// configured rate once failures stop.
const recoveryWindow = 5 * time.Minute

// sourceBucket is one source's adaptive token bucket. The refill rate
// ratchets down on reported tier failures and recovers linearly over the
// recovery window, whether or not the source keeps being fetched.
type sourceBucket struct {
	mu            sync.Mutex
	limiter       *rate.Limiter
	initialRate   rate.Limit
	minRate       rate.Limit
	throttledRate rate.Limit
	throttledAt   time.Time
}

func newSourceBucket(perMinute float64, burst int) *sourceBucket {
	limit := rate.Limit(perMinute / 60.0)
	return &sourceBucket{
		limiter:     rate.NewLimiter(limit, burst),
		initialRate: limit,
		minRate:     limit / 4,
	}
}

// effective computes the refill rate at the given instant, applying the
// linear ramp from the last throttle point back to the initial rate.
// Callers must hold mu.
func (b *sourceBucket) effective(now time.Time) rate.Limit {
	if b.throttledAt.IsZero() {
		return b.initialRate
	}
	elapsed := now.Sub(b.throttledAt)
	if elapsed >= recoveryWindow {
		b.throttledAt = time.Time{}
		return b.initialRate
	}
	ramp := float64(b.initialRate-b.throttledRate) * float64(elapsed) / float64(recoveryWindow)
	return b.throttledRate + rate.Limit(ramp)
}

// throttle halves the effective refill rate, flooring at a quarter of the
// initial rate, and restarts the recovery ramp from that point.
func (b *sourceBucket) throttle(now time.Time) rate.Limit {
	b.mu.Lock()
	defer b.mu.Unlock()
	newRate := b.effective(now) * 0.5
	if newRate < b.minRate {
		newRate = b.minRate
	}
	b.throttledRate = newRate
	b.throttledAt = now
	b.limiter.SetLimit(newRate)
	return newRate
}

// refresh applies the recovery ramp to the underlying limiter and returns
// the rate in effect.
func (b *sourceBucket) refresh(now time.Time) rate.Limit {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.effective(now)
	b.limiter.SetLimit(r)
	return r
}

// Limiter hands out fetch tokens per source host. Safe for concurrent use
// by all in-flight pipeline instances; it is one of the only two pieces of
// shared mutable state in a batch run (the other is the capture cache).
type Limiter struct {
	opts    Options
	mu      sync.Mutex
	buckets map[string]*sourceBucket
	nowFunc func() time.Time
}

// New creates a Limiter with the given options.
func New(opts Options) *Limiter {
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 30
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 30 * time.Second
	}
	return &Limiter{
		opts:    opts,
		buckets: make(map[string]*sourceBucket),
		nowFunc: time.Now,
	}
}

// Source derives the rate-limit key from a URL: the lowercased host with
// any www prefix stripped, so all URLs of a domain share one bucket.
func Source(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// Acquire blocks until a token is available for the source or the deadline
// elapses, in which case it returns ErrAcquireTimeout.
func (l *Limiter) Acquire(ctx context.Context, source string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.AcquireTimeout)
		defer cancel()
	}

	b := l.bucket(source)
	b.refresh(l.nowFunc())
	if err := b.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return eris.Wrapf(ErrAcquireTimeout, "source %s", source)
		}
		return eris.Wrapf(err, "ratelimit: acquire %s", source)
	}
	return nil
}

// ReportFailure throttles a source after the orchestrator sees a tier
// failure burst. The rate then recovers linearly over the recovery window
// even when no further fetches hit the source.
func (l *Limiter) ReportFailure(source string) {
	newRate := l.bucket(source).throttle(l.nowFunc())
	zap.L().Warn("ratelimit: throttling source after fetch failures",
		zap.String("source", source),
		zap.Float64("requests_per_sec", float64(newRate)),
	)
}

// ReportSuccess applies any pending recovery to the source's limiter so a
// clean fetch takes effect immediately rather than on the next acquire.
func (l *Limiter) ReportSuccess(source string) {
	l.bucket(source).refresh(l.nowFunc())
}

// Rate returns the current refill rate for a source, in events per second.
func (l *Limiter) Rate(source string) float64 {
	return float64(l.bucket(source).refresh(l.nowFunc()))
}

func (l *Limiter) bucket(source string) *sourceBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[source]
	if !ok {
		perMinute := l.opts.RequestsPerMinute
		if override, found := l.opts.PerSource[source]; found && override > 0 {
			perMinute = override
		}
		b = newSourceBucket(perMinute, l.opts.Burst)
		l.buckets[source] = b
	}
	return b
}
