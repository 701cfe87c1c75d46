package governor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	apperrors "github.com/shelfmark/shelfmark/backend/internal/errors"
	"github.com/shelfmark/shelfmark/backend/internal/logging"
)

// loadWindow is how far back the adaptive shedder looks when judging
// latency and error rate.
const loadWindow = 30 * time.Second

// ThrottleConfig tunes the admission controller.
type ThrottleConfig struct {
	MaxActiveConns      int64
	MaxAvgLatencyMillis float64
	MaxErrorRate        float64
	UserRatePerSec      float64
	UserRateBurst       int
}

// Throttle is the admission controller for sync traffic. It combines a
// hard cap on concurrent requests, a token bucket per user, and an
// adaptive shedder that watches recent latency and error rate.
type Throttle struct {
	cfg ThrottleConfig

	active int64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	samples  []sample

	metrics *Metrics
}

type sample struct {
	at      time.Time
	latency time.Duration
	failed  bool
}

// NewThrottle creates the admission controller. metrics may be nil.
func NewThrottle(cfg ThrottleConfig, metrics *Metrics) *Throttle {
	if cfg.MaxActiveConns <= 0 {
		cfg.MaxActiveConns = 64
	}
	if cfg.UserRatePerSec <= 0 {
		cfg.UserRatePerSec = 5
	}
	if cfg.UserRateBurst <= 0 {
		cfg.UserRateBurst = 10
	}
	return &Throttle{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
		metrics:  metrics,
	}
}

// Admit decides whether a sync request may proceed. On success the
// caller must invoke the returned done func exactly once with the
// request outcome.
func (t *Throttle) Admit(userID string) (done func(err error), admitErr error) {
	if !t.limiterFor(userID).Allow() {
		t.countThrottle("user_rate")
		return nil, apperrors.Throttled(apperrors.ErrSyncThrottled,
			"too many sync requests, slow down", time.Second.Milliseconds())
	}

	active := atomic.AddInt64(&t.active, 1)
	if active > t.cfg.MaxActiveConns {
		atomic.AddInt64(&t.active, -1)
		t.countThrottle("max_conns")
		return nil, apperrors.Throttled(apperrors.ErrSyncThrottled,
			"server is at capacity, retry shortly", (2 * time.Second).Milliseconds())
	}

	if reason := t.overloaded(); reason != "" {
		atomic.AddInt64(&t.active, -1)
		t.countThrottle(reason)
		return nil, apperrors.Throttled(apperrors.ErrSyncThrottled,
			"server is shedding load, retry shortly", (5 * time.Second).Milliseconds())
	}

	if t.metrics != nil {
		t.metrics.ActiveSyncs.Set(float64(active))
	}

	start := time.Now()
	return func(err error) {
		latency := time.Since(start)
		remaining := atomic.AddInt64(&t.active, -1)
		t.record(latency, err != nil)
		if t.metrics != nil {
			t.metrics.ActiveSyncs.Set(float64(remaining))
			t.metrics.SyncLatency.Observe(latency.Seconds())
		}
	}, nil
}

func (t *Throttle) limiterFor(userID string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	lim, ok := t.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(t.cfg.UserRatePerSec), t.cfg.UserRateBurst)
		t.limiters[userID] = lim
	}
	return lim
}

// overloaded evaluates the recent sample window against the configured
// ceilings. Returns the shed reason, or empty when healthy.
func (t *Throttle) overloaded() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked()

	if len(t.samples) < 10 {
		// Not enough signal to shed on.
		return ""
	}

	var totalLatency time.Duration
	failures := 0
	for _, s := range t.samples {
		totalLatency += s.latency
		if s.failed {
			failures++
		}
	}

	avgMillis := float64(totalLatency.Milliseconds()) / float64(len(t.samples))
	if t.cfg.MaxAvgLatencyMillis > 0 && avgMillis > t.cfg.MaxAvgLatencyMillis {
		return "latency"
	}

	errRate := float64(failures) / float64(len(t.samples))
	if t.cfg.MaxErrorRate > 0 && errRate > t.cfg.MaxErrorRate {
		return "error_rate"
	}
	return ""
}

func (t *Throttle) record(latency time.Duration, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, sample{at: time.Now(), latency: latency, failed: failed})
	t.pruneLocked()
}

func (t *Throttle) pruneLocked() {
	cutoff := time.Now().Add(-loadWindow)
	i := 0
	for i < len(t.samples) && t.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.samples = t.samples[i:]
	}
}

func (t *Throttle) countThrottle(reason string) {
	if t.metrics != nil {
		t.metrics.ThrottledTotal.WithLabelValues(reason).Inc()
	}
	logging.Debug("sync request throttled", map[string]interface{}{"reason": reason})
}

// Metrics are the governor's prometheus instruments.
type Metrics struct {
	SyncTotal      *prometheus.CounterVec
	ThrottledTotal *prometheus.CounterVec
	ActiveSyncs    prometheus.Gauge
	SyncLatency    prometheus.Histogram
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
}

// NewMetrics builds and registers the governor metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SyncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfmark_sync_requests_total",
			Help: "Sync requests by direction and outcome.",
		}, []string{"direction", "outcome"}),
		ThrottledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfmark_sync_throttled_total",
			Help: "Sync requests rejected by the governor, by reason.",
		}, []string{"reason"}),
		ActiveSyncs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shelfmark_sync_active",
			Help: "Sync requests currently in flight.",
		}),
		SyncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shelfmark_sync_duration_seconds",
			Help:    "Sync request latency.",
			Buckets: prometheus.DefBuckets,
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shelfmark_pull_cache_hits_total",
			Help: "Pull responses served from cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shelfmark_pull_cache_misses_total",
			Help: "Pull requests that missed the cache.",
		}),
	}
	reg.MustRegister(m.SyncTotal, m.ThrottledTotal, m.ActiveSyncs, m.SyncLatency, m.CacheHits, m.CacheMisses)
	return m
}
