package executor

import (
	"strings"
	"sync"
	"time"

	"github.com/toseekandfind/multi-agent-sandbox/internal/apperr"
)

// WorkerSignal is a downstream health signal extracted from one
// Strategy.Execute attempt, adapted from the teacher's
// internal/backpressure.WorkerSignal.
type WorkerSignal string

const (
	SignalOK           WorkerSignal = "ok"
	SignalRateLimited  WorkerSignal = "rate_limited"
	SignalSlowResponse WorkerSignal = "slow_response"
	SignalAPIError     WorkerSignal = "api_error"
)

var rateLimitMarkers = []string{"rate limit", "429", "quota exceeded", "too many requests"}

var apiErrorMarkers = []string{"overloaded", "temporarily unavailable", "connection reset", "502", "503"}

// Classify inspects one execution attempt's result, error, and wall
// time and reduces them to a single WorkerSignal, the way the
// teacher's worker/executor.go scans agent output for the same
// markers tmuxproc.transientMarkers retries on. duration and
// slowThreshold are both zero-value safe: a zero slowThreshold never
// classifies SignalSlowResponse.
func Classify(result Result, err error, duration, slowThreshold time.Duration) WorkerSignal {
	text := strings.ToLower(result.ResultText)
	if err != nil {
		text += " " + strings.ToLower(err.Error())
	}
	if containsAny(text, rateLimitMarkers) {
		return SignalRateLimited
	}
	if containsAny(text, apiErrorMarkers) || (err != nil && apperr.KindOf(err) == apperr.TransientBackend) {
		return SignalAPIError
	}
	if slowThreshold > 0 && duration >= slowThreshold {
		return SignalSlowResponse
	}
	return SignalOK
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// ControllerConfig tunes a Controller, mirroring the teacher's
// backpressure.ControllerConfig minus the concurrency-spawn fields:
// this orchestrator's dispatch engine runs a fixed worker pool rather
// than spawning workers on demand, so the only knob it needs from
// backpressure state is how much longer to make the next retry wait.
type ControllerConfig struct {
	RateLimitBackoff   time.Duration
	MaxBackoff         time.Duration
	SlowThreshold      time.Duration
	SlowCountThreshold int
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	if c.RateLimitBackoff <= 0 {
		c.RateLimitBackoff = 30 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.SlowThreshold <= 0 {
		c.SlowThreshold = 10 * time.Second
	}
	if c.SlowCountThreshold <= 0 {
		c.SlowCountThreshold = 3
	}
	return c
}

// Controller tracks downstream health across attempts and widens the
// dispatch engine's retry backoff on sustained rate-limiting or
// slowness, adapted from the teacher's backpressure.Controller. It
// drops CanSpawn/WorkerStarted/WorkerFinished and the maxInFlight
// concurrency-reduction path entirely, since nothing in this
// orchestrator spawns workers on a per-attempt basis to throttle;
// ExtraDelay is the only thing the dispatch engine consults.
type Controller struct {
	mu sync.Mutex

	config ControllerConfig

	rateLimitUntil    time.Time
	consecutiveSlow   int
	currentBackoff    time.Duration
	backoffMultiplier float64
}

// NewController returns a Controller ready for OnSignal.
func NewController(cfg ControllerConfig) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{
		config:            cfg,
		currentBackoff:    cfg.RateLimitBackoff,
		backoffMultiplier: 2.0,
	}
}

// OnSignal folds one attempt's WorkerSignal into the controller's
// state, per spec.md's "widen retry backoff on rate-limit/slow-response
// detection" rule.
func (c *Controller) OnSignal(sig WorkerSignal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch sig {
	case SignalRateLimited:
		c.rateLimitUntil = time.Now().Add(c.currentBackoff)
		c.currentBackoff = time.Duration(float64(c.currentBackoff) * c.backoffMultiplier)
		if c.currentBackoff > c.config.MaxBackoff {
			c.currentBackoff = c.config.MaxBackoff
		}

	case SignalSlowResponse:
		c.consecutiveSlow++

	case SignalAPIError:
		// Transient API errors don't by themselves widen backoff; the
		// dispatch engine's own bounded-attempt backoff already covers
		// them.

	case SignalOK:
		c.consecutiveSlow = 0
		c.currentBackoff = c.config.RateLimitBackoff
	}
}

// ExtraDelay returns how much longer than the dispatch engine's own
// exponential backoff the next retry should wait: the remaining
// rate-limit backoff window, or a fraction of it once consecutive slow
// responses cross SlowCountThreshold.
func (c *Controller) ExtraDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remaining := time.Until(c.rateLimitUntil); remaining > 0 {
		return remaining
	}
	if c.consecutiveSlow >= c.config.SlowCountThreshold {
		return c.config.SlowThreshold
	}
	return 0
}

// Stats reports current controller state for observability.
type Stats struct {
	InBackoff       bool
	BackoffUntil    time.Time
	ConsecutiveSlow int
}

// SlowThreshold returns the response-time threshold Classify should
// treat as slow for this controller's configuration.
func (c *Controller) SlowThreshold() time.Duration {
	return c.config.SlowThreshold
}

// Stats returns a snapshot of the controller's state.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		InBackoff:       time.Now().Before(c.rateLimitUntil),
		BackoffUntil:    c.rateLimitUntil,
		ConsecutiveSlow: c.consecutiveSlow,
	}
}
