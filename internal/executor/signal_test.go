package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toseekandfind/multi-agent-sandbox/internal/apperr"
)

func TestClassifyRateLimitMarker(t *testing.T) {
	sig := Classify(Result{ResultText: "error: 429 too many requests"}, nil, 0, 0)
	require.Equal(t, SignalRateLimited, sig)
}

func TestClassifyAPIErrorFromTransientKind(t *testing.T) {
	err := apperr.New(apperr.TransientBackend, "upstream blip")
	sig := Classify(Result{}, err, 0, 0)
	require.Equal(t, SignalAPIError, sig)
}

func TestClassifySlowResponse(t *testing.T) {
	sig := Classify(Result{ResultText: "ok"}, nil, 20*time.Second, 10*time.Second)
	require.Equal(t, SignalSlowResponse, sig)
}

func TestClassifyOK(t *testing.T) {
	sig := Classify(Result{ResultText: "all good"}, nil, time.Second, 10*time.Second)
	require.Equal(t, SignalOK, sig)
}

func TestControllerWidensBackoffOnRateLimit(t *testing.T) {
	c := NewController(ControllerConfig{RateLimitBackoff: 100 * time.Millisecond, MaxBackoff: time.Second})
	require.Equal(t, time.Duration(0), c.ExtraDelay())

	c.OnSignal(SignalRateLimited)
	extra := c.ExtraDelay()
	require.Greater(t, extra, time.Duration(0))
	require.LessOrEqual(t, extra, 200*time.Millisecond)
}

func TestControllerRecoversOnOK(t *testing.T) {
	c := NewController(ControllerConfig{RateLimitBackoff: 10 * time.Millisecond})
	c.OnSignal(SignalRateLimited)
	time.Sleep(15 * time.Millisecond)
	require.Equal(t, time.Duration(0), c.ExtraDelay())
	c.OnSignal(SignalOK)
	require.False(t, c.Stats().InBackoff)
}

func TestControllerConsecutiveSlowWidensDelay(t *testing.T) {
	c := NewController(ControllerConfig{SlowCountThreshold: 2, SlowThreshold: 5 * time.Second})
	c.OnSignal(SignalSlowResponse)
	require.Equal(t, time.Duration(0), c.ExtraDelay())
	c.OnSignal(SignalSlowResponse)
	require.Equal(t, 5*time.Second, c.ExtraDelay())
}
