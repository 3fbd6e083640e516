package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmitDeliversToSubscribedEnabledWebhook(t *testing.T) {
	var received int32
	var gotEvent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		gotEvent = string(p.Event)
		atomic.AddInt32(&received, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewManager(testLogger())
	m.Start(1)
	defer m.Stop(context.Background())

	require.NoError(t, m.Register(&Webhook{
		ID: "wh-1", TenantID: "acme", URL: srv.URL, Enabled: true,
		Events: []EventType{EventJobSucceeded},
	}))

	m.Emit("acme", EventJobSucceeded, map[string]any{"job_id": "j-1"})

	require.Eventually(t, func() bool { return atomic.LoadInt32(&received) == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, string(EventJobSucceeded), gotEvent)
}

func TestEmitSkipsDisabledWebhook(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
	}))
	defer srv.Close()

	m := NewManager(testLogger())
	m.Start(1)
	defer m.Stop(context.Background())

	require.NoError(t, m.Register(&Webhook{ID: "wh-1", TenantID: "acme", URL: srv.URL, Enabled: false}))
	m.Emit("acme", EventJobSucceeded, nil)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&received))
}

func TestEmitSkipsOtherTenants(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
	}))
	defer srv.Close()

	m := NewManager(testLogger())
	m.Start(1)
	defer m.Stop(context.Background())

	require.NoError(t, m.Register(&Webhook{ID: "wh-1", TenantID: "other-tenant", URL: srv.URL, Enabled: true}))
	m.Emit("acme", EventJobSucceeded, nil)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&received))
}

func TestSignatureVerification(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	sig := sign(body, "s3cr3t")
	require.True(t, VerifySignature(body, sig, "s3cr3t"))
	require.False(t, VerifySignature(body, sig, "wrong"))
}

func TestGetDeliveryHistoryTracksResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewManager(testLogger())
	m.Start(1)
	defer m.Stop(context.Background())

	require.NoError(t, m.Register(&Webhook{ID: "wh-1", TenantID: "acme", URL: srv.URL, Enabled: true}))
	m.Emit("acme", EventRunCompleted, nil)

	require.Eventually(t, func() bool {
		return len(m.GetDeliveryHistory(10)) == 1
	}, time.Second, 10*time.Millisecond)

	history := m.GetDeliveryHistory(10)
	require.True(t, history[0].Success)
}
