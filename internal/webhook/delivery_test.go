package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/session"
)

func newTestEngine(t *testing.T, url string, retries int) *Engine {
	t.Helper()
	engine := NewEngine(Config{
		URLs:          []string{url},
		Secret:        "s3cret",
		Workers:       1,
		RetryLimit:    retries,
		RetryDelay:    time.Millisecond,
		AllowInsecure: true,
	})
	require.True(t, engine.Enabled())
	return engine
}

func TestEngineDeliversSignedTransition(t *testing.T) {
	received := make(chan *http.Request, 1)
	bodies := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies <- body
		received <- r
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL, 3)
	engine.Observe(session.Transition{
		UserID: "u1",
		From:   session.StatusReconnecting,
		To:     session.StatusConnected,
		At:     time.Now(),
	})

	var req *http.Request
	select {
	case req = <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not delivered")
	}
	body := <-bodies

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, req.Header.Get("X-Webhook-Signature"))
	assert.Equal(t, want, req.Header.Get("X-Hub-Signature-256"))
	assert.Equal(t, string(EventSessionConnected), req.Header.Get("X-Webhook-Event"))

	var event WebhookEvent
	require.NoError(t, json.Unmarshal(body, &event))
	assert.Equal(t, EventSessionConnected, event.EventType)
	assert.Equal(t, "u1", event.UserID)
	assert.Equal(t, "reconnecting", event.Data["from"])
	assert.NotContains(t, event.Data, "cause")

	require.NoError(t, engine.Shutdown(context.Background()))
	assert.EqualValues(t, 1, engine.Stats().Delivered)
}

func TestEngineRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL, 3)
	engine.Observe(session.Transition{UserID: "u1", To: session.StatusLoggedOut, Cause: session.CauseLoggedOut, At: time.Now()})
	require.NoError(t, engine.Shutdown(context.Background()))

	assert.EqualValues(t, 3, calls.Load())
	stats := engine.Stats()
	assert.EqualValues(t, 1, stats.Delivered)
	assert.EqualValues(t, 0, stats.Failed)
}

func TestEngineGivesUpAfterRetryLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL, 2)
	engine.Observe(session.Transition{UserID: "u1", To: session.StatusFailed, Cause: session.CauseRetryExhausted, At: time.Now()})
	require.NoError(t, engine.Shutdown(context.Background()))

	assert.EqualValues(t, 2, calls.Load())
	assert.EqualValues(t, 1, engine.Stats().Failed)
}

func TestEngineWithoutTargetsIsDisabled(t *testing.T) {
	engine := NewEngine(Config{URLs: []string{"", "  "}})
	assert.False(t, engine.Enabled())
	engine.Observe(session.Transition{UserID: "u1", To: session.StatusConnected})
	require.NoError(t, engine.Shutdown(context.Background()))
	assert.Equal(t, Stats{}, engine.Stats())
}

func TestEngineObserveAfterShutdownIsIgnored(t *testing.T) {
	engine := NewEngine(Config{URLs: []string{"http://127.0.0.1:1"}, AllowInsecure: true})
	require.NoError(t, engine.Shutdown(context.Background()))
	engine.Observe(session.Transition{UserID: "u1", To: session.StatusConnected})
	assert.EqualValues(t, 0, engine.Stats().Dropped)
}

func TestEngineDispatchDuringShutdown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	engine := newTestEngine(t, server.URL, 1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				engine.Dispatch(WebhookEvent{EventType: EventSessionConnected, UserID: "u1"})
			}
		}()
	}
	require.NoError(t, engine.Shutdown(context.Background()))
	wg.Wait()

	before := engine.Stats().Dropped
	engine.Dispatch(WebhookEvent{EventType: EventSessionConnected, UserID: "u1"})
	assert.Equal(t, before+1, engine.Stats().Dropped)
	assert.NoError(t, engine.Shutdown(context.Background()))
}

func TestValidateURL(t *testing.T) {
	strict := &Engine{}
	assert.NoError(t, strict.validateURL("https://hooks.example.com/wa"))
	for _, raw := range []string{
		"http://hooks.example.com/wa",
		"https://localhost/wa",
		"https://127.0.0.1/wa",
		"https://10.1.2.3/wa",
		"https://192.168.0.10/wa",
		"https://172.20.0.1/wa",
		"https:///nohost",
	} {
		assert.Error(t, strict.validateURL(raw), raw)
	}

	lax := &Engine{allowAny: true}
	assert.NoError(t, lax.validateURL("http://127.0.0.1:8080/wa"))
	assert.Error(t, lax.validateURL("ftp://127.0.0.1/wa"))
}
