package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/relay/pkg/adapter"
	"github.com/ajitpratap0/relay/pkg/config"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/table"
)

func fastRetry() Option {
	return WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) })
}

func newAdapter(t *testing.T, settings config.HTTPSettings, cfg map[string]interface{}) *Adapter {
	t.Helper()
	a, err := New(context.Background(), settings, cfg, fastRetry(), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestGetNormalizesNestedItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/contacts", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = io.WriteString(w, `{"items":[{"id":1,"email":"a@example.com"},{"id":2,"email":"b@example.com"}]}`)
	}))
	defer srv.Close()

	a := newAdapter(t, config.HTTPSettings{
		BaseURL: srv.URL + "/v1",
		Headers: map[string]string{"X-Api-Key": "secret"},
	}, map[string]interface{}{
		"endpoint": "contacts",
		"query":    map[string]interface{}{"limit": 50},
	})

	payload, err := adapter.Extract(context.Background(), a)
	require.NoError(t, err)
	frame, err := table.Normalize(payload)
	require.NoError(t, err)
	assert.Equal(t, 2, frame.Rows())
	emails, _ := frame.Column("email")
	assert.Equal(t, []interface{}{"a@example.com", "b@example.com"}, emails)
}

func TestGetWithDataPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"result":{"rows":[{"id":1}]},"meta":{"page":1}}`)
	}))
	defer srv.Close()

	a := newAdapter(t, config.HTTPSettings{BaseURL: srv.URL}, map[string]interface{}{"data_path": "result.rows"})
	payload, err := a.Get(context.Background())
	require.NoError(t, err)
	rows, ok := payload.([]interface{})
	require.True(t, ok)
	assert.Len(t, rows, 1)

	a = newAdapter(t, config.HTTPSettings{BaseURL: srv.URL}, map[string]interface{}{"data_path": "result.missing"})
	payload, err = a.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `[{"id":1}]`)
	}))
	defer srv.Close()

	a := newAdapter(t, config.HTTPSettings{BaseURL: srv.URL, MaxRetries: 3}, nil)
	payload, err := a.Get(context.Background())
	require.NoError(t, err)
	assert.Len(t, payload, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRateLimitBlocksBeyondBurst(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = io.WriteString(w, `[{"id":1}]`)
	}))
	defer srv.Close()

	a := newAdapter(t, config.HTTPSettings{BaseURL: srv.URL, RateLimit: 0.5, RateBurst: 1}, nil)
	_, err := a.Get(context.Background())
	require.NoError(t, err)

	// the next token is two seconds away, past the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = a.Get(ctx)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad filter", http.StatusBadRequest)
	}))
	defer srv.Close()

	a := newAdapter(t, config.HTTPSettings{BaseURL: srv.URL, MaxRetries: 5}, nil)
	_, err := a.Get(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExtraction))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.False(t, se.Retryable())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := newAdapter(t, config.HTTPSettings{BaseURL: srv.URL, BreakerThreshold: 2}, nil)
	for i := 0; i < 2; i++ {
		_, err := a.Get(context.Background())
		require.Error(t, err)
	}

	_, err := a.Get(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestPostBatchAndSingle(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	a := newAdapter(t, config.HTTPSettings{BaseURL: srv.URL}, map[string]interface{}{"endpoint": "/import", "method": "PUT"})
	require.NoError(t, adapter.CheckDestination(a))

	batch := []map[string]interface{}{{"id": 1}, {"id": 2}}
	require.NoError(t, a.Post(context.Background(), batch))
	require.NoError(t, a.Post(context.Background(), map[string]interface{}{"id": 3}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	assert.Len(t, bodies[0], 2)
	assert.Equal(t, map[string]interface{}{"id": float64(3)}, bodies[1])
}

func TestPostFailureIsLoadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "duplicate", http.StatusConflict)
	}))
	defer srv.Close()

	a := newAdapter(t, config.HTTPSettings{BaseURL: srv.URL}, nil)
	err := a.Post(context.Background(), map[string]interface{}{"id": 1})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeLoad))
	assert.Contains(t, err.Error(), "duplicate")
}

func TestOAuthClientCredentials(t *testing.T) {
	var tokenCalls int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"data":[{"id":1}]}`)
	}))
	defer api.Close()

	a := newAdapter(t, config.HTTPSettings{
		BaseURL: api.URL,
		OAuth: &config.OAuthSettings{
			TokenURL:     tokenSrv.URL,
			ClientID:     "relay",
			ClientSecret: "s3cret",
		},
	}, nil)

	for i := 0; i < 2; i++ {
		payload, err := a.Get(context.Background())
		require.NoError(t, err)
		assert.Contains(t, payload, "data")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls), "token is cached")
}

func TestFactoryRequiresBaseURL(t *testing.T) {
	_, err := Factory(context.Background(), adapter.Spec{Settings: map[string]interface{}{}, Config: map[string]interface{}{}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	a, err := Factory(context.Background(), adapter.Spec{
		Settings: map[string]interface{}{"base_url": "https://api.example.com", "timeout": "5s", "http2": "true"},
		Config:   map[string]interface{}{},
	})
	require.NoError(t, err)
	assert.Equal(t, adapter.HTTPGet, a.SourceCapability())
	assert.Equal(t, adapter.HTTPPost, a.DestinationCapability())
	require.NoError(t, a.Close())
}
