// Package httpapi reads from and posts to JSON HTTP APIs.
//
// Requests pass through a circuit breaker and are retried with exponential
// backoff on transport errors, 429 and 5xx responses. An optional token
// bucket limits the request rate per endpoint. Client-credentials OAuth2 and
// HTTP/2 are enabled from the endpoint settings.
package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/relay/pkg/adapter"
	"github.com/ajitpratap0/relay/pkg/config"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/logger"
	"github.com/ajitpratap0/relay/pkg/observability"
)

// Kind is the registry kind of the HTTP adapter
const Kind = "http"

const (
	defaultTimeout          = 30 * time.Second
	defaultBreakerThreshold = 5
	breakerOpenFor          = 30 * time.Second
	maxResponseBytes        = 64 << 20
)

// Adapter is one API endpoint
type Adapter struct {
	endpoint   *url.URL
	method     string
	dataPath   string
	headers    map[string]string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	maxRetries uint64
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// Option configures an Adapter
type Option func(*Adapter)

// WithBackOff replaces the exponential retry policy
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(a *Adapter) { a.newBackOff = fn }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// Factory builds an HTTP adapter from config.HTTPSettings. The integration
// config supplies endpoint (a path under base_url), optional method, query,
// headers and data_path (a gjson path selecting the rows in a response).
func Factory(ctx context.Context, spec adapter.Spec) (adapter.Adapter, error) {
	var settings config.HTTPSettings
	if err := config.Decode(spec.Settings, &settings); err != nil {
		return nil, err
	}
	return New(ctx, settings, spec.Config)
}

// New builds an HTTP adapter
func New(ctx context.Context, settings config.HTTPSettings, cfg map[string]interface{}, opts ...Option) (*Adapter, error) {
	spec := adapter.Spec{Config: cfg}

	base := settings.BaseURL
	if u := spec.String("url"); u != "" {
		base = u
	}
	if base == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "http adapter requires base_url")
	}
	endpoint, err := url.Parse(base)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid base_url")
	}
	if p := spec.String("endpoint"); p != "" {
		endpoint = endpoint.JoinPath(p)
	}
	if q, ok := cfg["query"]; ok {
		values := endpoint.Query()
		for k, v := range cast.ToStringMapString(q) {
			values.Set(k, v)
		}
		endpoint.RawQuery = values.Encode()
	}

	a := &Adapter{
		endpoint:   endpoint,
		method:     http.MethodPost,
		dataPath:   spec.String("data_path"),
		headers:    make(map[string]string),
		maxRetries: settings.MaxRetries,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logger:     logger.Named("http_adapter"),
	}
	if m := spec.String("method"); m != "" {
		a.method = m
	}
	for k, v := range settings.Headers {
		a.headers[k] = v
	}
	for k, v := range cast.ToStringMapString(cfg["headers"]) {
		a.headers[k] = v
	}
	for _, opt := range opts {
		opt(a)
	}

	a.client = newClient(ctx, settings, a.logger)

	if settings.RateLimit > 0 {
		burst := settings.RateBurst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(settings.RateLimit), burst)
	}

	threshold := settings.BreakerThreshold
	if threshold == 0 {
		threshold = defaultBreakerThreshold
	}
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    endpoint.Host,
		Timeout: breakerOpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			var se *StatusError
			return err == nil || (errors.As(err, &se) && !se.Retryable())
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.logger.Warn("circuit breaker state changed",
				zap.String("host", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return a, nil
}

// newClient builds the transport, upgrading to HTTP/2 and wrapping it with
// OAuth2 client credentials when configured
func newClient(ctx context.Context, settings config.HTTPSettings, log *zap.Logger) *http.Client {
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if settings.HTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			log.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}
	client := &http.Client{Transport: transport, Timeout: timeout}

	if o := settings.OAuth; o != nil && o.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			TokenURL:     o.TokenURL,
			Scopes:       o.Scopes,
		}
		client = cc.Client(context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, client))
		client.Timeout = timeout
	}
	return client
}

func (a *Adapter) Kind() string                              { return Kind }
func (a *Adapter) SourceCapability() adapter.Capability      { return adapter.HTTPGet }
func (a *Adapter) DestinationCapability() adapter.Capability { return adapter.HTTPPost }

// Close releases idle connections
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

// Get fetches the endpoint and decodes the JSON response. With data_path
// set only the selected part of the document is returned.
func (a *Adapter) Get(ctx context.Context) (interface{}, error) {
	body, err := a.do(ctx, http.MethodGet, nil)
	if err != nil {
		return nil, errors.Extraction(err, "http get failed").WithDetail("url", a.endpoint.String())
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	if a.dataPath != "" {
		res := gjson.GetBytes(body, a.dataPath)
		if !res.Exists() {
			return nil, nil
		}
		body = []byte(res.Raw)
	}

	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Extraction(err, "response is not valid JSON").WithDetail("url", a.endpoint.String())
	}
	return payload, nil
}

// Post sends payload as a JSON body
func (a *Adapter) Post(ctx context.Context, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Load(err, "failed to encode payload")
	}
	if _, err := a.do(ctx, a.method, body); err != nil {
		return errors.Load(err, "http post failed").WithDetail("url", a.endpoint.String())
	}
	return nil
}

// do performs a request through the breaker, retrying transient failures
func (a *Adapter) do(ctx context.Context, method string, body []byte) ([]byte, error) {
	var out []byte
	attempts := 0
	op := func() error {
		attempts++
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		res, err := a.breaker.Execute(func() (interface{}, error) {
			return a.attempt(ctx, method, body)
		})
		if err != nil {
			var se *StatusError
			switch {
			case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
				return backoff.Permanent(err)
			case errors.As(err, &se) && !se.Retryable():
				return backoff.Permanent(err)
			}
			a.logger.Debug("http attempt failed",
				zap.String("method", method),
				zap.Int("attempt", attempts),
				zap.Error(err))
			return err
		}
		out = res.([]byte)
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(a.newBackOff(), a.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Adapter) attempt(ctx context.Context, method string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.endpoint.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}
	carrier := map[string]string{}
	observability.InjectHeaders(ctx, carrier)
	for k, v := range carrier {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &StatusError{Code: resp.StatusCode, Body: snippet(data)}
	}
	return data, nil
}

// StatusError is a non-2xx/3xx response
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the request may succeed if repeated
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

func snippet(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
