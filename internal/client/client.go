// Package client provides an HTTP client for the items API and a traffic
// runner that exercises every route so the service emits telemetry.
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fjacquet/items_api/internal/models"
	"github.com/fjacquet/items_api/internal/telemetry"
)

const (
	defaultTimeout        = 30 * time.Second   // Default timeout for HTTP requests
	contentType           = "application/json" // Content type for request bodies
	httpContentTypeHeader = "Content-Type"     // HTTP header name for content type
	closeTimeout          = 30 * time.Second   // Maximum wait for in-flight requests on Close

	// Retry configuration
	retryCount       = 3                      // Number of retry attempts
	retryWaitTime    = 500 * time.Millisecond // Initial wait time between retries
	retryMaxWaitTime = 5 * time.Second        // Maximum wait time between retries

	// Connection pool configuration
	maxIdleConns        = 100              // Total idle connections across all hosts
	maxIdleConnsPerHost = 20               // Idle connections per host
	idleConnTimeout     = 90 * time.Second // Timeout for idle connections

	instrumentationName = "github.com/fjacquet/items_api/client"
)

// ErrClosed is returned for requests made after Close.
var ErrClosed = errors.New("client is closed")

// StatusError reports a non-2xx response. Detail holds the service's
// {"detail": ...} message when the body carries one.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("HTTP request failed: method=%s url=%s status=%d detail=%q", e.Method, e.URL, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("HTTP request failed: method=%s url=%s status=%d", e.Method, e.URL, e.StatusCode)
}

// StatusCode returns the HTTP status carried by err, or 0 if err is not a
// *StatusError.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// Response is a completed exchange with the service.
type Response struct {
	StatusCode int
	Body       []byte
}

// ClientOption configures optional ItemsClient settings.
type ClientOption func(*clientOptions)

type clientOptions struct {
	tracerProvider   trace.TracerProvider
	propagator       propagation.TextMapPropagator
	timeout          time.Duration
	retryCount       int
	retryWaitTime    time.Duration
	retryMaxWaitTime time.Duration
	userHeader       string
	userID           string
	insecure         bool
}

func defaultClientOptions() clientOptions {
	return clientOptions{
		timeout:          defaultTimeout,
		retryCount:       retryCount,
		retryWaitTime:    retryWaitTime,
		retryMaxWaitTime: retryMaxWaitTime,
		userHeader:       models.DefaultUserHeader,
	}
}

// WithTracerProvider sets the TracerProvider for client spans.
// If not provided, tracing operations use a noop provider.
func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(o *clientOptions) {
		o.tracerProvider = tp
	}
}

// WithPropagator sets the propagator used to inject trace context into
// outgoing requests. Defaults to the global propagator.
func WithPropagator(p propagation.TextMapPropagator) ClientOption {
	return func(o *clientOptions) {
		o.propagator = p
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithRetry overrides the retry policy. A count of zero disables retries.
func WithRetry(count int, wait, maxWait time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.retryCount = count
		o.retryWaitTime = wait
		o.retryMaxWaitTime = maxWait
	}
}

// WithUser sends id in header on every request.
func WithUser(header, id string) ClientOption {
	return func(o *clientOptions) {
		o.userHeader = header
		o.userID = id
	}
}

// WithInsecureSkipVerify disables TLS certificate verification, for
// services behind self-signed certificates.
func WithInsecureSkipVerify(insecure bool) ClientOption {
	return func(o *clientOptions) {
		o.insecure = insecure
	}
}

// ItemsClient handles HTTP communication with the items API.
type ItemsClient struct {
	client     *resty.Client
	baseURL    string
	tracer     trace.Tracer
	tp         trace.TracerProvider
	propagator propagation.TextMapPropagator
	userHeader string
	userID     string

	// Connection tracking for graceful shutdown
	mu     sync.Mutex
	active sync.WaitGroup
	closed bool
}

// New creates a client for the service at baseURL (scheme://host[:port]).
//
// Requests are retried on network errors, 429 and gateway errors
// (502, 503, 504). A 500 is the service's answer and is returned as is.
//
// Example:
//
//	c := client.New("http://localhost:8000", client.WithUser("X-User-ID", "alice"))
//	defer c.Close()
//	items, err := c.ListItems(ctx)
func New(baseURL string, opts ...ClientOption) *ItemsClient {
	options := defaultClientOptions()
	for _, opt := range opts {
		opt(&options)
	}

	client := resty.New().
		SetTimeout(options.timeout).
		SetRetryCount(options.retryCount).
		SetRetryWaitTime(options.retryWaitTime).
		SetRetryMaxWaitTime(options.retryMaxWaitTime).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return isRetryableStatus(r.StatusCode())
		})

	if options.insecure {
		log.Warn("TLS certificate verification disabled")
	}

	httpClient := client.GetClient()
	httpClient.Transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: options.insecure, // #nosec G402 -- opt-in via --insecure
			MinVersion:         tls.VersionTLS12,
		},
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	tp := options.tracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	propagator := options.propagator
	if propagator == nil {
		propagator = otel.GetTextMapPropagator()
	}

	return &ItemsClient{
		client:     client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		tracer:     tp.Tracer(instrumentationName),
		tp:         tp,
		propagator: propagator,
		userHeader: options.userHeader,
		userID:     options.userID,
	}
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// BaseURL returns the service address requests are sent to.
func (c *ItemsClient) BaseURL() string {
	return c.baseURL
}

// ListItems fetches every stored item.
func (c *ItemsClient) ListItems(ctx context.Context) ([]models.Item, error) {
	var items []models.Item
	if _, err := c.do(ctx, http.MethodGet, "/items/", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// GetItem fetches the first item named name. A missing item yields a
// *StatusError with status 404.
func (c *ItemsClient) GetItem(ctx context.Context, name string) (models.Item, error) {
	var item models.Item
	if _, err := c.do(ctx, http.MethodGet, ItemPath(name), nil, &item); err != nil {
		return models.Item{}, err
	}
	return item, nil
}

// CreateItem stores a new item under name and returns it as the service
// echoed it.
func (c *ItemsClient) CreateItem(ctx context.Context, name string, price float64, id int) (models.Item, error) {
	body := models.CreateItemRequest{Name: name, Price: &price, ID: &id}
	var item models.Item
	if _, err := c.do(ctx, http.MethodPost, ItemPath(name), body, &item); err != nil {
		return models.Item{}, err
	}
	return item, nil
}

// Do sends a request to path and returns the raw response. Non-2xx
// responses are returned together with a *StatusError.
func (c *ItemsClient) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	return c.do(ctx, method, path, body, nil)
}

// ItemPath returns the route of the named item.
func ItemPath(name string) string {
	return "/items/" + url.PathEscape(name)
}

func (c *ItemsClient) do(ctx context.Context, method, path string, body, target any) (*Response, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.active.Add(1)
	c.mu.Unlock()
	defer c.active.Done()

	ctx, span := c.tracer.Start(ctx, "http.request", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	reqURL := c.baseURL + path
	req := c.client.R().
		SetContext(ctx).
		SetHeaders(c.injectTraceContext(ctx, c.headers()))
	if body != nil {
		req.SetHeader(httpContentTypeHeader, contentType).SetBody(body)
	}

	startTime := time.Now()
	resp, err := req.Execute(method, reqURL)
	duration := time.Since(startTime)

	if err != nil {
		err = fmt.Errorf("HTTP request to %s failed: %w", reqURL, err)
		recordError(span, err)
		return nil, err
	}

	span.SetAttributes(
		semconv.HTTPRequestMethodKey.String(method),
		semconv.URLFull(reqURL),
		semconv.HTTPResponseStatusCode(resp.StatusCode()),
	)
	log.WithFields(log.Fields{
		"method":      method,
		"url":         reqURL,
		"status":      resp.StatusCode(),
		"duration_ms": duration.Milliseconds(),
		"attempts":    resp.Request.Attempt,
	}).Debug("HTTP request completed")

	out := &Response{StatusCode: resp.StatusCode(), Body: resp.Body()}
	if resp.IsError() {
		err := &StatusError{
			Method:     method,
			URL:        reqURL,
			StatusCode: resp.StatusCode(),
			Detail:     detailOf(resp.Body()),
		}
		recordError(span, err)
		return out, err
	}

	if target != nil {
		if err := json.Unmarshal(out.Body, target); err != nil {
			err = fmt.Errorf("failed to unmarshal JSON response: url=%s, status=%d, error=%w", reqURL, resp.StatusCode(), err)
			recordError(span, err)
			return out, err
		}
	}

	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (c *ItemsClient) headers() map[string]string {
	headers := map[string]string{"Accept": contentType}
	if c.userID != "" && c.userHeader != "" {
		headers[c.userHeader] = c.userID
	}
	return headers
}

// detailOf extracts the detail message of an error body, whatever its
// declared content type.
func detailOf(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Detail
}

// recordError records err on the span and marks it failed.
func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(telemetry.AttrError, err.Error()))
}

// injectTraceContext adds W3C trace context headers for the span in ctx.
func (c *ItemsClient) injectTraceContext(ctx context.Context, headers map[string]string) map[string]string {
	carrier := propagation.MapCarrier{}
	for k, v := range headers {
		carrier.Set(k, v)
	}
	c.propagator.Inject(ctx, carrier)
	return carrier
}

// Close waits for in-flight requests (up to 30 seconds) and releases idle
// connections. Requests made afterwards fail with ErrClosed.
func (c *ItemsClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug("All active requests completed during shutdown")
	case <-time.After(closeTimeout):
		log.Warn("Timeout waiting for active requests during shutdown")
	}

	c.client.GetClient().CloseIdleConnections()
	return nil
}
