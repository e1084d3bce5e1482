// Package testutil provides shared testing utilities and constants for the items API.
//
// This package centralizes common test constants, fakes and mock builders
// to reduce duplication across test files and improve test maintainability.
//
// # Key Components
//
// Constants: Shared test values (paths, headers, identities) defined in constants.go
//
// Recorder: A telemetry Sink that records every call, including sleeps, in order
//
// SequenceRand: A deterministic random source for routes that draw random values
//
// MockServerBuilder: Fluent interface for creating mock items API servers
//
// # Usage Examples
//
// Recording telemetry in a handler test:
//
//	rec := testutil.NewRecorder()
//	h := api.NewHandler(store.NewSeeded(), rec, cfg,
//	    api.WithRand(testutil.NewSequenceRand(99)),
//	    api.WithSleeper(rec.Sleep))
//	...
//	assert.Equal(t, int64(1), rec.CounterTotal(telemetry.MetricItemsQueried))
//
// Creating a mock server:
//
//	server := testutil.NewMockServer().
//	    WithItems(models.SeedItems()).
//	    WithErrorResponse(testutil.TestPathException, http.StatusInternalServerError).
//	    Build()
//	defer server.Close()
package testutil

// HTTP headers
const (
	ContentTypeHeader = "Content-Type"
	UserIDHeader      = "X-User-ID"
)

// Common test values
const (
	ContentTypeJSON  = "application/json; charset=utf-8"
	ContentTypePlain = "text/plain; charset=utf-8"
	TestUserID       = "user-42"
	AnonymousUser    = "anonymous"
)

// Test endpoints and paths
const (
	TestPathItems           = "/items/"
	TestPathItemFoo         = "/items/Foo"
	TestPathItemMissing     = "/items/Missing"
	TestPathCustomEvent     = "/custom_event"
	TestPathCustomDimension = "/custom_dimension"
	TestPathCounter         = "/counter"
	TestPathHistogram       = "/histogram"
	TestPathException       = "/exception"
	TestPathSpan            = "/span"
	TestPathHealth          = "/health"
	TestPathMetrics         = "/metrics"
)

// Test server and telemetry identifiers
const (
	TestOTELEndpoint   = "localhost:4317"
	TestServiceName    = "items-api-test"
	TestServiceVersion = "1.0.0-test"
	TestLogName        = "test.log"
	TestPort           = "8000"
	TestHost           = "localhost"
)

// Test error messages
const (
	TestErrorExpectedError = "Expected error, got nil"
	TestErrorUnexpected    = "Unexpected error: %v"
)
