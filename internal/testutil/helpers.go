// Package testutil provides shared test utilities and helper functions.
// This file contains fluent builders and common test helpers to reduce
// duplication across test files and improve test maintainability.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/fjacquet/items_api/internal/models"
)

// MockServerBuilder provides a fluent interface for creating mock items API servers.
// It serves canned responses shaped like the real service so clients can be
// tested against failure modes the real service never produces.
//
// Example usage:
//
//	server := testutil.NewMockServer().
//	    WithItems(models.SeedItems()).
//	    WithFlakyEndpoint(testutil.TestPathItems, 2, http.StatusServiceUnavailable).
//	    Build()
//	defer server.Close()
type MockServerBuilder struct {
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	items    []models.Item
	useTLS   bool
	requests []*http.Request
}

// NewMockServer creates a new MockServerBuilder.
func NewMockServer() *MockServerBuilder {
	return &MockServerBuilder{
		handlers: make(map[string]http.HandlerFunc),
	}
}

// WithTLS enables TLS for the mock server.
func (b *MockServerBuilder) WithTLS() *MockServerBuilder {
	b.useTLS = true
	return b
}

// WithItems serves GET /items/ and GET /items/{name} from items, and accepts
// POST /items/{name} by appending to them.
func (b *MockServerBuilder) WithItems(items []models.Item) *MockServerBuilder {
	b.items = append([]models.Item(nil), items...)
	return b
}

// WithCustomEndpoint adds a custom handler for the specified path.
func (b *MockServerBuilder) WithCustomEndpoint(path string, handler http.HandlerFunc) *MockServerBuilder {
	b.handlers[path] = handler
	return b
}

// WithErrorResponse adds a handler that returns the specified HTTP status code
// with a {"detail": ...} body.
func (b *MockServerBuilder) WithErrorResponse(path string, statusCode int) *MockServerBuilder {
	b.handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(statusCode)
		if statusCode >= 400 {
			writeJSONResponse(w, map[string]string{"detail": http.StatusText(statusCode)})
		}
	}
	return b
}

// WithFlakyEndpoint makes path fail with statusCode for the first failures
// requests, then fall through to the normal handling.
func (b *MockServerBuilder) WithFlakyEndpoint(path string, failures int, statusCode int) *MockServerBuilder {
	var mu sync.Mutex
	remaining := failures
	next := b.handlers[path]
	b.handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fail := remaining > 0
		if fail {
			remaining--
		}
		mu.Unlock()

		if fail {
			w.WriteHeader(statusCode)
			return
		}
		if next != nil {
			next(w, r)
			return
		}
		b.serveItems(w, r)
	}
	return b
}

// Requests returns the requests received so far, in arrival order.
func (b *MockServerBuilder) Requests() []*http.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*http.Request(nil), b.requests...)
}

// Build creates and returns the configured HTTP test server.
func (b *MockServerBuilder) Build() *httptest.Server {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.requests = append(b.requests, r.Clone(r.Context()))
		b.mu.Unlock()

		if handler, ok := b.handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		b.serveItems(w, r)
	})

	if b.useTLS {
		return httptest.NewTLSServer(handler)
	}
	return httptest.NewServer(handler)
}

func (b *MockServerBuilder) serveItems(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, TestPathItems) {
		w.WriteHeader(http.StatusNotFound)
		writeJSONResponse(w, map[string]string{"detail": "Not Found"})
		return
	}

	name := strings.TrimPrefix(r.URL.Path, TestPathItems)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case name == "" && r.Method == http.MethodGet:
		writeJSONResponse(w, b.items)
	case r.Method == http.MethodGet:
		for _, item := range b.items {
			if item.Name == name {
				writeJSONResponse(w, item)
				return
			}
		}
		w.Header().Set(ContentTypeHeader, ContentTypePlain)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Item not found"}`))
	case r.Method == http.MethodPost:
		var req models.CreateItemRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Price == nil || req.ID == nil {
			w.WriteHeader(http.StatusUnprocessableEntity)
			writeJSONResponse(w, map[string]string{"detail": "invalid body"})
			return
		}
		item := req.ToItem(name)
		b.items = append(b.items, item)
		writeJSONResponse(w, item)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// writeJSONResponse writes a JSON response to the ResponseWriter.
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set(ContentTypeHeader, ContentTypeJSON)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
