package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/fjacquet/items_api/internal/models"
	"github.com/fjacquet/items_api/internal/store"
	"github.com/fjacquet/items_api/internal/telemetry"
	"github.com/fjacquet/items_api/internal/testutil"
)

type testServer struct {
	router *gin.Engine
	rec    *testutil.Recorder
	store  *store.ItemStore
	rand   *testutil.SequenceRand
}

func newTestConfig() *models.SafeConfig {
	cfg := &models.Config{}
	cfg.Server.UserIDHeader = testutil.UserIDHeader
	return models.NewSafeConfig(cfg)
}

func newTestServer(t *testing.T, variant int, randValues ...int) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rec := testutil.NewRecorder()
	st := store.NewSeeded()
	rnd := testutil.NewSequenceRand(randValues...)
	h := NewHandler(st, rec, newTestConfig(),
		WithRand(rnd),
		WithSleeper(rec.Sleep),
		WithVariant(variant),
	)
	router := NewRouter(h, RouterOptions{ServiceName: testutil.TestServiceName})

	return &testServer{router: router, rec: rec, store: st, rand: rnd}
}

func (s *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(testutil.ContentTypeHeader, "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) get(path string) *httptest.ResponseRecorder {
	return s.do(http.MethodGet, path, "", nil)
}

func decodeItems(t *testing.T, w *httptest.ResponseRecorder) []models.Item {
	t.Helper()
	var items []models.Item
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	return items
}

func TestListItemsFresh(t *testing.T) {
	s := newTestServer(t, models.VariantBasic)

	w := s.get(testutil.TestPathItems)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"name":"Foo","price":9.99,"id":999},{"name":"Bar","price":5.99,"id":555}]`, w.Body.String())
	assert.Equal(t, []string{"all_items called", "Returning all items"}, s.rec.Messages(log.InfoLevel))
}

func TestListItemsVariants(t *testing.T) {
	tests := []struct {
		name         string
		variant      int
		headers      map[string]string
		wantEnriched bool
		wantUser     string
	}{
		{name: "basic has no enrichment", variant: models.VariantBasic},
		{name: "enriched with user header", variant: models.VariantEnriched, headers: map[string]string{testutil.UserIDHeader: testutil.TestUserID}, wantEnriched: true, wantUser: testutil.TestUserID},
		{name: "enriched without user header", variant: models.VariantEnriched, wantEnriched: true, wantUser: testutil.AnonymousUser},
		{name: "showcase keeps enrichment", variant: models.VariantShowcase, wantEnriched: true, wantUser: testutil.AnonymousUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.variant)

			w := s.do(http.MethodGet, testutil.TestPathItems, "", tt.headers)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Len(t, decodeItems(t, w), 2)

			events := s.rec.Events("all_items_called")
			if !tt.wantEnriched {
				assert.Empty(t, events)
				assert.Empty(t, s.rec.Attributes())
				assert.Empty(t, s.rec.Messages(log.DebugLevel))
				return
			}

			require.Len(t, events, 1)
			assert.Equal(t, map[string]string{"endpoint": "/items/", "source": "items-api"}, events[0].Payload)
			attrs := s.rec.Attributes()
			assert.Equal(t, tt.wantUser, attrs[telemetry.AttrEndUserID])
			assert.Equal(t, "items_listed", attrs[telemetry.AttrCustomDimension])
			assert.NotEmpty(t, s.rec.Messages(log.DebugLevel), "inbound headers are logged")
		})
	}
}

func TestListItemsLogsHeaders(t *testing.T) {
	s := newTestServer(t, models.VariantEnriched)

	s.do(http.MethodGet, testutil.TestPathItems, "", map[string]string{
		testutil.UserIDHeader: testutil.TestUserID,
		"X-Trace-Me":          "yes",
	})

	debug := s.rec.Messages(log.DebugLevel)
	assert.Contains(t, debug, "X-User-Id: "+testutil.TestUserID)
	assert.Contains(t, debug, "X-Trace-Me: yes")
}

func TestUserHeaderFollowsConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := testutil.NewRecorder()
	cfg := newTestConfig()
	cfg.Get().Server.UserIDHeader = "X-Request-User"
	router := NewRouter(NewHandler(store.NewSeeded(), rec, cfg), RouterOptions{})

	req := httptest.NewRequest(http.MethodGet, "/user_id", nil)
	req.Header.Set("X-Request-User", "alice")
	req.Header.Set(testutil.UserIDHeader, "bob")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", rec.Attributes()[telemetry.AttrEndUserID])
}

func TestReadItem(t *testing.T) {
	s := newTestServer(t, models.VariantBasic, 99)

	w := s.get(testutil.TestPathItemFoo)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"name":"Foo","price":9.99,"id":999}`, w.Body.String())
	assert.Equal(t, int64(1), s.rec.CounterTotal(telemetry.MetricItemsQueried))
	assert.Equal(t, []float64{100}, s.rec.HistogramValues(telemetry.MetricItemsQueryTime))
	assert.Equal(t, []int{500}, s.rand.Bounds(), "query time is drawn from [1,500]")
	assert.Equal(t, []string{"read_item called with Foo", "Returning item Foo"}, s.rec.Messages(log.InfoLevel))

	hist := s.rec.Filter(testutil.OpHistogram)
	require.Len(t, hist, 1)
	assert.Equal(t, telemetry.UnitMilliseconds, hist[0].Unit)
}

func TestReadItemNotFound(t *testing.T) {
	s := newTestServer(t, models.VariantBasic)

	w := s.get(testutil.TestPathItemMissing)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, `{"detail":"Item not found"}`, w.Body.String())
	assert.Equal(t, ContentTypeDetail, w.Header().Get(testutil.ContentTypeHeader))

	assert.Equal(t, []string{"Item not found"}, s.rec.Messages(log.ErrorLevel))
	assert.Zero(t, s.rec.CounterTotal(telemetry.MetricItemsQueried))
	assert.Empty(t, s.rec.HistogramValues(telemetry.MetricItemsQueryTime))

	exceptions := s.rec.Exceptions()
	require.Len(t, exceptions, 1)
	assert.ErrorIs(t, exceptions[0], store.ErrNotFound)

	statuses := s.rec.Filter(testutil.OpStatus)
	require.Len(t, statuses, 1)
	assert.Equal(t, codes.Error, statuses[0].Code)
	assert.Equal(t, "Item not found", statuses[0].Message)
}

func TestCreateItem(t *testing.T) {
	s := newTestServer(t, models.VariantBasic, 41)

	w := s.do(http.MethodPost, "/items/Baz", `{"name":"ignored","price":1.5,"id":42}`, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"name":"Baz","price":1.5,"id":42}`, w.Body.String())
	assert.Equal(t, int64(1), s.rec.CounterTotal(telemetry.MetricItemsCreated))
	assert.Equal(t, []float64{42}, s.rec.HistogramValues(telemetry.MetricItemsCreationTime))
	assert.Equal(t, []string{"create_item called with Baz", "Item Baz created"}, s.rec.Messages(log.InfoLevel))

	read := s.get("/items/Baz")
	assert.Equal(t, http.StatusOK, read.Code)
	assert.JSONEq(t, w.Body.String(), read.Body.String(), "a created item reads back unchanged")

	items := decodeItems(t, s.get(testutil.TestPathItems))
	require.Len(t, items, 3)
	assert.Equal(t, models.SeedItems(), items[:2], "seed items keep their place")
	assert.Equal(t, models.Item{Name: "Baz", Price: 1.5, ID: 42}, items[2])
}

func TestCreateItemCoercesBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "numeric string price", body: `{"price":"1.5","id":42}`, want: `{"name":"Baz","price":1.5,"id":42}`},
		{name: "numeric string id", body: `{"price":1.5,"id":"42"}`, want: `{"name":"Baz","price":1.5,"id":42}`},
		{name: "integral float id", body: `{"price":1,"id":42.0}`, want: `{"name":"Baz","price":1,"id":42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, models.VariantBasic)

			w := s.do(http.MethodPost, "/items/Baz", tt.body, nil)

			assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.JSONEq(t, tt.want, w.Body.String())
			assert.JSONEq(t, tt.want, s.get("/items/Baz").Body.String())
			assert.Equal(t, int64(1), s.rec.CounterTotal(telemetry.MetricItemsCreated))
		})
	}
}

func TestCreateItemWithoutBodyName(t *testing.T) {
	s := newTestServer(t, models.VariantBasic)

	w := s.do(http.MethodPost, "/items/Qux", `{"price":3,"id":1}`, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"name":"Qux","price":3,"id":1}`, w.Body.String())
}

func TestCreateDuplicateKeepsFirstMatch(t *testing.T) {
	s := newTestServer(t, models.VariantBasic)

	w := s.do(http.MethodPost, "/items/Foo", `{"price":1.0,"id":1}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 3, s.store.Len())
	w = s.get(testutil.TestPathItemFoo)
	assert.JSONEq(t, `{"name":"Foo","price":9.99,"id":999}`, w.Body.String())
}

func TestCreateItemInvalidBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing id", body: `{"price":1.5}`},
		{name: "missing price", body: `{"id":1}`},
		{name: "price not a number", body: `{"price":"abc","id":1}`},
		{name: "id not an integer", body: `{"price":1.5,"id":"seven"}`},
		{name: "price word", body: `{"price":"free","id":1}`},
		{name: "fractional id", body: `{"price":1.5,"id":42.5}`},
		{name: "null price", body: `{"price":null,"id":1}`},
		{name: "malformed json", body: `{"price":`},
		{name: "empty body", body: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, models.VariantBasic)

			w := s.do(http.MethodPost, "/items/Baz", tt.body, nil)

			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			var resp DetailResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Detail)
			assert.Equal(t, 2, s.store.Len(), "store is unchanged")
			assert.Zero(t, s.rec.CounterTotal(telemetry.MetricItemsCreated))
		})
	}
}

func TestShowcaseRoutes(t *testing.T) {
	tests := []struct {
		path        string
		wantStatus  int
		wantBody    string
		wantJSON    bool
		checkRecord func(t *testing.T, rec *testutil.Recorder)
	}{
		{
			path: "/hello", wantStatus: http.StatusOK, wantJSON: true,
			wantBody: `{"message":"Hello World"}`,
			checkRecord: func(t *testing.T, rec *testutil.Recorder) {
				assert.Empty(t, rec.Calls(), "hello emits no telemetry")
			},
		},
		{
			path: "/fastapi_exception", wantStatus: http.StatusNotFound,
			wantBody: `{"detail":"FastAPI exception"}`,
			checkRecord: func(t *testing.T, rec *testutil.Recorder) {
				assert.Len(t, rec.Exceptions(), 1)
			},
		},
		{
			path: testutil.TestPathCustomEvent, wantStatus: http.StatusOK, wantJSON: true,
			wantBody: `{"message":"Custom event sent"}`,
			checkRecord: func(t *testing.T, rec *testutil.Recorder) {
				events := rec.Events("custom_event")
				require.Len(t, events, 1)
				assert.Equal(t, map[string]string{"key1": "value1", "key2": "value2"}, events[0].Payload)
			},
		},
		{
			path: testutil.TestPathCustomDimension, wantStatus: http.StatusOK, wantJSON: true,
			wantBody: `{"message":"Custom dimension set"}`,
			checkRecord: func(t *testing.T, rec *testutil.Recorder) {
				assert.Equal(t, map[string]string{
					telemetry.AttrCustomDimension1: "value1",
					telemetry.AttrCustomDimension2: "value2",
				}, rec.Attributes())
			},
		},
		{
			path: testutil.TestPathCounter, wantStatus: http.StatusOK, wantJSON: true,
			wantBody: `{"message":"Counter incremented"}`,
			checkRecord: func(t *testing.T, rec *testutil.Recorder) {
				assert.Equal(t, int64(1), rec.CounterTotal(telemetry.MetricCustomCounter))
			},
		},
		{
			path: testutil.TestPathHistogram, wantStatus: http.StatusOK, wantJSON: true,
			wantBody: `{"message":"Histogram value recorded"}`,
			checkRecord: func(t *testing.T, rec *testutil.Recorder) {
				assert.Equal(t, []float64{50}, rec.HistogramValues(telemetry.MetricCustomHistogram))
			},
		},
		{
			path: "/user_id", wantStatus: http.StatusOK, wantJSON: true,
			wantBody: `{"message":"User ID set"}`,
			checkRecord: func(t *testing.T, rec *testutil.Recorder) {
				assert.Equal(t, testutil.AnonymousUser, rec.Attributes()[telemetry.AttrEndUserID])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			s := newTestServer(t, models.VariantShowcase, 49)

			w := s.get(tt.path)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantJSON {
				assert.JSONEq(t, tt.wantBody, w.Body.String())
			} else {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
			tt.checkRecord(t, s.rec)
		})
	}
}

func TestHistogramRange(t *testing.T) {
	s := newTestServer(t, models.VariantShowcase, 0, 99, 100)

	for i := 0; i < 3; i++ {
		s.get(testutil.TestPathHistogram)
	}

	assert.Equal(t, []float64{1, 100, 1}, s.rec.HistogramValues(telemetry.MetricCustomHistogram),
		"values are drawn from [1,100]")
}

func TestUserIDRoute(t *testing.T) {
	s := newTestServer(t, models.VariantShowcase)

	w := s.do(http.MethodGet, "/user_id", "", map[string]string{testutil.UserIDHeader: testutil.TestUserID})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testutil.TestUserID, s.rec.Attributes()[telemetry.AttrEndUserID])
}

func TestExceptionRoute(t *testing.T) {
	s := newTestServer(t, models.VariantShowcase)

	w := s.get(testutil.TestPathException)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal Server Error", w.Body.String())
	assert.NotContains(t, w.Body.String(), "detail")

	exceptions := s.rec.Exceptions()
	require.Len(t, exceptions, 1)
	assert.EqualError(t, exceptions[0], "This is a test exception")
	assert.Equal(t, KindUnstructured, KindOf(exceptions[0]))
}

func TestSpanRoute(t *testing.T) {
	// Delays: 1+0, 1+999, 1+1999 milliseconds
	s := newTestServer(t, models.VariantShowcase, 0, 999, 1999)

	w := s.get(testutil.TestPathSpan)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Child span created"}`, w.Body.String())

	assert.Equal(t, []string{
		testutil.OpSleep,
		testutil.OpSpanStart,
		testutil.OpLog,
		testutil.OpSleep,
		testutil.OpSpanEnd,
		testutil.OpSleep,
	}, s.rec.Ops())

	assert.Equal(t, []time.Duration{
		1 * time.Millisecond,
		1000 * time.Millisecond,
		2000 * time.Millisecond,
	}, s.rec.Sleeps())
	assert.Equal(t, []int{2000, 2000, 2000}, s.rand.Bounds(), "delays are drawn from [1,2000]")

	start := s.rec.Filter(testutil.OpSpanStart)
	require.Len(t, start, 1)
	assert.Equal(t, "child_span", start[0].Name)

	logs := s.rec.Filter(testutil.OpLog)
	require.Len(t, logs, 1)
	assert.Equal(t, "Inside child span", logs[0].Message)
	assert.Equal(t, "child_span", logs[0].Span, "the log is emitted inside the child span")
}

func TestVariantRouteRegistration(t *testing.T) {
	showcaseOnly := []string{"/hello", testutil.TestPathException, "/fastapi_exception",
		testutil.TestPathCustomEvent, testutil.TestPathCustomDimension, testutil.TestPathCounter,
		testutil.TestPathHistogram, "/user_id", testutil.TestPathSpan}

	for _, variant := range []int{models.VariantBasic, models.VariantEnriched} {
		t.Run(fmt.Sprintf("variant %d", variant), func(t *testing.T) {
			s := newTestServer(t, variant)

			for _, path := range showcaseOnly {
				assert.Equal(t, http.StatusNotFound, s.get(path).Code, path)
			}
			assert.Equal(t, http.StatusOK, s.get(testutil.TestPathItems).Code)
			assert.Equal(t, http.StatusOK, s.get(testutil.TestPathHealth).Code)
		})
	}

	s := newTestServer(t, models.VariantShowcase)
	assert.Equal(t, http.StatusOK, s.get("/hello").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("items_created_total 1\n"))
	})
	router := NewRouter(
		NewHandler(store.NewSeeded(), testutil.NewRecorder(), newTestConfig()),
		RouterOptions{MetricsURI: "/custom-metrics", MetricsHandler: metrics},
	)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, testutil.TestPathHealth, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/custom-metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "items_created_total")
}

func TestRecoveryTranslatesPanics(t *testing.T) {
	s := newTestServer(t, models.VariantShowcase)
	s.router.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := s.get("/panic")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal Server Error", w.Body.String())
	exceptions := s.rec.Exceptions()
	require.Len(t, exceptions, 1)
	assert.Contains(t, exceptions[0].Error(), "boom")
}

func TestUntaggedErrorIsUnstructured(t *testing.T) {
	s := newTestServer(t, models.VariantShowcase)
	s.router.GET("/plain-error", wrap(func(c *gin.Context) error {
		return errors.New("database on fire")
	}))

	w := s.get("/plain-error")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal Server Error", w.Body.String())
	assert.Len(t, s.rec.Exceptions(), 1)
	assert.Empty(t, s.rec.Filter(testutil.OpStatus), "untranslated errors leave status to the HTTP instrumentation")
}

func TestConcurrentCreates(t *testing.T) {
	s := newTestServer(t, models.VariantBasic)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := s.do(http.MethodPost, fmt.Sprintf("/items/item-%d", i), fmt.Sprintf(`{"price":1,"id":%d}`, i), nil)
			assert.Equal(t, http.StatusOK, w.Code)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 22, s.store.Len())
	assert.Equal(t, int64(20), s.rec.CounterTotal(telemetry.MetricItemsCreated))
}
