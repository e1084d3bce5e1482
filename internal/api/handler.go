// Package api implements the items HTTP API: request handlers, error
// translation and routing on gin.
package api

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/fjacquet/items_api/internal/models"
	"github.com/fjacquet/items_api/internal/store"
	"github.com/fjacquet/items_api/internal/telemetry"
)

// Simulated duration bounds, in milliseconds.
const (
	minDurationMS     = 1
	maxItemDurationMS = 500
	maxCustomHistMS   = 100
	maxSpanDelayMS    = 2000
)

const (
	anonymousUser     = "anonymous"
	childSpanName     = "child_span"
	itemsListedValue  = "items_listed"
	allItemsEventName = "all_items_called"
	customEventName   = "custom_event"
)

// MessageResponse is the body of the demo routes.
type MessageResponse struct {
	Message string `json:"message"`
}

// ConfigProvider exposes the settings handlers read on every request.
// *models.SafeConfig implements it, so reloads take effect immediately.
type ConfigProvider interface {
	UserIDHeader() string
}

// Handler serves every route. All state is injected.
type Handler struct {
	store   *store.ItemStore
	sink    telemetry.Sink
	cfg     ConfigProvider
	rand    Rand
	sleep   func(time.Duration)
	variant int
}

// Option configures a Handler.
type Option func(*Handler)

// WithRand replaces the random source.
func WithRand(r Rand) Option {
	return func(h *Handler) { h.rand = r }
}

// WithSleeper replaces time.Sleep for the /span route.
func WithSleeper(sleep func(time.Duration)) Option {
	return func(h *Handler) { h.sleep = sleep }
}

// WithVariant selects which routes are registered and how /items/ is enriched.
func WithVariant(variant int) Option {
	return func(h *Handler) { h.variant = variant }
}

// NewHandler creates a Handler serving st and emitting through sink.
// Defaults: math/rand/v2, time.Sleep, the showcase variant.
func NewHandler(st *store.ItemStore, sink telemetry.Sink, cfg ConfigProvider, opts ...Option) *Handler {
	h := &Handler{
		store:   st,
		sink:    sink,
		cfg:     cfg,
		rand:    DefaultRand,
		sleep:   time.Sleep,
		variant: models.DefaultVariant,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Variant returns the configured service variant.
func (h *Handler) Variant() int {
	return h.variant
}

// handlerFunc is a gin handler that reports failures by returning them.
type handlerFunc func(c *gin.Context) error

// wrap attaches a returned error to the context for ErrorTranslator.
func wrap(fn handlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(c); err != nil {
			_ = c.Error(err)
			c.Abort()
		}
	}
}

func (h *Handler) userID(c *gin.Context) string {
	if id := c.GetHeader(h.cfg.UserIDHeader()); id != "" {
		return id
	}
	return anonymousUser
}

func (h *Handler) duration(hi int) float64 {
	return float64(Uniform(h.rand, minDurationMS, hi))
}

// listItems handles GET /items/.
func (h *Handler) listItems(c *gin.Context) error {
	ctx := c.Request.Context()
	h.sink.Log(ctx, log.InfoLevel, "all_items called")

	if h.variant >= models.VariantEnriched {
		h.sink.SetSpanAttribute(ctx, telemetry.AttrEndUserID, h.userID(c))
		h.sink.SetSpanAttribute(ctx, telemetry.AttrCustomDimension, itemsListedValue)
		h.sink.CustomEvent(ctx, allItemsEventName, map[string]string{
			"endpoint": "/items/",
			"source":   "items-api",
		})

		names := make([]string, 0, len(c.Request.Header))
		for name := range c.Request.Header {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			h.sink.Log(ctx, log.DebugLevel, fmt.Sprintf("%s: %s", name, strings.Join(c.Request.Header.Values(name), ", ")))
		}
	}

	h.sink.Log(ctx, log.InfoLevel, "Returning all items")
	c.JSON(http.StatusOK, h.store.List())
	return nil
}

// readItem handles GET /items/{item_name}.
func (h *Handler) readItem(c *gin.Context) error {
	ctx := c.Request.Context()
	name := c.Param("item_name")
	h.sink.Log(ctx, log.InfoLevel, fmt.Sprintf("read_item called with %s", name))

	item, err := h.store.Get(name)
	if err != nil {
		h.sink.Log(ctx, log.ErrorLevel, "Item not found")
		return Wrap(KindNotFound, "Item not found", err)
	}

	h.sink.Log(ctx, log.InfoLevel, fmt.Sprintf("Returning item %s", name))
	h.sink.CounterAdd(ctx, telemetry.MetricItemsQueried, 1)
	h.sink.HistogramRecord(ctx, telemetry.MetricItemsQueryTime, h.duration(maxItemDurationMS), telemetry.UnitMilliseconds)
	c.JSON(http.StatusOK, item)
	return nil
}

// createItem handles POST /items/{item_name}. The path name wins over any
// name in the body.
func (h *Handler) createItem(c *gin.Context) error {
	var req models.CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return InvalidRequest(err)
	}

	ctx := c.Request.Context()
	name := c.Param("item_name")
	h.sink.Log(ctx, log.InfoLevel, fmt.Sprintf("create_item called with %s", name))

	item := req.ToItem(name)
	h.store.Append(item)

	h.sink.Log(ctx, log.InfoLevel, fmt.Sprintf("Item %s created", name))
	h.sink.CounterAdd(ctx, telemetry.MetricItemsCreated, 1)
	h.sink.HistogramRecord(ctx, telemetry.MetricItemsCreationTime, h.duration(maxItemDurationMS), telemetry.UnitMilliseconds)
	c.JSON(http.StatusOK, item)
	return nil
}

func (h *Handler) hello(c *gin.Context) error {
	c.JSON(http.StatusOK, MessageResponse{Message: "Hello World"})
	return nil
}

func (h *Handler) exception(c *gin.Context) error {
	return Unstructured("This is a test exception")
}

func (h *Handler) frameworkException(c *gin.Context) error {
	return NotFound("FastAPI exception")
}

func (h *Handler) customEvent(c *gin.Context) error {
	h.sink.CustomEvent(c.Request.Context(), customEventName, map[string]string{
		"key1": "value1",
		"key2": "value2",
	})
	c.JSON(http.StatusOK, MessageResponse{Message: "Custom event sent"})
	return nil
}

func (h *Handler) customDimension(c *gin.Context) error {
	ctx := c.Request.Context()
	h.sink.SetSpanAttribute(ctx, telemetry.AttrCustomDimension1, "value1")
	h.sink.SetSpanAttribute(ctx, telemetry.AttrCustomDimension2, "value2")
	c.JSON(http.StatusOK, MessageResponse{Message: "Custom dimension set"})
	return nil
}

func (h *Handler) counter(c *gin.Context) error {
	h.sink.CounterAdd(c.Request.Context(), telemetry.MetricCustomCounter, 1)
	c.JSON(http.StatusOK, MessageResponse{Message: "Counter incremented"})
	return nil
}

func (h *Handler) histogram(c *gin.Context) error {
	h.sink.HistogramRecord(c.Request.Context(), telemetry.MetricCustomHistogram, h.duration(maxCustomHistMS), telemetry.UnitMilliseconds)
	c.JSON(http.StatusOK, MessageResponse{Message: "Histogram value recorded"})
	return nil
}

func (h *Handler) setUserID(c *gin.Context) error {
	h.sink.SetSpanAttribute(c.Request.Context(), telemetry.AttrEndUserID, h.userID(c))
	c.JSON(http.StatusOK, MessageResponse{Message: "User ID set"})
	return nil
}

// span handles GET /span: sleep, run a child span that sleeps, then sleep again.
// The three delays are drawn up front.
func (h *Handler) span(c *gin.Context) error {
	ctx := c.Request.Context()
	before := h.spanDelay()
	inside := h.spanDelay()
	after := h.spanDelay()

	h.sleep(before)

	childCtx, child := h.sink.StartChildSpan(ctx, childSpanName)
	h.sink.Log(childCtx, log.InfoLevel, "Inside child span")
	h.sleep(inside)
	child.End()

	h.sleep(after)
	c.JSON(http.StatusOK, MessageResponse{Message: "Child span created"})
	return nil
}

func (h *Handler) spanDelay() time.Duration {
	return time.Duration(Uniform(h.rand, minDurationMS, maxSpanDelayMS)) * time.Millisecond
}
