package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/fjacquet/items_api/internal/models"
)

// Fixed routes outside the item API.
const (
	PathHealth = "/health"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// ServiceName names the server spans' instrumentation
	ServiceName string

	// TracerProvider creates server spans; nil uses the global provider
	TracerProvider trace.TracerProvider

	// Propagators extract inbound trace context; nil uses the global propagator
	Propagators propagation.TextMapPropagator

	// MetricsURI and MetricsHandler expose metrics; skipped if the handler is nil
	MetricsURI     string
	MetricsHandler http.Handler
}

// NewRouter builds the gin engine: a server span per request, access logging,
// panic recovery and error translation, then the routes of h's variant.
// Health and metrics requests are not traced.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	engine := gin.New()

	otelOpts := []otelgin.Option{
		otelgin.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != PathHealth && r.URL.Path != opts.MetricsURI
		}),
	}
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelgin.WithTracerProvider(opts.TracerProvider))
	}
	if opts.Propagators != nil {
		otelOpts = append(otelOpts, otelgin.WithPropagators(opts.Propagators))
	}

	engine.Use(
		otelgin.Middleware(opts.ServiceName, otelOpts...),
		RequestLogger(),
		Recovery(h.sink),
		ErrorTranslator(h.sink),
	)

	engine.GET(PathHealth, healthHandler)
	if opts.MetricsHandler != nil && opts.MetricsURI != "" {
		engine.GET(opts.MetricsURI, gin.WrapH(opts.MetricsHandler))
	}

	h.Register(engine)
	return engine
}

// Register adds the routes of the handler's variant to r.
// Later variants are supersets of earlier ones.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/items/", wrap(h.listItems))
	r.GET("/items/:item_name", wrap(h.readItem))
	r.POST("/items/:item_name", wrap(h.createItem))

	if h.variant < models.VariantShowcase {
		return
	}

	r.GET("/hello", wrap(h.hello))
	r.GET("/exception", wrap(h.exception))
	r.GET("/fastapi_exception", wrap(h.frameworkException))
	r.GET("/custom_event", wrap(h.customEvent))
	r.GET("/custom_dimension", wrap(h.customDimension))
	r.GET("/counter", wrap(h.counter))
	r.GET("/histogram", wrap(h.histogram))
	r.GET("/user_id", wrap(h.setUserID))
	r.GET("/span", wrap(h.span))
}

// healthHandler responds to health check requests.
// It returns HTTP 200 OK to indicate the service is running.
func healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}
