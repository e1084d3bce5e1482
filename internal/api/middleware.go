package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"

	"github.com/fjacquet/items_api/internal/telemetry"
)

// ContentTypeDetail is the content type of translated error bodies.
const ContentTypeDetail = "text/plain; charset=utf-8"

// DetailResponse is the body of a translated error.
type DetailResponse struct {
	Detail string `json:"detail"`
}

// ErrorTranslator turns the last error a handler attached to the gin context
// into a response.
//
// NotFound and InvalidRequest errors are recorded on the request span, mark it
// as failed, and produce {"detail": ...} with the kind's status code. Any other
// error is recorded on the span and produces a bare 500.
func ErrorTranslator(sink telemetry.Sink) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		ctx := c.Request.Context()
		sink.RecordException(ctx, err)

		if kind := KindOf(err); kind.Translated() {
			sink.SetSpanStatus(ctx, codes.Error, err.Error())
			body, marshalErr := json.Marshal(DetailResponse{Detail: err.Error()})
			if marshalErr != nil {
				body = []byte(`{"detail":""}`)
			}
			c.Data(kind.Status(), ContentTypeDetail, body)
		} else {
			internalServerError(c)
		}

		// otelgin records anything left in c.Errors; the exception is already on the span.
		c.Errors = c.Errors[:0]
	}
}

// Recovery converts a handler panic into an unstructured error response.
func Recovery(sink telemetry.Sink) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		ctx := c.Request.Context()
		err := fmt.Errorf("panic: %v", recovered)
		log.WithContext(ctx).WithFields(log.Fields{
			"path":  c.Request.URL.Path,
			"stack": string(debug.Stack()),
		}).Error("panic recovered")
		sink.RecordException(ctx, err)
		sink.SetSpanStatus(ctx, codes.Error, err.Error())
		internalServerError(c)
	})
}

func internalServerError(c *gin.Context) {
	c.String(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	c.Abort()
}

// RequestLogger logs one access line per request through logrus.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithContext(c.Request.Context()).WithFields(log.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration":    time.Since(start).String(),
			"remote_addr": c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("http request")
			return
		}
		entry.Debug("http request")
	}
}
