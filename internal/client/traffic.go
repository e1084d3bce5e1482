package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fjacquet/items_api/internal/models"
	"github.com/fjacquet/items_api/internal/telemetry"
	"github.com/fjacquet/items_api/internal/utils"
)

// Step is one request of a traffic round.
type Step struct {
	Route  string // route template, used to label spans and logs
	Method string
	Path   string
	Body   any
	Expect int // status the service answers with
}

// Plan returns the requests of one round against a service running variant.
// Each round creates its own item so reads of it succeed.
func Plan(variant, round int) []Step {
	name := fmt.Sprintf("Item%d", round)
	price := 1.5 * float64(round)
	id := 1000 + round

	steps := []Step{
		{Route: "/items/", Method: http.MethodGet, Path: "/items/", Expect: http.StatusOK},
		{Route: "/items/{item_name}", Method: http.MethodGet, Path: ItemPath("Foo"), Expect: http.StatusOK},
		{Route: "/items/{item_name}", Method: http.MethodGet, Path: ItemPath("Missing"), Expect: http.StatusNotFound},
		{
			Route:  "/items/{item_name}",
			Method: http.MethodPost,
			Path:   ItemPath(name),
			Body:   models.CreateItemRequest{Price: &price, ID: &id},
			Expect: http.StatusOK,
		},
		{Route: "/items/{item_name}", Method: http.MethodGet, Path: ItemPath(name), Expect: http.StatusOK},
		{
			Route:  "/items/{item_name}",
			Method: http.MethodPost,
			Path:   ItemPath("Invalid"),
			Body:   map[string]any{"price": "free", "id": id},
			Expect: http.StatusUnprocessableEntity,
		},
	}

	if variant < models.VariantShowcase {
		return steps
	}

	demo := []struct {
		path   string
		expect int
	}{
		{"/hello", http.StatusOK},
		{"/exception", http.StatusInternalServerError},
		{"/fastapi_exception", http.StatusNotFound},
		{"/custom_event", http.StatusOK},
		{"/custom_dimension", http.StatusOK},
		{"/counter", http.StatusOK},
		{"/histogram", http.StatusOK},
		{"/user_id", http.StatusOK},
		{"/span", http.StatusOK},
	}
	for _, d := range demo {
		steps = append(steps, Step{Route: d.path, Method: http.MethodGet, Path: d.path, Expect: d.expect})
	}
	return steps
}

// Summary counts the outcome of a traffic run.
type Summary struct {
	Rounds     int
	Requests   int
	Errors     int // requests that got no response
	Unexpected int // responses whose status differs from the step's
	ByStatus   map[int]int
}

// OK reports whether every request got its expected status.
func (s Summary) OK() bool {
	return s.Errors == 0 && s.Unexpected == 0
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithVariant selects the route plan. Defaults to the showcase variant.
func WithVariant(variant int) RunnerOption {
	return func(r *Runner) { r.variant = variant }
}

// WithInterval pauses between rounds for interval, a Go duration string.
func WithInterval(interval string) RunnerOption {
	return func(r *Runner) { r.interval = interval }
}

// Runner drives rounds of traffic through an ItemsClient. Each request runs
// inside a span so the client and server spans share one trace.
type Runner struct {
	client   *ItemsClient
	tracer   trace.Tracer
	variant  int
	interval string
}

// NewRunner creates a Runner using c and c's tracer provider.
func NewRunner(c *ItemsClient, opts ...RunnerOption) *Runner {
	r := &Runner{
		client:  c,
		tracer:  c.tp.Tracer(instrumentationName),
		variant: models.DefaultVariant,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sends rounds rounds of the plan. It stops at the first context
// cancellation and returns what was counted so far.
func (r *Runner) Run(ctx context.Context, rounds int) (Summary, error) {
	summary := Summary{ByStatus: make(map[int]int)}
	if rounds < 1 {
		return summary, fmt.Errorf("invalid number of rounds: %d (must be at least 1)", rounds)
	}

	log.WithFields(log.Fields{
		"target":  r.client.BaseURL(),
		"rounds":  rounds,
		"variant": r.variant,
	}).Info("Starting traffic")

	for round := 1; round <= rounds; round++ {
		for _, step := range Plan(r.variant, round) {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			r.runStep(ctx, round, step, &summary)
		}
		summary.Rounds++

		if round < rounds && r.interval != "" {
			if err := utils.Pause(ctx, r.interval); err != nil {
				return summary, err
			}
		}
	}

	log.WithFields(log.Fields{
		"rounds":     summary.Rounds,
		"requests":   summary.Requests,
		"errors":     summary.Errors,
		"unexpected": summary.Unexpected,
	}).Info("Traffic completed")

	return summary, nil
}

func (r *Runner) runStep(ctx context.Context, round int, step Step, summary *Summary) {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("traffic %s %s", step.Method, step.Route),
		trace.WithAttributes(
			attribute.String(telemetry.AttrTrafficRoute, step.Route),
			attribute.Int(telemetry.AttrTrafficRound, round),
		),
	)
	defer span.End()

	summary.Requests++
	fields := log.Fields{"method": step.Method, "path": step.Path, "round": round}

	resp, err := r.client.Do(ctx, step.Method, step.Path, step.Body)
	if resp == nil {
		summary.Errors++
		if err == nil {
			err = errors.New("no response")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithFields(fields).WithError(err).Error("Traffic request failed")
		return
	}

	summary.ByStatus[resp.StatusCode]++
	span.SetAttributes(attribute.Int(telemetry.AttrTrafficStatus, resp.StatusCode))
	fields["status"] = resp.StatusCode

	if resp.StatusCode != step.Expect {
		summary.Unexpected++
		span.SetStatus(codes.Error, fmt.Sprintf("expected status %d, got %d", step.Expect, resp.StatusCode))
		log.WithFields(fields).Warnf("Unexpected status, expected %d", step.Expect)
		return
	}
	log.WithFields(fields).Info("Traffic request completed")
}
