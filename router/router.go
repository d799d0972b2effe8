// Package router dispatches intercepted requests to the strategy bound to their classification.
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/always-cache/offline-cache/classifier"
	"github.com/always-cache/offline-cache/strategy"
)

// DefaultSlowThreshold is the duration after which a resolution is logged as slow.
const DefaultSlowThreshold = time.Second

const tracerName = "github.com/always-cache/offline-cache/router"

type Config struct {
	Classifier *classifier.Classifier
	// Strategies per classification. The Uncategorized strategy is required
	// and serves every classification without a binding.
	Strategies map[classifier.Classification]strategy.Strategy
	// The global tracer provider is used if nil.
	TracerProvider trace.TracerProvider
	// DefaultSlowThreshold is used if zero. Negative disables the warning.
	SlowThreshold time.Duration
	Logger        zerolog.Logger
}

type Router struct {
	classifier    *classifier.Classifier
	strategies    map[classifier.Classification]strategy.Strategy
	tracer        trace.Tracer
	slowThreshold time.Duration
	log           zerolog.Logger
}

func New(config Config) (*Router, error) {
	if config.Classifier == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "router needs a classifier")
	}
	if config.Strategies[classifier.Uncategorized] == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "router needs a strategy for uncategorized requests")
	}
	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	slow := config.SlowThreshold
	if slow == 0 {
		slow = DefaultSlowThreshold
	}
	return &Router{
		classifier:    config.Classifier,
		strategies:    config.Strategies,
		tracer:        tp.Tracer(tracerName),
		slowThreshold: slow,
		log:           config.Logger,
	}, nil
}

// Select returns the classification of the request and the strategy that serves it.
// Requests for schemes other than http(s) are never classified.
func (r *Router) Select(req *http.Request) (classifier.Classification, strategy.Strategy) {
	c := classifier.Uncategorized
	if scheme := req.URL.Scheme; scheme == "" || scheme == "http" || scheme == "https" {
		c = r.classifier.ClassifyRequest(req)
	}
	if s, ok := r.strategies[c]; ok && s != nil {
		return c, s
	}
	return c, r.strategies[classifier.Uncategorized]
}

// Route resolves the request with the selected strategy. It does not retry.
func (r *Router) Route(ctx context.Context, req *http.Request) (*http.Response, error) {
	c, s := r.Select(req)

	ctx, span := r.tracer.Start(ctx, "offline-cache.route",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL.String()),
			attribute.String("offline_cache.classification", c.String()),
			attribute.String("offline_cache.strategy", s.Name()),
		))
	defer span.End()

	start := time.Now()
	res, err := s.Resolve(ctx, req.WithContext(ctx))
	elapsed := time.Since(start)

	log := r.log.With().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("classification", c.String()).
		Str("strategy", s.Name()).
		Dur("duration", elapsed).
		Logger()
	if r.slowThreshold > 0 && elapsed > r.slowThreshold {
		log.Warn().Msg("Slow request")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Debug().Err(err).Msg("Could not resolve request")
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", res.StatusCode))
	log.Trace().Int("status", res.StatusCode).Msg("Resolved request")
	return res, nil
}
