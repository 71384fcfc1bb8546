// Package telemetry wires OpenTelemetry tracing for plan runs: one span per
// command and one per task attempt.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	// globalProvider holds the current tracer provider
	globalProvider trace.TracerProvider
	// globalShutdown holds the shutdown function for the provider
	globalShutdown func(context.Context) error
	// providerMu protects access to global provider state
	providerMu sync.RWMutex
)

type breakerState string

const (
	breakerClosed   breakerState = "closed"
	breakerOpen     breakerState = "open"
	breakerHalfOpen breakerState = "half-open"
)

// circuitBreaker stops export attempts after repeated failures so a dead
// collector cannot stall a plan run.
type circuitBreaker struct {
	failureThreshold int
	resetTimeout     time.Duration
	failureCount     int
	lastFailureTime  time.Time
	state            breakerState
	now              func() time.Time
	mu               sync.Mutex
}

func newCircuitBreaker() *circuitBreaker {
	return &circuitBreaker{
		failureThreshold: 5,
		resetTimeout:     30 * time.Second,
		state:            breakerClosed,
		now:              time.Now,
	}
}

func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerClosed, breakerHalfOpen:
		return true
	default:
		if cb.now().Sub(cb.lastFailureTime) > cb.resetTimeout {
			cb.state = breakerHalfOpen
			return true
		}
		return false
	}
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.state = breakerClosed
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = cb.now()

	if cb.failureCount >= cb.failureThreshold || cb.state == breakerHalfOpen {
		cb.state = breakerOpen
	}
}

// retryableExporter wraps an exporter with retry logic and circuit breaker
type retryableExporter struct {
	exporter       sdktrace.SpanExporter
	circuitBreaker *circuitBreaker
	newBackOff     func() backoff.BackOff
	maxTries       uint
}

func newRetryableExporter(exporter sdktrace.SpanExporter) *retryableExporter {
	return &retryableExporter{
		exporter:       exporter,
		circuitBreaker: newCircuitBreaker(),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.Multiplier = 1.5
			return b
		},
		maxTries: 5,
	}
}

func (re *retryableExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if !re.circuitBreaker.allow() {
		return fmt.Errorf("circuit breaker open: too many export failures")
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, re.exporter.ExportSpans(ctx, spans)
	},
		backoff.WithBackOff(re.newBackOff()),
		backoff.WithMaxTries(re.maxTries),
		backoff.WithMaxElapsedTime(10*time.Second),
	)
	if err != nil {
		re.circuitBreaker.recordFailure()
		return fmt.Errorf("export failed: %w", err)
	}

	re.circuitBreaker.recordSuccess()
	return nil
}

func (re *retryableExporter) Shutdown(ctx context.Context) error {
	return re.exporter.Shutdown(ctx)
}

// createResource creates an OTLP resource with service information
func createResource(cfg Config) (*resource.Resource, error) {
	return resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
		resource.WithProcessRuntimeDescription(),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
}

// InitProvider initializes the OpenTelemetry tracer provider.
// Returns a shutdown function and any initialization error
func InitProvider(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	providerMu.Lock()
	defer providerMu.Unlock()

	if !cfg.Enabled {
		globalProvider = noop.NewTracerProvider()
		globalShutdown = func(context.Context) error { return nil }
		otel.SetTracerProvider(globalProvider)
		return globalShutdown, nil
	}

	res, err := createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.SampleRate < 1.0 {
		opts = append(opts, sdktrace.WithSampler(
			sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
		))
	} else {
		opts = append(opts, sdktrace.WithSampler(sdktrace.AlwaysSample()))
	}

	if cfg.Endpoint != "" {
		exporterOpts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
		}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}

		opts = append(opts, sdktrace.WithBatcher(
			newRetryableExporter(exporter),
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	globalProvider = tp
	otel.SetTracerProvider(tp)

	globalShutdown = func(shutdownCtx context.Context) error {
		return tp.Shutdown(shutdownCtx)
	}
	return globalShutdown, nil
}

// Shutdown gracefully shuts down the tracer provider
func Shutdown(ctx context.Context) error {
	providerMu.RLock()
	shutdown := globalShutdown
	providerMu.RUnlock()

	if shutdown != nil {
		return shutdown(ctx)
	}
	return nil
}

// ForceFlush forces all pending spans to be exported
func ForceFlush(ctx context.Context) error {
	providerMu.RLock()
	provider := globalProvider
	providerMu.RUnlock()

	if tp, ok := provider.(*sdktrace.TracerProvider); ok {
		return tp.ForceFlush(ctx)
	}
	return nil
}

// GetTracerProvider returns the current global tracer provider
func GetTracerProvider() trace.TracerProvider {
	providerMu.RLock()
	defer providerMu.RUnlock()

	if globalProvider != nil {
		return globalProvider
	}
	return noop.NewTracerProvider()
}
