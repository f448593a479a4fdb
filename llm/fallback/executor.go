// Package fallback executes chat completions against a primary provider and
// walks the request's fallback chain when the primary fails with a matching
// error class. Retries within one target, switching between targets, and
// per-attempt trace logging all live here; adapters stay retry-free.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/promptgate/promptgate/internal/metrics"
	"github.com/promptgate/promptgate/llm"
	"github.com/promptgate/promptgate/llm/streaming"
	"github.com/promptgate/promptgate/trace"
)

// TraceSink persists one record per provider attempt. *trace.Logger
// implements it.
type TraceSink interface {
	Log(ctx context.Context, a trace.Attempt) (uint, error)
}

// Attempt summarizes one physical provider call, successful or failed.
type Attempt struct {
	Provider llm.ProviderKind
	Model    string
	// Target is the index into the policy's target list, -1 for the primary.
	Target   int
	Try      int
	TraceID  uint
	Duration time.Duration
	Err      error
}

// ExhaustedError is returned when the primary and every matching fallback
// target failed with fallback-eligible errors.
type ExhaustedError struct {
	Attempts []Attempt
	Last     error
}

func (e *ExhaustedError) Error() string {
	pairs := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		pairs = append(pairs, string(a.Provider)+"/"+a.Model)
	}
	return fmt.Sprintf("all providers exhausted (%s): %v", strings.Join(pairs, ", "), e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// deliveredError marks a streaming failure that happened after chunks
// reached the caller's sink. The stream is already visible, so no retry or
// fallback may run.
type deliveredError struct{ err error }

func (e *deliveredError) Error() string { return e.err.Error() }
func (e *deliveredError) Unwrap() error { return e.err }

// Options tunes an Executor. Zero values get defaults.
type Options struct {
	Retry   *RetryPolicy
	Metrics *metrics.Collector
	Tracer  oteltrace.Tracer
}

// Executor runs the attempt sequence for unary and streaming completions.
type Executor struct {
	factory llm.ProviderFactory
	traces  TraceSink
	retry   *RetryPolicy
	mux     *streaming.Multiplexer
	metrics *metrics.Collector
	tracer  oteltrace.Tracer
	logger  *zap.Logger
}

// NewExecutor creates an executor. A nil logger is replaced with a no-op.
func NewExecutor(factory llm.ProviderFactory, traces TraceSink, opts Options, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	retry := opts.Retry
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	retry.normalize()
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("promptgate/fallback")
	}
	return &Executor{
		factory: factory,
		traces:  traces,
		retry:   retry,
		mux:     streaming.NewMultiplexer(logger),
		metrics: opts.Metrics,
		tracer:  tracer,
		logger:  logger.With(zap.String("component", "fallback")),
	}
}

// attemptFunc performs one physical provider call and reports its summary.
type attemptFunc func(ctx context.Context, provider llm.Provider, req *llm.MaterializedRequest, target, try int) (*llm.ChatResponse, Attempt, error)

// Execute runs a unary completion through the attempt sequence. The
// returned attempts cover every physical call made, in order.
func (e *Executor) Execute(ctx context.Context, req *llm.MaterializedRequest) (*llm.ChatResponse, []Attempt, error) {
	return e.execute(ctx, req, e.unaryCall)
}

// ExecuteStream runs a streaming completion, forwarding chunks to sink.
// Attempts that fail before their first chunk reaches the sink stay
// invisible to the caller and remain eligible for retry and fallback; once
// a chunk has been delivered the stream is committed to that attempt. A
// sink closed by the consumer aborts the whole sequence.
// ExecuteStream finishes the sink before returning.
func (e *Executor) ExecuteStream(ctx context.Context, req *llm.MaterializedRequest, sink *streaming.Sink) (*llm.ChatResponse, []Attempt, error) {
	defer sink.Finish()
	resp, attempts, err := e.execute(ctx, req, e.streamCall(sink))
	var de *deliveredError
	if errors.As(err, &de) {
		err = de.err
	}
	return resp, attempts, err
}

func (e *Executor) execute(ctx context.Context, req *llm.MaterializedRequest, call attemptFunc) (*llm.ChatResponse, []Attempt, error) {
	policy := req.FallbackPolicy
	primary := req
	if policy != nil {
		primary = req.Clone()
		primary.FallbackPolicy = nil
	}

	var attempts []Attempt
	resp, err := e.runTarget(ctx, primary, -1, policy.Retries(), &attempts, call)
	if err == nil {
		return resp, attempts, nil
	}
	if fatal(err) {
		return nil, attempts, err
	}
	class := llm.ClassOf(err)
	if !llm.FallbackEligible(class) || !policy.Active() {
		return nil, attempts, err
	}

	last := err
	consulted := 0
	for i := range policy.Targets {
		target := policy.Targets[i]
		if !target.Catches(class) {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		consulted++
		e.metrics.ObserveFallback(string(class))
		e.logger.Info("falling back",
			zap.String("class", string(class)),
			zap.String("provider", string(target.Provider)),
			zap.String("model", target.Model))

		resp, err = e.runTarget(ctx, target.Apply(req), i, policy.Retries(), &attempts, call)
		if err == nil {
			return resp, attempts, nil
		}
		if fatal(err) {
			return nil, attempts, err
		}
		last = err
		class = llm.ClassOf(err)
		if !llm.FallbackEligible(class) {
			return nil, attempts, err
		}
	}
	if consulted == 0 {
		// No target catches the primary class: the primary error surfaces
		// unchanged.
		return nil, attempts, last
	}
	return nil, attempts, &ExhaustedError{Attempts: attempts, Last: last}
}

// runTarget exhausts one target: resolve the adapter, then call it up to
// 1+retries times with backoff between retryable failures.
func (e *Executor) runTarget(ctx context.Context, req *llm.MaterializedRequest, target, retries int, attempts *[]Attempt, call attemptFunc) (*llm.ChatResponse, error) {
	provider, err := e.factory.Provider(req.Provider, req.BaseURL)
	if err != nil {
		tid, terr := e.traces.Log(ctx, trace.Attempt{Request: req, Err: err})
		*attempts = append(*attempts, Attempt{
			Provider: req.Provider, Model: req.Model, Target: target, TraceID: tid, Err: err,
		})
		if terr != nil {
			return nil, terr
		}
		return nil, err
	}

	var lastErr error
	for try := 0; ; try++ {
		if try > 0 {
			if serr := sleep(ctx, e.retry.Delay(try)); serr != nil {
				return nil, lastErr
			}
			e.logger.Debug("retrying target",
				zap.String("provider", string(req.Provider)),
				zap.Int("try", try),
				zap.Error(lastErr))
		}
		resp, a, err := call(ctx, provider, req, target, try)
		*attempts = append(*attempts, a)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if fatal(err) || !llm.IsRetryable(err) || try >= retries {
			return nil, lastErr
		}
	}
}

func (e *Executor) unaryCall(ctx context.Context, provider llm.Provider, req *llm.MaterializedRequest, target, try int) (*llm.ChatResponse, Attempt, error) {
	ctx, span := e.startSpan(ctx, "llm.completion", req, target, try)
	defer span.End()

	start := time.Now()
	resp, err := provider.Completion(ctx, req)
	dur := time.Since(start)

	return e.finishAttempt(ctx, span, req, resp, err, target, try, dur)
}

// streamCall adapts one streaming attempt to attemptFunc. The failure is
// wrapped in deliveredError once chunks reached the sink.
func (e *Executor) streamCall(sink *streaming.Sink) attemptFunc {
	return func(ctx context.Context, provider llm.Provider, req *llm.MaterializedRequest, target, try int) (*llm.ChatResponse, Attempt, error) {
		ctx, span := e.startSpan(ctx, "llm.completion.stream", req, target, try)
		defer span.End()
		// Cancelling the attempt context when Forward bails out closes the
		// adapter's upstream connection.
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		start := time.Now()
		var (
			resp      *llm.ChatResponse
			forwarded int
		)
		upstream, err := provider.Stream(ctx, req)
		if err == nil {
			res, ferr := e.mux.Forward(ctx, upstream, sink)
			resp, forwarded, err = res.Response, res.Forwarded, ferr
		}
		dur := time.Since(start)

		if err != nil && forwarded > 0 {
			err = &deliveredError{err: err}
		}
		return e.finishAttempt(ctx, span, req, resp, err, target, try, dur)
	}
}

// finishAttempt writes the trace record, records metrics and closes out the
// span. A trace write failure supersedes the provider outcome.
func (e *Executor) finishAttempt(ctx context.Context, span oteltrace.Span, req *llm.MaterializedRequest, resp *llm.ChatResponse, err error, target, try int, dur time.Duration) (*llm.ChatResponse, Attempt, error) {
	a := Attempt{
		Provider: req.Provider,
		Model:    req.Model,
		Target:   target,
		Try:      try,
		Duration: dur,
		Err:      err,
	}

	tid, terr := e.traces.Log(ctx, trace.Attempt{Request: req, Response: resp, Err: err})
	a.TraceID = tid

	outcome := "ok"
	if err != nil {
		outcome = string(llm.ClassOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	e.metrics.ObserveAttempt(string(req.Provider), req.Model, outcome, dur)
	if err == nil && resp != nil && resp.Usage != nil {
		e.metrics.ObserveTokens(string(req.Provider), req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	if terr != nil {
		a.Err = terr
		span.RecordError(terr)
		span.SetStatus(codes.Error, string(llm.ClassDbLogging))
		return nil, a, terr
	}
	if err != nil {
		return nil, a, err
	}
	return resp, a, nil
}

func (e *Executor) startSpan(ctx context.Context, name string, req *llm.MaterializedRequest, target, try int) (context.Context, oteltrace.Span) {
	return e.tracer.Start(ctx, name, oteltrace.WithAttributes(
		attribute.String("llm.provider", string(req.Provider)),
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.fallback_target", target),
		attribute.Int("llm.try", try),
	))
}

// fatal reports errors that abort the whole sequence: trace persistence
// failures, consumer abandonment of the sink, and streaming failures
// already visible to the caller. None of these can be cured by retrying
// or by another provider.
func fatal(err error) bool {
	if llm.ClassOf(err) == llm.ClassDbLogging {
		return true
	}
	if errors.Is(err, streaming.ErrSinkClosed) {
		return true
	}
	var de *deliveredError
	return errors.As(err, &de)
}
