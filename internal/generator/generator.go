// Package generator turns a system prompt and an input artifact into a typed,
// schema-conforming artifact by calling a language model under a bounded
// retry policy.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/fyrsmithlabs/blueprint/internal/artifact"
	"github.com/fyrsmithlabs/blueprint/internal/logging"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/tmc/langchaingo/llms"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const instrumentationName = "github.com/fyrsmithlabs/blueprint/internal/generator"

// Rate limiter defaults: 50 requests per minute, bursts of 5.
const (
	defaultRatePerMinute = 50
	defaultBurst         = 5
)

// Request describes one stage's generation call.
type Request struct {
	Stage        string
	SystemPrompt string
	// Input is sent as the user message. Strings are sent verbatim,
	// anything else as indented JSON.
	Input           any
	MaxTokens       int
	BaseTemperature float64 // zero uses the policy base
}

// Generator calls a model under a RetryPolicy. It is safe for concurrent use.
type Generator struct {
	model   llms.Model
	policy  RetryPolicy
	limiter *rate.Limiter
	logger  *logging.Logger
	tracer  trace.Tracer

	attempts metric.Int64Counter
	failures metric.Int64Counter
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithRateLimit limits model calls to perMinute with the given burst.
// A non-positive perMinute disables limiting.
func WithRateLimit(perMinute, burst int) Option {
	return func(g *Generator) {
		if perMinute <= 0 {
			g.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		g.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
	}
}

// WithTracer sets the tracer used for attempt spans.
func WithTracer(t trace.Tracer) Option {
	return func(g *Generator) { g.tracer = t }
}

// WithMeter sets the meter used for attempt counters.
func WithMeter(m metric.Meter) Option {
	return func(g *Generator) { g.initMetrics(m) }
}

// New creates a Generator for model.
func New(model llms.Model, policy RetryPolicy, opts ...Option) (*Generator, error) {
	if model == nil {
		return nil, errors.New("generator: model is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("generator: invalid retry policy: %w", err)
	}

	g := &Generator{
		model:   model,
		policy:  policy,
		limiter: rate.NewLimiter(rate.Limit(defaultRatePerMinute/60.0), defaultBurst),
		logger:  logging.NewNop(),
		tracer:  otel.Tracer(instrumentationName),
	}
	g.initMetrics(otel.Meter(instrumentationName))
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Generator) initMetrics(m metric.Meter) {
	// Instrument creation only fails on invalid names; fall back to no-ops.
	var err error
	if g.attempts, err = m.Int64Counter("blueprint.generator.attempts",
		metric.WithDescription("Model calls made by the structured generator")); err != nil {
		g.attempts, _ = otel.Meter("noop").Int64Counter("noop")
	}
	if g.failures, err = m.Int64Counter("blueprint.generator.failures",
		metric.WithDescription("Stages that exhausted their generation attempts")); err != nil {
		g.failures, _ = otel.Meter("noop").Int64Counter("noop")
	}
}

// Policy returns the retry policy.
func (g *Generator) Policy() RetryPolicy {
	return g.policy
}

// artifactPtr is satisfied by *T when T is an artifact.
type artifactPtr[T any] interface {
	*T
	artifact.Conformer
}

// Generate produces a T for req.
//
// Each attempt waits for the rate limiter, calls the model with a bounded
// context, extracts the JSON object from the response, checks it against the
// JSON schema derived from T, decodes it, normalizes it and runs T's own
// Validate. Any failure consumes an attempt. Exhaustion returns a
// *GenerationError. Cancellation of ctx stops retrying immediately.
func Generate[T any, PT artifactPtr[T]](ctx context.Context, g *Generator, req Request) (*T, error) {
	schema, err := schemaFor[T]()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Stage, err)
	}

	messages, err := buildMessages(req, schema.raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Stage, err)
	}

	stageAttr := attribute.String("stage", req.Stage)
	var lastErr error
	attempt := 0

	for attempt < g.policy.MaxAttempts {
		attempt++
		temperature := g.policy.Temperature(attempt, req.BaseTemperature)

		out, err := attemptOnce[T, PT](ctx, g, req, messages, schema, attempt, temperature)
		if err == nil {
			g.attempts.Add(ctx, 1, metric.WithAttributes(stageAttr, attribute.String("outcome", "success")))
			return out, nil
		}
		lastErr = err
		g.attempts.Add(ctx, 1, metric.WithAttributes(stageAttr, attribute.String("outcome", "failure")))

		if ctx.Err() != nil {
			break
		}

		g.logger.Warn(ctx, "generation attempt failed",
			zap.String("stage", req.Stage),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", g.policy.MaxAttempts),
			zap.Float64("temperature", temperature),
			zap.Error(err),
		)

		if attempt < g.policy.MaxAttempts && g.policy.Delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(g.policy.Delay):
			}
			if ctx.Err() != nil {
				lastErr = ctx.Err()
				break
			}
		}
	}

	g.failures.Add(ctx, 1, metric.WithAttributes(stageAttr))
	g.logger.Error(ctx, "generation failed",
		zap.String("stage", req.Stage),
		zap.Int("attempts", attempt),
		zap.Error(lastErr),
	)
	return nil, &GenerationError{Stage: req.Stage, Attempts: attempt, LastErr: lastErr}
}

func attemptOnce[T any, PT artifactPtr[T]](ctx context.Context, g *Generator, req Request, messages []llms.MessageContent,
	schema *stageSchema, attempt int, temperature float64) (_ *T, err error) {

	ctx, span := g.tracer.Start(ctx, "generator.attempt", trace.WithAttributes(
		attribute.String("stage", req.Stage),
		attribute.Int("attempt", attempt),
		attribute.Float64("temperature", temperature),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.policy.AttemptTimeout)
	defer cancel()

	opts := []llms.CallOption{
		llms.WithTemperature(temperature),
		llms.WithJSONMode(),
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := g.model.GenerateContent(callCtx, messages, opts...)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s: %w", ErrAttemptTimeout, g.policy.AttemptTimeout, err)
		}
		return nil, fmt.Errorf("model call: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	content := resp.Choices[0].Content
	g.logger.Trace(ctx, "model response", zap.String("stage", req.Stage), zap.String("content", content))

	raw, ok := extractJSON(content)
	if !ok {
		return nil, ErrNoJSON
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoJSON, err)
	}
	if err := schema.resolved.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchema, err)
	}

	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchema, err)
	}
	if n, ok := any(out).(artifact.Normalizer); ok {
		n.Normalize()
	}
	if err := PT(out).Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func buildMessages(req Request, schema []byte) ([]llms.MessageContent, error) {
	var input string
	switch v := req.Input.(type) {
	case string:
		input = v
	default:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal input: %w", err)
		}
		input = string(b)
	}

	system := req.SystemPrompt +
		"\n\nRespond with a single JSON object and nothing else. It must match this JSON schema:\n" +
		string(schema)

	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, nil
}

type stageSchema struct {
	raw      []byte
	resolved *jsonschema.Resolved
}

func schemaFor[T any]() (*stageSchema, error) {
	typ := reflect.TypeFor[T]()
	if cached, ok := schemaCache.Load(typ); ok {
		return cached.(*stageSchema), nil
	}

	s, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("derive schema for %s: %w", typ, err)
	}
	allowExtraProperties(s)

	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema for %s: %w", typ, err)
	}
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", typ, err)
	}

	built := &stageSchema{raw: raw, resolved: resolved}
	actual, _ := schemaCache.LoadOrStore(typ, built)
	return actual.(*stageSchema), nil
}

// allowExtraProperties drops additionalProperties=false so extra keys from
// the model do not fail an attempt. Only declared keys are decoded.
func allowExtraProperties(s *jsonschema.Schema) {
	if s == nil {
		return
	}
	s.AdditionalProperties = nil
	for _, p := range s.Properties {
		allowExtraProperties(p)
	}
	allowExtraProperties(s.Items)
}
