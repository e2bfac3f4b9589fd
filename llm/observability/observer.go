package observability

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/behole/institutionalized/llm"

// Observer 为 Agent 调用与审议运行产生 OpenTelemetry Span 与指标。
// nil Observer 的所有方法均为空操作。
type Observer struct {
	tracer trace.Tracer
	// 计数器
	callTotal  metric.Int64Counter
	tokenTotal metric.Int64Counter
	errorTotal metric.Int64Counter
	roundTotal metric.Int64Counter
	runTotal   metric.Int64Counter
	// 直方图
	callDuration metric.Float64Histogram
	costPerCall  metric.Float64Histogram
	costPerRun   metric.Float64Histogram
	// 仪表
	activeCalls metric.Int64UpDownCounter
}

// Option 配置 Observer
type Option func(*options)

type options struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// WithTracerProvider 指定 TracerProvider，默认使用全局 Provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMeterProvider 指定 MeterProvider，默认使用全局 Provider
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// NewObserver 创建 Observer
func NewObserver(opts ...Option) (*Observer, error) {
	o := options{
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.meterProvider.Meter(instrumentationName)
	obs := &Observer{tracer: o.tracerProvider.Tracer(instrumentationName)}

	var err error

	// 调用计数
	obs.callTotal, err = meter.Int64Counter("agent.call.total",
		metric.WithDescription("Total number of agent call attempts"),
		metric.WithUnit("{call}"))
	if err != nil {
		return nil, err
	}

	// Token 计数
	obs.tokenTotal, err = meter.Int64Counter("agent.token.total",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	// 错误计数
	obs.errorTotal, err = meter.Int64Counter("agent.error.total",
		metric.WithDescription("Total number of failed attempts"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}

	// 轮次计数
	obs.roundTotal, err = meter.Int64Counter("deliberation.round.total",
		metric.WithDescription("Total number of iterative rounds"),
		metric.WithUnit("{round}"))
	if err != nil {
		return nil, err
	}

	// 运行计数
	obs.runTotal, err = meter.Int64Counter("deliberation.run.total",
		metric.WithDescription("Total number of deliberation runs"),
		metric.WithUnit("{run}"))
	if err != nil {
		return nil, err
	}

	// 调用延迟
	obs.callDuration, err = meter.Float64Histogram("agent.call.duration",
		metric.WithDescription("Agent call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120))
	if err != nil {
		return nil, err
	}

	// 单次调用成本
	obs.costPerCall, err = meter.Float64Histogram("agent.call.cost",
		metric.WithDescription("Cost per agent call in USD"),
		metric.WithUnit("USD"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1))
	if err != nil {
		return nil, err
	}

	// 单次运行成本
	obs.costPerRun, err = meter.Float64Histogram("deliberation.run.cost",
		metric.WithDescription("Cost per deliberation run in USD"),
		metric.WithUnit("USD"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.5, 1, 5))
	if err != nil {
		return nil, err
	}

	// 活跃调用数
	obs.activeCalls, err = meter.Int64UpDownCounter("agent.call.active",
		metric.WithDescription("Number of in-flight agent calls"),
		metric.WithUnit("{call}"))
	if err != nil {
		return nil, err
	}

	return obs, nil
}

// CallAttrs 调用属性
type CallAttrs struct {
	Framework string
	Agent     string
	Backend   string
	Model     string
	Attempt   int
}

// CallResult 调用结果
type CallResult struct {
	Status       string
	ErrorCode    string
	InputTokens  int
	OutputTokens int
	Cost         float64
	Duration     time.Duration
	Err          error
}

// StartCall 开始一次调用尝试的追踪
func (o *Observer) StartCall(ctx context.Context, attrs CallAttrs) (context.Context, trace.Span) {
	if o == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	ctx, span := o.tracer.Start(ctx, "agent.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("deliberation.framework", attrs.Framework),
			attribute.String("agent.label", attrs.Agent),
			attribute.String("llm.backend", attrs.Backend),
			attribute.String("llm.model", attrs.Model),
			attribute.Int("agent.attempt", attrs.Attempt),
		))

	o.activeCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", attrs.Backend),
		attribute.String("model", attrs.Model)))

	return ctx, span
}

// EndCall 结束调用追踪并记录指标
func (o *Observer) EndCall(ctx context.Context, span trace.Span, attrs CallAttrs, res CallResult) {
	if o == nil {
		return
	}
	defer span.End()

	common := metric.WithAttributes(
		attribute.String("backend", attrs.Backend),
		attribute.String("model", attrs.Model),
		attribute.String("status", res.Status),
	)

	// 减少活跃调用
	o.activeCalls.Add(ctx, -1, metric.WithAttributes(
		attribute.String("backend", attrs.Backend),
		attribute.String("model", attrs.Model)))

	o.callTotal.Add(ctx, 1, common)
	o.callDuration.Record(ctx, res.Duration.Seconds(), common)

	if res.InputTokens > 0 {
		o.tokenTotal.Add(ctx, int64(res.InputTokens), metric.WithAttributes(
			attribute.String("backend", attrs.Backend),
			attribute.String("model", attrs.Model),
			attribute.String("type", "input")))
	}
	if res.OutputTokens > 0 {
		o.tokenTotal.Add(ctx, int64(res.OutputTokens), metric.WithAttributes(
			attribute.String("backend", attrs.Backend),
			attribute.String("model", attrs.Model),
			attribute.String("type", "output")))
	}
	if res.Cost > 0 {
		o.costPerCall.Record(ctx, res.Cost, common)
	}

	span.SetAttributes(
		attribute.String("agent.status", res.Status),
		attribute.Int("llm.tokens.input", res.InputTokens),
		attribute.Int("llm.tokens.output", res.OutputTokens),
		attribute.Float64("llm.cost_usd", res.Cost),
		attribute.Int64("agent.duration_ms", res.Duration.Milliseconds()))

	if res.Err != nil {
		o.errorTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("backend", attrs.Backend),
			attribute.String("model", attrs.Model),
			attribute.String("error_code", res.ErrorCode)))
		if res.ErrorCode != "" {
			span.SetAttributes(attribute.String("error.code", res.ErrorCode))
		}
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// StartRun 开始一次审议运行的追踪
func (o *Observer) StartRun(ctx context.Context, framework, topology, runID string) (context.Context, trace.Span) {
	if o == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return o.tracer.Start(ctx, "deliberation.run",
		trace.WithAttributes(
			attribute.String("deliberation.framework", framework),
			attribute.String("deliberation.topology", topology),
			attribute.String("deliberation.run_id", runID),
		))
}

// EndRun 结束运行追踪
func (o *Observer) EndRun(ctx context.Context, span trace.Span, framework, outcome string, cost float64, err error) {
	if o == nil {
		return
	}
	defer span.End()

	attrs := metric.WithAttributes(
		attribute.String("framework", framework),
		attribute.String("outcome", outcome))
	o.runTotal.Add(ctx, 1, attrs)
	o.costPerRun.Record(ctx, cost, attrs)

	span.SetAttributes(
		attribute.String("deliberation.outcome", outcome),
		attribute.Float64("deliberation.cost_usd", cost))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// RecordRound 在当前 Span 上记录一轮迭代事件
func (o *Observer) RecordRound(ctx context.Context, framework string, round int, statistic float64, converged bool) {
	if o == nil {
		return
	}
	o.roundTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("framework", framework),
		attribute.Bool("converged", converged)))

	eventAttrs := []attribute.KeyValue{
		attribute.Int("round", round),
		attribute.Bool("converged", converged),
	}
	// +Inf 表示统计量不可定义
	if !math.IsInf(statistic, 0) && !math.IsNaN(statistic) {
		eventAttrs = append(eventAttrs, attribute.Float64("statistic", statistic))
	}
	trace.SpanFromContext(ctx).AddEvent("deliberation.round", trace.WithAttributes(eventAttrs...))
}
