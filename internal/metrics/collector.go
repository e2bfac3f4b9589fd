// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，实现 workflow.Recorder
type Collector struct {
	// Agent 调用指标
	callsTotal    *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	tokensUsed    *prometheus.CounterVec
	costTotal     *prometheus.CounterVec
	retriesTotal  *prometheus.CounterVec
	callsInFlight prometheus.Gauge

	// 拓扑指标
	roundsTotal     *prometheus.CounterVec
	roundStatistic  *prometheus.GaugeVec
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	runCost         *prometheus.HistogramVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时注册到默认 Registerer。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// Agent 调用指标
	c.callsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_calls_total",
			Help:      "Total number of agent call attempts",
		},
		[]string{"backend", "model", "status"},
	)

	c.callDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_call_duration_seconds",
			Help:      "Agent call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"backend", "model"},
	)

	c.tokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"backend", "model", "type"}, // type: input, output
	)

	c.costTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_cost_usd_total",
			Help:      "Total estimated agent cost in USD",
		},
		[]string{"backend", "model"},
	)

	c.retriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_retries_total",
			Help:      "Total number of retried agent calls",
		},
		[]string{"backend", "reason"},
	)

	c.callsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_calls_in_flight",
			Help:      "Agent calls currently holding a concurrency slot",
		},
	)

	// 拓扑指标
	c.roundsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Total number of iterative rounds",
		},
		[]string{"framework", "converged"},
	)

	c.roundStatistic = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "round_statistic",
			Help:      "Convergence statistic of the latest round",
		},
		[]string{"framework"},
	)

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of deliberation runs",
		},
		[]string{"framework", "topology", "outcome"},
	)

	c.runDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Deliberation run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"framework", "topology"},
	)

	c.runCost = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_cost_usd",
			Help:      "Estimated cost of a deliberation run in USD",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"framework"},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🤖 Agent 调用指标记录
// =============================================================================

// RecordAgentCall 记录一次调用尝试
func (c *Collector) RecordAgentCall(backend, model, status string, duration time.Duration, inputTokens, outputTokens int, costUSD float64) {
	c.callsTotal.WithLabelValues(backend, model, status).Inc()
	c.callDuration.WithLabelValues(backend, model).Observe(duration.Seconds())
	c.tokensUsed.WithLabelValues(backend, model, "input").Add(float64(inputTokens))
	c.tokensUsed.WithLabelValues(backend, model, "output").Add(float64(outputTokens))
	if costUSD > 0 {
		c.costTotal.WithLabelValues(backend, model).Add(costUSD)
	}
}

// RecordRetry 记录一次重试
func (c *Collector) RecordRetry(backend, reason string) {
	c.retriesTotal.WithLabelValues(backend, reason).Inc()
}

// AddInFlight 调整占用并发槽位的调用数；多个运行共享同一 Gauge
func (c *Collector) AddInFlight(delta int) {
	c.callsInFlight.Add(float64(delta))
}

// =============================================================================
// 🔁 拓扑指标记录
// =============================================================================

// RecordRound 记录一轮迭代。统计量不可定义（+Inf）时不更新 Gauge。
func (c *Collector) RecordRound(framework string, round int, statistic float64, converged bool) {
	label := "false"
	if converged {
		label = "true"
	}
	c.roundsTotal.WithLabelValues(framework, label).Inc()
	if !math.IsInf(statistic, 0) && !math.IsNaN(statistic) {
		c.roundStatistic.WithLabelValues(framework).Set(statistic)
	}
	c.logger.Debug("round recorded",
		zap.String("framework", framework),
		zap.Int("round", round),
		zap.Float64("statistic", statistic),
		zap.Bool("converged", converged),
	)
}

// RecordRun 记录一次运行结束
func (c *Collector) RecordRun(framework, topology, outcome string, duration time.Duration, costUSD float64) {
	c.runsTotal.WithLabelValues(framework, topology, outcome).Inc()
	c.runDuration.WithLabelValues(framework, topology).Observe(duration.Seconds())
	c.runCost.WithLabelValues(framework).Observe(costUSD)
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}
