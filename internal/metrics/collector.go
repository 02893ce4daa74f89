// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 优化循环指标
	stepsTotal       *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	lossValue        *prometheus.GaugeVec
	stageTransitions *prometheus.CounterVec
	bestScore        prometheus.Gauge
	bestIteration    prometheus.Gauge
	newBestTotal     prometheus.Counter
	degenerateTotal  *prometheus.CounterVec

	// 渲染与产物指标
	renderDuration *prometheus.HistogramVec
	artifactsTotal *prometheus.CounterVec

	// 嵌入指标
	embeddingRequests *prometheus.CounterVec
	embeddingDuration *prometheus.HistogramVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 优化循环指标
	c.stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refine_steps_total",
			Help:      "Total number of refinement steps",
		},
		[]string{"stage"},
	)

	c.stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refine_step_duration_seconds",
			Help:      "Refinement step duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)

	c.lossValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refine_loss",
			Help:      "Latest value of each loss component",
		},
		[]string{"component"}, // clip, l2_latent, l2_param, consistency, total, quality
	)

	c.stageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refine_stage_transitions_total",
			Help:      "Total number of schedule stage transitions",
		},
		[]string{"from_stage", "to_stage"},
	)

	c.bestScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refine_best_score",
			Help:      "Best quality score observed so far",
		},
	)

	c.bestIteration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refine_best_iteration",
			Help:      "Iteration that produced the best quality score",
		},
	)

	c.newBestTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refine_new_best_total",
			Help:      "Total number of new best results",
		},
	)

	c.degenerateTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refine_degenerate_metrics_total",
			Help:      "Total number of steps with non-finite loss terms",
		},
		[]string{"component"},
	)

	// 渲染与产物指标
	c.renderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Render duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"view"},
	)

	c.artifactsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_written_total",
			Help:      "Total number of artifact writes",
		},
		[]string{"kind", "status"},
	)

	// 嵌入指标
	c.embeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "status"},
	)

	c.embeddingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider"},
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🔁 优化循环指标记录
// =============================================================================

// RecordStep 记录一次优化步
func (c *Collector) RecordStep(stage string, duration time.Duration) {
	c.stepsTotal.WithLabelValues(stage).Inc()
	c.stepDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordLoss 记录某个损失分量的最新值
func (c *Collector) RecordLoss(component string, value float64) {
	c.lossValue.WithLabelValues(component).Set(value)
}

// RecordStageTransition 记录阶段切换
func (c *Collector) RecordStageTransition(from, to string) {
	c.stageTransitions.WithLabelValues(from, to).Inc()
}

// RecordBest 记录新的最佳结果
func (c *Collector) RecordBest(iteration int, score float64) {
	c.newBestTotal.Inc()
	c.bestIteration.Set(float64(iteration))
	c.bestScore.Set(score)
}

// RecordDegenerate 记录非有限损失
func (c *Collector) RecordDegenerate(component string) {
	c.degenerateTotal.WithLabelValues(component).Inc()
}

// =============================================================================
// 🖼️ 渲染与产物指标记录
// =============================================================================

// RecordRender 记录一次渲染
func (c *Collector) RecordRender(view string, duration time.Duration) {
	c.renderDuration.WithLabelValues(view).Observe(duration.Seconds())
}

// RecordArtifact 记录产物写入结果
func (c *Collector) RecordArtifact(kind string, err error) {
	c.artifactsTotal.WithLabelValues(kind, status(err)).Inc()
}

// =============================================================================
// 🔤 嵌入指标记录
// =============================================================================

// RecordEmbedding 记录嵌入请求
func (c *Collector) RecordEmbedding(provider string, duration time.Duration, err error) {
	c.embeddingRequests.WithLabelValues(provider, status(err)).Inc()
	c.embeddingDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// status 将错误归类为 success/error
func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
