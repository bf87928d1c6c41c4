// Package metrics 提供基于Prometheus的指标收集
//
// 核心概念：
// 1. Counter（计数器）：只增不减的累计值（预留总数、冲突总数）
// 2. Gauge（仪表盘）：可增可减的瞬时值（当前有效预留数）
// 3. Histogram（直方图）：观测值分布，自动计算分位数（清扫耗时）
//
// 教学要点：
// - Counter以_total结尾，Histogram以单位结尾（_seconds）
// - 用标签区分维度（op/result），避免高基数标签（不要用product_id）
// - 应用通过promhttp暴露/metrics端点，由Prometheus周期抓取
//
// 使用示例：
//
//	metrics.InitMetrics()
//	http.Handle("/metrics", promhttp.Handler())
//	go http.ListenAndServe(":9090", nil)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// initOnce 保证只注册一次（重复注册会panic）
	initOnce sync.Once

	// 预留引擎指标

	// ReservationsTotal 预留操作总数（Counter）
	// 标签：op（reserve/release/commit）、result（success/failure）
	ReservationsTotal *prometheus.CounterVec

	// ReservationsActive 当前有效预留数（Gauge）
	ReservationsActive prometheus.Gauge

	// StockConflictsTotal 乐观锁版本冲突总数（Counter）
	// 教学要点：冲突是正常现象，持续升高说明单品竞争激烈
	StockConflictsTotal prometheus.Counter

	// StockEventsTotal 低库存/恢复事件总数（Counter）
	// 标签：type（low_stock/restocked）
	StockEventsTotal *prometheus.CounterVec

	// 后台清扫指标

	// SweepDuration 单轮清扫耗时（Histogram）
	SweepDuration prometheus.Histogram

	// SweptReservationsTotal 被回收的过期预留总数（Counter）
	SweptReservationsTotal prometheus.Counter

	// 批量调整指标

	// BulkItemsTotal 批量调整条目总数（Counter）
	// 标签：mode（all_or_nothing/best_effort）、result（success/failure）
	BulkItemsTotal *prometheus.CounterVec

	// 消息队列指标

	// MessagesPublishedTotal 消息发布总数（Counter）
	// 标签：routing_key、result（success/failure/buffered）
	MessagesPublishedTotal *prometheus.CounterVec

	// 熔断器指标

	// CircuitBreakerState 熔断器状态（Gauge）
	// 0=CLOSED, 1=OPEN, 2=HALF_OPEN
	CircuitBreakerState *prometheus.GaugeVec
)

// InitMetrics 初始化所有Prometheus指标
//
// 必须在程序启动时调用一次，注册所有指标到默认Registry
func InitMetrics() {
	initOnce.Do(registerAll)
}

func registerAll() {
	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockcore_reservations_total",
			Help: "预留操作总数",
		},
		[]string{"op", "result"},
	)

	ReservationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stockcore_reservations_active",
			Help: "当前有效预留数",
		},
	)

	StockConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stockcore_stock_conflicts_total",
			Help: "乐观锁版本冲突总数",
		},
	)

	StockEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockcore_stock_events_total",
			Help: "低库存/恢复事件总数",
		},
		[]string{"type"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stockcore_sweep_duration_seconds",
			Help:    "单轮过期预留清扫耗时",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
		},
	)

	SweptReservationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stockcore_swept_reservations_total",
			Help: "被回收的过期预留总数",
		},
	)

	BulkItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockcore_bulk_items_total",
			Help: "批量调整条目总数",
		},
		[]string{"mode", "result"},
	)

	MessagesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockcore_messages_published_total",
			Help: "消息发布总数",
		},
		[]string{"routing_key", "result"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stockcore_circuit_breaker_state",
			Help: "熔断器状态（0=CLOSED, 1=OPEN, 2=HALF_OPEN）",
		},
		[]string{"name"},
	)
}
