package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 客户端引擎的 Prometheus 指标。
var (
	// GatewayRequestDuration 按操作与结果统计远程调用耗时。
	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "automater",
		Name:      "gateway_request_duration_seconds",
		Help:      "Duration of remote API calls by operation and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op", "status"})

	// PollAttemptsTotal 是所有任务累计发出的轮询次数。
	PollAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "automater",
		Name:      "poll_attempts_total",
		Help:      "Total number of job progress polls issued.",
	})

	// JobOutcomeTotal 按终态统计轮询结束的任务数。
	JobOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "automater",
		Name:      "job_outcome_total",
		Help:      "Terminal outcomes of tracked scrape jobs.",
	}, []string{"outcome"})

	// SubmissionsTotal 按结果统计抓取提交（accepted / duplicate / failed）。
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "automater",
		Name:      "scrape_submissions_total",
		Help:      "Scrape submissions by admission result.",
	}, []string{"result"})

	// ActiveWorkflows 是当前进行中的抓取工作流数量。
	ActiveWorkflows = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "automater",
		Name:      "active_workflows",
		Help:      "Number of scrape workflows currently in flight.",
	})

	workflowPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "automater",
		Name:      "workflow_pool_size",
		Help:      "Configured size of the workflow worker pool.",
	})
)

// InitMetrics 记录静态配置指标。
func InitMetrics(poolSize int) {
	workflowPoolSize.Set(float64(poolSize))
}
