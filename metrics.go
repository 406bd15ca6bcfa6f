package zeus

import (
	"github.com/rcrowley/go-metrics"
)

type engineMetrics struct {
	pushImmediate   metrics.Counter
	pushDeferred    metrics.Counter
	popImmediate    metrics.Counter
	popDeferred     metrics.Counter
	tokensCompleted metrics.Counter
	tokensCancelled metrics.Counter
	transportErrors metrics.Counter
	queuesOpen      metrics.Gauge
	outstanding     metrics.Gauge
	wait            metrics.Timer
}

func newEngineMetrics(r metrics.Registry) *engineMetrics {
	return &engineMetrics{
		pushImmediate:   metrics.GetOrRegisterCounter("zeus.push.immediate", r),
		pushDeferred:    metrics.GetOrRegisterCounter("zeus.push.deferred", r),
		popImmediate:    metrics.GetOrRegisterCounter("zeus.pop.immediate", r),
		popDeferred:     metrics.GetOrRegisterCounter("zeus.pop.deferred", r),
		tokensCompleted: metrics.GetOrRegisterCounter("zeus.tokens.completed", r),
		tokensCancelled: metrics.GetOrRegisterCounter("zeus.tokens.cancelled", r),
		transportErrors: metrics.GetOrRegisterCounter("zeus.transport.errors", r),
		queuesOpen:      metrics.GetOrRegisterGauge("zeus.queues.open", r),
		outstanding:     metrics.GetOrRegisterGauge("zeus.tokens.outstanding", r),
		wait:            metrics.GetOrRegisterTimer("zeus.wait", r),
	}
}
