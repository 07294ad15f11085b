// Package prometheus exports scheduler metrics as Prometheus collectors.
package prometheus

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/jzx17/gosched/pkg/types"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	PollDurationBuckets []float64
}

// MetricsExporter adapts types.Metrics to Prometheus collectors.
type MetricsExporter struct {
	pollDurationSeconds *prom.HistogramVec
	taskPanicTotal      *prom.CounterVec
	stealTotal          *prom.CounterVec
	stolenTasksTotal    *prom.CounterVec
	parkTotal           *prom.CounterVec
	unparkTotal         *prom.CounterVec
	queueDepth          *prom.GaugeVec
	blockingThreads     *prom.GaugeVec
}

var _ types.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for types.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "gosched"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.PollDurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	pollVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "poll_duration_seconds",
		Help:      "Duration of a single task poll in seconds.",
		Buckets:   buckets,
	}, []string{"worker"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of panics recovered at the poll boundary.",
	}, []string{"worker"})
	stealVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "steal_operations_total",
		Help:      "Total number of successful steal operations.",
	}, []string{"worker"})
	stolenVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "stolen_tasks_total",
		Help:      "Total number of tasks moved by steal operations.",
	}, []string{"worker"})
	parkVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "worker_park_total",
		Help:      "Total number of times a worker went idle.",
	}, []string{"worker"})
	unparkVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "worker_unpark_total",
		Help:      "Total number of times an idle worker was woken.",
	}, []string{"worker"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current depth of a scheduler queue.",
	}, []string{"queue"})
	blockingVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "blocking_threads",
		Help:      "Current blocking pool thread counts.",
	}, []string{"state"})

	var err error
	if pollVec, err = registerCollector(reg, pollVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if stealVec, err = registerCollector(reg, stealVec); err != nil {
		return nil, err
	}
	if stolenVec, err = registerCollector(reg, stolenVec); err != nil {
		return nil, err
	}
	if parkVec, err = registerCollector(reg, parkVec); err != nil {
		return nil, err
	}
	if unparkVec, err = registerCollector(reg, unparkVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if blockingVec, err = registerCollector(reg, blockingVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		pollDurationSeconds: pollVec,
		taskPanicTotal:      panicVec,
		stealTotal:          stealVec,
		stolenTasksTotal:    stolenVec,
		parkTotal:           parkVec,
		unparkTotal:         unparkVec,
		queueDepth:          queueDepthVec,
		blockingThreads:     blockingVec,
	}, nil
}

// RecordPoll records one completed poll step and its duration.
func (m *MetricsExporter) RecordPoll(workerID int, d time.Duration) {
	if m == nil {
		return
	}
	m.pollDurationSeconds.WithLabelValues(workerLabel(workerID)).Observe(d.Seconds())
}

// RecordTaskPanic records a panic recovered at the poll boundary.
func (m *MetricsExporter) RecordTaskPanic(workerID int) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(workerLabel(workerID)).Inc()
}

// RecordSteal records a successful steal and the batch size moved.
func (m *MetricsExporter) RecordSteal(workerID int, batch int) {
	if m == nil {
		return
	}
	label := workerLabel(workerID)
	m.stealTotal.WithLabelValues(label).Inc()
	m.stolenTasksTotal.WithLabelValues(label).Add(float64(batch))
}

// RecordPark records a worker going idle.
func (m *MetricsExporter) RecordPark(workerID int) {
	if m == nil {
		return
	}
	m.parkTotal.WithLabelValues(workerLabel(workerID)).Inc()
}

// RecordUnpark records an idle worker being woken.
func (m *MetricsExporter) RecordUnpark(workerID int) {
	if m == nil {
		return
	}
	m.unparkTotal.WithLabelValues(workerLabel(workerID)).Inc()
}

// RecordQueueDepth records the depth of a named queue.
func (m *MetricsExporter) RecordQueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	if queue == "" {
		queue = "unknown"
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordBlockingThreads records blocking-pool thread gauges.
func (m *MetricsExporter) RecordBlockingThreads(live, idle int) {
	if m == nil {
		return
	}
	m.blockingThreads.WithLabelValues("live").Set(float64(live))
	m.blockingThreads.WithLabelValues("idle").Set(float64(idle))
}

func workerLabel(id int) string {
	if id < 0 {
		return "unknown"
	}
	return strconv.Itoa(id)
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
