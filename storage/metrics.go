package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"task-api/domain"
)

// Observer captures telemetry for store operations.
type Observer interface {
	RecordOperation(operation string, duration time.Duration, err error)
}

// PrometheusObserver exports store operation metrics to Prometheus.
type PrometheusObserver struct {
	duration *prometheus.HistogramVec
	failures *prometheus.CounterVec
}

// NewPrometheusObserver registers the operation duration and error metrics.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "task_api"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Latency of task store operations.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"operation"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_errors_total",
			Help:      "Count of task store operations that failed unexpectedly.",
		}, []string{"operation"}),
	}
	for _, c := range []prometheus.Collector{o.duration, o.failures} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register store metric: %w", err)
		}
	}
	return o, nil
}

// RecordOperation tracks duration and unexpected failures. Not-found and
// validation outcomes are caller errors and are not counted.
func (o *PrometheusObserver) RecordOperation(operation string, duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues(operation).Observe(duration.Seconds())
	if err == nil || isCallerError(err) {
		return
	}
	o.failures.WithLabelValues(operation).Inc()
}

func isCallerError(err error) bool {
	var verr *domain.ValidationError
	return errors.Is(err, domain.ErrNotFound) || errors.As(err, &verr)
}

// Instrumented reports every call on the wrapped store to an Observer.
type Instrumented struct {
	base     backend
	observer Observer
}

func NewInstrumented(base backend, observer Observer) *Instrumented {
	return &Instrumented{base: base, observer: observer}
}

func (s *Instrumented) record(op string, start time.Time, err error) {
	if s.observer == nil {
		return
	}
	s.observer.RecordOperation(op, time.Since(start), err)
}

func (s *Instrumented) CreateTask(ctx context.Context, in domain.NewTask) (task domain.Task, err error) {
	defer func(start time.Time) { s.record("create", start, err) }(time.Now())
	return s.base.CreateTask(ctx, in)
}

func (s *Instrumented) GetTask(ctx context.Context, id string) (task domain.Task, err error) {
	defer func(start time.Time) { s.record("get", start, err) }(time.Now())
	return s.base.GetTask(ctx, id)
}

func (s *Instrumented) ListTasks(ctx context.Context, status *domain.Status) (tasks []domain.Task, err error) {
	defer func(start time.Time) { s.record("list", start, err) }(time.Now())
	return s.base.ListTasks(ctx, status)
}

func (s *Instrumented) UpdateTask(ctx context.Context, id string, upd domain.TaskUpdate) (task domain.Task, err error) {
	defer func(start time.Time) { s.record("update", start, err) }(time.Now())
	return s.base.UpdateTask(ctx, id, upd)
}

func (s *Instrumented) DeleteTask(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.record("delete", start, err) }(time.Now())
	return s.base.DeleteTask(ctx, id)
}

func (s *Instrumented) Summarize(ctx context.Context) (sum domain.Summary, err error) {
	defer func(start time.Time) { s.record("summarize", start, err) }(time.Now())
	return s.base.Summarize(ctx)
}

type summarizer interface {
	Summarize(ctx context.Context) (domain.Summary, error)
}

// TaskCollector exports live task counts at scrape time.
type TaskCollector struct {
	src     summarizer
	timeout time.Duration
	byState *prometheus.Desc
	total   *prometheus.Desc
}

func NewTaskCollector(namespace string, src summarizer) *TaskCollector {
	if namespace == "" {
		namespace = "task_api"
	}
	return &TaskCollector{
		src:     src,
		timeout: 5 * time.Second,
		byState: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "tasks"),
			"Number of live tasks by status.",
			[]string{"status"}, nil,
		),
		total: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "tasks_live"),
			"Number of live tasks.",
			nil, nil,
		),
	}
}

func (c *TaskCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.byState
	ch <- c.total
}

func (c *TaskCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	sum, err := c.src.Summarize(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.total, err)
		return
	}
	for _, s := range domain.Statuses {
		ch <- prometheus.MustNewConstMetric(c.byState, prometheus.GaugeValue, float64(sum.ByStatus[s]), string(s))
	}
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(sum.Total))
}
