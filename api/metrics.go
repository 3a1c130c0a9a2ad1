package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "task-api/api"
	requestSpanName    = "task-api.request"
	requestEventName   = "task-api.request.completed"
	requestEventDomain = "task-api"
	observabilityEvent = "observability.event"
)

type requestMetrics struct {
	logger           *log.Logger
	span             trace.Span
	start            time.Time
	method           string
	route            string
	taskID           string
	tasksReturned    int
	hasTasksReturned bool
	emptyUpdate      bool
	errorStage       string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method string) (*requestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		method: method,
	}, spanCtx
}

func (m *requestMetrics) SetRoute(route string) {
	if m == nil {
		return
	}
	m.route = route
}

func (m *requestMetrics) SetTaskID(id string) {
	if m == nil {
		return
	}
	m.taskID = id
}

func (m *requestMetrics) SetTasksReturned(count int) {
	if m == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
	m.hasTasksReturned = true
}

// SetEmptyUpdate flags a PATCH that supplied no fields but still bumps updated_at.
func (m *requestMetrics) SetEmptyUpdate(empty bool) {
	if m == nil {
		return
	}
	m.emptyUpdate = empty
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if m == nil || stage == "" {
		return
	}
	m.errorStage = stage
}

// attrSet keeps span attributes and their log field twins in step.
type attrSet struct {
	kvs    []attribute.KeyValue
	fields map[string]any
}

func newAttrSet() *attrSet {
	return &attrSet{fields: make(map[string]any)}
}

func (a *attrSet) addString(key, v string) {
	a.kvs = append(a.kvs, attribute.String(key, v))
	a.fields[key] = v
}

func (a *attrSet) addInt(key string, v int) {
	a.kvs = append(a.kvs, attribute.Int(key, v))
	a.fields[key] = v
}

func (a *attrSet) addBool(key string, v bool) {
	a.kvs = append(a.kvs, attribute.Bool(key, v))
	a.fields[key] = v
}

func (a *attrSet) addFloat(key string, v float64) {
	a.kvs = append(a.kvs, attribute.Float64(key, v))
	a.fields[key] = v
}

// Log ends the request span and emits one observability event.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	attrs := newAttrSet()
	attrs.addString("http.method", m.method)
	attrs.addString("http.route", m.route)
	attrs.addInt("http.status_code", status)
	attrs.addFloat("task_api.total_ms", durationToMillis(time.Since(m.start)))
	if m.taskID != "" {
		attrs.addString("task_api.task_id", m.taskID)
	}
	if m.hasTasksReturned {
		attrs.addInt("task_api.tasks_returned", m.tasksReturned)
	}
	if m.emptyUpdate {
		attrs.addBool("task_api.empty_update", true)
	}
	if m.errorStage != "" {
		attrs.addString("task_api.error_stage", m.errorStage)
	}
	if err != nil {
		attrs.addString("error.message", err.Error())
	}

	severityText, severityNumber := severityForStatus(status, err)

	if m.span != nil {
		m.span.SetAttributes(attrs.kvs...)
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", requestEventName),
			attribute.String("event.domain", requestEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		}, attrs.kvs...)
		m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))

		switch {
		case err != nil:
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		case status >= http.StatusInternalServerError:
			m.span.SetStatus(codes.Error, http.StatusText(status))
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"attributes":      attrs.fields,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if m.span != nil {
		sc := m.span.SpanContext()
		if sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
		if sc.HasSpanID() {
			fields["span_id"] = sc.SpanID().String()
		}
	}

	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error(observabilityEvent)
	case "WARN":
		entry.Warn(observabilityEvent)
	default:
		entry.Info(observabilityEvent)
	}
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil && status < http.StatusBadRequest:
		return "ERROR", 17
	case status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
