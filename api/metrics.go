package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName       = "boardsync/api"
	spanPrefix       = "boardsync.gateway."
	eventName        = "gateway.request"
	eventDomain      = "boardsync"
	observabilityMsg = "observability.event"
)

// requestMetrics records one gateway request as a span plus a structured
// log event.
type requestMetrics struct {
	logger     *log.Logger
	span       trace.Span
	start      time.Time
	op         string
	route      string
	method     string
	storeDur   time.Duration
	errorStage string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, op, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanPrefix+op, trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		op:     op,
		route:  route,
		method: method,
	}, ctx
}

func (m *requestMetrics) ObserveStore(d time.Duration) {
	if d > 0 {
		m.storeDur = d
	}
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// severityForStatus follows the OpenTelemetry log severity numbers.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= 500 || (status == 0 && err != nil):
		return "ERROR", 17
	case status >= 400:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func (m *requestMetrics) attributes(status int, err error) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", m.method),
		attribute.String("http.route", m.route),
		attribute.Int("http.status_code", status),
		attribute.String("boardsync.op", m.op),
		attribute.Float64("boardsync.total_ms", durationToMillis(time.Since(m.start))),
	}
	if m.storeDur > 0 {
		attrs = append(attrs, attribute.Float64("boardsync.store_ms", durationToMillis(m.storeDur)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("boardsync.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}
	return attrs
}

// End closes the span and emits the log event. err is the failure that
// produced the response, if any.
func (m *requestMetrics) End(status int, err error) {
	if m == nil {
		return
	}
	severity, number := severityForStatus(status, err)
	attrs := m.attributes(status, err)

	m.span.SetAttributes(attrs...)
	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", eventName),
		attribute.String("event.domain", eventDomain),
		attribute.String("severity_text", severity),
	}, attrs...)
	m.span.AddEvent(observabilityMsg, trace.WithAttributes(eventAttrs...))
	if err != nil || status >= 500 {
		desc := "request failed"
		if err != nil {
			desc = err.Error()
			m.span.RecordError(err)
		}
		m.span.SetStatus(codes.Error, desc)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()

	if m.logger == nil {
		return
	}
	attrMap := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		attrMap[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      eventName,
		"event.domain":    eventDomain,
		"severity_text":   severity,
		"severity_number": number,
		"attributes":      attrMap,
	}
	if sc := m.span.SpanContext(); sc.IsValid() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	entry := m.logger.WithFields(fields)
	switch severity {
	case "ERROR":
		entry.Error(observabilityMsg)
	case "WARN":
		entry.Warn(observabilityMsg)
	default:
		entry.Info(observabilityMsg)
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
