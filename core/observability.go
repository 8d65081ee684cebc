package core

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"
)

const metricPrefix = "credentials."

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// outcome describes one finished actor operation.
type outcome struct {
	operation   string
	principalID string
	elapsed     time.Duration
	err         error
	kind        ErrorKind
}

func (o outcome) status() string {
	if o.err != nil {
		return "failure"
	}
	return "success"
}

// callerFault reports failures caused by the caller or principal state
// rather than by the service or the identity provider.
func (o outcome) callerFault() bool {
	switch o.kind {
	case KindNotLoggedIn, KindRevoked, KindBadInput, KindRejected:
		return true
	}
	return false
}

func (s *Service) principalKind(principalID string) string {
	switch {
	case principalID == "":
		return ""
	case s.config.IsAppPrincipal(principalID):
		return "app"
	default:
		return "user"
	}
}

func (o outcome) tags(principalKind string) map[string]string {
	tags := map[string]string{
		"operation": o.operation,
		"status":    o.status(),
	}
	if o.kind != KindNone {
		tags["error_kind"] = string(o.kind)
	}
	if principalKind != "" {
		tags["principal_kind"] = principalKind
	}
	return tags
}

func (s *Service) observeOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	principalID string,
	err error,
	fields map[string]any,
) {
	if s == nil {
		return
	}
	result := outcome{
		operation:   normalizeOperation(operation),
		principalID: strings.TrimSpace(principalID),
		elapsed:     time.Since(startedAt),
		err:         err,
		kind:        KindOf(err),
	}
	if result.operation == "" {
		result.operation = "unknown"
	}

	tags := result.tags(s.principalKind(result.principalID))
	s.recordCounter(ctx, metricPrefix+result.operation+".total", 1, tags)
	s.recordHistogram(ctx, metricPrefix+result.operation+".duration_ms", float64(result.elapsed.Milliseconds()), tags)

	logFields := cloneFields(fields)
	logFields["event_type"] = result.operation
	logFields["status"] = result.status()
	logFields["duration_ms"] = result.elapsed.Milliseconds()
	if result.principalID != "" {
		logFields["principal_id"] = result.principalID
	}
	switch {
	case err == nil:
		s.logInfo(ctx, result.operation+" succeeded", logFields)
	case result.callerFault():
		logFields["error"] = err.Error()
		logFields["error_kind"] = string(result.kind)
		s.logWarn(ctx, result.operation+" rejected", logFields)
	default:
		logFields["error"] = err.Error()
		if result.kind != KindNone {
			logFields["error_kind"] = string(result.kind)
		}
		s.logError(ctx, result.operation+" failed", logFields)
	}
}

func (s *Service) logInfo(ctx context.Context, message string, fields map[string]any) {
	s.log(ctx, message, fields, Logger.Info)
}

func (s *Service) logWarn(ctx context.Context, message string, fields map[string]any) {
	s.log(ctx, message, fields, Logger.Warn)
}

func (s *Service) logError(ctx context.Context, message string, fields map[string]any) {
	s.log(ctx, message, fields, Logger.Error)
}

func (s *Service) log(ctx context.Context, message string, fields map[string]any, emit func(Logger, string, ...any)) {
	if s == nil || s.logger == nil {
		return
	}
	logger := s.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	emit(logger, message, flattenFields(fields)...)
}

func (s *Service) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.IncCounter(ctx, name, value, cloneTags(tags))
}

func (s *Service) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.ObserveHistogram(ctx, name, value, cloneTags(tags))
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	return maps.Clone(fields)
}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	return maps.Clone(tags)
}

// flattenFields renders fields as sorted key/value pairs.
func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	return strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(strings.TrimSpace(operation)))
}

var _ MetricsRecorder = NopMetricsRecorder{}
