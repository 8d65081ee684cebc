package gologger

import (
	"context"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-credentials/core"
)

// ResolveForJob resolves the named glog logger (provider > logger > nop) and
// returns it together with its go-job bridges.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := glog.Resolve(name, provider, logger)
	resolvedLogger = glog.Ensure(resolvedLogger)
	var jobProvider job.LoggerProvider
	if resolvedProvider != nil {
		jobProvider = job.GoLoggerProvider(resolvedProvider)
	}
	return resolvedLogger, jobProvider, job.GoLogger(resolvedLogger)
}

// JobHook logs ensure-subscription worker events.
type JobHook struct {
	logger glog.Logger
}

func NewJobHook(logger glog.Logger) *JobHook {
	return &JobHook{logger: glog.Ensure(logger)}
}

func (h *JobHook) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx, "info", "job started", event)
}

func (h *JobHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx, "info", "job succeeded", event)
}

func (h *JobHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx, "error", "job failed", event)
}

func (h *JobHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx, "warn", "job scheduled for retry", event)
}

func (h *JobHook) log(ctx context.Context, level string, message string, event core.JobWorkerEvent) {
	if h == nil || h.logger == nil {
		return
	}
	logger := h.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	args := []any{"attempt", event.Attempt, "duration_ms", event.Duration.Milliseconds()}
	if event.Message != nil {
		args = append(args, "job_id", event.Message.JobID)
		if principalID, ok := event.Message.Parameters["principal_id"].(string); ok {
			args = append(args, "principal_id", principalID)
		}
	}
	if event.Delay > 0 {
		args = append(args, "delay_ms", event.Delay.Milliseconds())
	}
	if event.Err != nil {
		args = append(args, "error", event.Err.Error())
	}
	switch level {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	default:
		logger.Info(message, args...)
	}
}

var _ core.JobWorkerHook = (*JobHook)(nil)
