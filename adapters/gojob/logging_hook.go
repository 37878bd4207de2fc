package gojob

import (
	"context"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-credentials/adapters/gologger"
	"github.com/goliatone/go-credentials/core"
)

// LoggingHook logs job lifecycle events through the runtime's glog logger.
// It implements core.JobWorkerHook so it can be stacked with metrics or
// audit hooks on the same worker.
type LoggingHook struct {
	logger glog.Logger
}

// NewLoggingHook resolves the hook's logger with the shared precedence:
// provider first, then an explicit logger, then nop.
func NewLoggingHook(provider glog.LoggerProvider, logger glog.Logger) *LoggingHook {
	_, resolved := gologger.Resolve(gologger.DefaultLoggerName, provider, logger)
	return &LoggingHook{logger: resolved}
}

func (h *LoggingHook) OnStart(_ context.Context, event core.JobWorkerEvent) {
	if h == nil || h.logger == nil {
		return
	}
	h.logger.Debug("job started", h.fields(event)...)
}

func (h *LoggingHook) OnSuccess(_ context.Context, event core.JobWorkerEvent) {
	if h == nil || h.logger == nil {
		return
	}
	h.logger.Info("job succeeded", h.fields(event)...)
}

func (h *LoggingHook) OnFailure(_ context.Context, event core.JobWorkerEvent) {
	if h == nil || h.logger == nil {
		return
	}
	h.logger.Error("job failed", h.fields(event)...)
}

func (h *LoggingHook) OnRetry(_ context.Context, event core.JobWorkerEvent) {
	if h == nil || h.logger == nil {
		return
	}
	h.logger.Warn("job retrying", h.fields(event)...)
}

func (h *LoggingHook) fields(event core.JobWorkerEvent) []any {
	fields := []any{"attempt", event.Attempt}
	if event.Message != nil {
		fields = append(fields,
			"job_id", event.Message.JobID,
			"tenant_id", event.Message.TenantID,
		)
	}
	if event.Delay > 0 {
		fields = append(fields, "delay", event.Delay.String())
	}
	if event.Duration > 0 {
		fields = append(fields, "duration", event.Duration.String())
	}
	if event.Err != nil {
		fields = append(fields, "error", event.Err.Error())
	}
	return fields
}

var _ core.JobWorkerHook = (*LoggingHook)(nil)
