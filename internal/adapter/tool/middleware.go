package tool

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"agentcore/internal/domain"
	"agentcore/internal/infra/tracer"
)

// invoke is the standard tool execution pipeline: start trace -> run tool ->
// convert panics and errors into a failed result.
func invoke(ctx context.Context, logger *slog.Logger, t domain.RegisteredTool, input any, tc domain.ToolContext) (result domain.ToolResult) {
	ctx, span := tracer.StartSpan(ctx, "tool.execute",
		trace.WithAttributes(
			tracer.StringAttr("tool.id", t.Definition.ID),
			tracer.StringAttr("task.id", tc.TaskID),
		),
	)
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("tool %s panicked: %v", t.Definition.ID, rec)
			tracer.RecordError(span, err)
			logger.Error("tool panicked", "tool", t.Definition.ID, "panic", rec)
			result = domain.ToolResult{Success: false, Error: err.Error(), Code: domain.CodeToolFailure}
		}
	}()

	out, err := t.Func(ctx, input, tc)
	if err != nil {
		tracer.RecordError(span, err)
		logger.Warn("tool failed", "tool", t.Definition.ID, "task_id", tc.TaskID, "error", err)
		code := domain.ErrorCodeOf(err)
		if code == domain.CodeUnknown {
			code = domain.CodeToolFailure
		}
		return domain.ToolResult{Success: false, Error: err.Error(), Code: code}
	}

	tracer.SetOK(span)
	return domain.ToolResult{Success: true, Output: out}
}
