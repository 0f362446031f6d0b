package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"agentcore/internal/domain"
	"agentcore/internal/infra/tracer"
)

const planPromptTemplate = `Break the following task into an ordered plan.

Task:
%s

Available tools:
%s

Return a JSON array of steps. Each step is an object with:
- "id": a unique step identifier
- "description": what the step does
- "toolId": optional id of the tool the step uses
- "input": optional input for that tool
- "dependsOn": optional array of step ids that must finish first

Respond with only valid JSON.`

// systemPrompt describes the agent to the model.
func systemPrompt(desc domain.AgentDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.", desc.Name)
	if desc.Description != "" {
		b.WriteString(" ")
		b.WriteString(desc.Description)
	}
	if len(desc.Capabilities) > 0 {
		b.WriteString("\n\nCapabilities:")
		for _, c := range desc.Capabilities {
			if c.Description != "" {
				fmt.Fprintf(&b, "\n- %s: %s", c.Type, c.Description)
			} else {
				fmt.Fprintf(&b, "\n- %s", c.Type)
			}
		}
	}
	return b.String()
}

func (e *Executor) executeFallback(ctx context.Context, desc domain.AgentDescriptor, task domain.Task, ec *domain.ExecutionContext, rec *recorder) (any, error) {
	messages := make([]domain.Message, 0, len(ec.Messages)+2)
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: systemPrompt(desc)})
	messages = append(messages, ec.Messages...)
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: Stringify(task.Input)})

	rec.add(domain.TraceThought, fmt.Sprintf("Invoking inference with %d messages", len(messages)))
	return e.infer(ctx, task, messages, rec)
}

func (e *Executor) planFallback(ctx context.Context, desc domain.AgentDescriptor, task domain.Task, ec *domain.ExecutionContext, rec *recorder) (any, error) {
	prompt := fmt.Sprintf(planPromptTemplate, Stringify(task.Input), e.toolSummary(desc.Tools))
	messages := []domain.Message{
		{Role: domain.RoleSystem, Content: systemPrompt(desc)},
		{Role: domain.RoleUser, Content: prompt},
	}

	rec.add(domain.TraceThought, "Requesting plan from inference")
	data, err := e.infer(ctx, task, messages, rec)
	if err != nil {
		return nil, err
	}
	return domain.Plan{
		TaskID:    task.ID,
		AgentID:   task.AgentID,
		Steps:     ParsePlan(data),
		CreatedAt: e.now(),
	}, nil
}

func (e *Executor) toolSummary(ids []string) string {
	if e.tools == nil || len(ids) == 0 {
		return "none"
	}
	defs := e.tools.ForAgent(ids)
	if len(defs) == 0 {
		return "none"
	}
	lines := make([]string, 0, len(defs))
	for _, d := range defs {
		lines = append(lines, fmt.Sprintf("- %s: %s", d.ID, d.Description))
	}
	return strings.Join(lines, "\n")
}

// infer calls the chat capability and returns the response data.
func (e *Executor) infer(ctx context.Context, task domain.Task, messages []domain.Message, rec *recorder) (any, error) {
	const op = "Executor.infer"

	p := e.currentInference()
	if p == nil {
		return nil, &domain.DomainError{Op: op, Err: domain.ErrProviderInvocation, Msg: "No inference provider configured"}
	}

	ctx, span := tracer.StartSpan(ctx, "inference.invoke",
		trace.WithAttributes(
			tracer.StringAttr("task.id", task.ID),
			tracer.IntAttr("inference.messages", len(messages)),
		),
	)
	defer span.End()

	resp, err := p.Invoke(ctx, domain.CapabilityChat,
		domain.InferenceParams{Messages: messages},
		domain.InvokeOptions{Strategy: e.cfg.Strategy, ModelPreference: e.cfg.ModelPreference},
	)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, &domain.DomainError{Op: op, Err: fmt.Errorf("%w: %w", domain.ErrProviderInvocation, err), Msg: err.Error()}
	}
	if resp == nil || !resp.Success {
		msg := "Inference request failed"
		if resp != nil && resp.Error != "" {
			msg = resp.Error
		}
		derr := &domain.DomainError{Op: op, Err: domain.ErrProviderInvocation, Msg: msg}
		tracer.RecordError(span, derr)
		return nil, derr
	}

	if resp.Usage != nil {
		rec.addUsage(*resp.Usage)
		span.SetAttributes(tracer.IntAttr("inference.total_tokens", resp.Usage.TotalTokens))
	}
	if resp.Model != "" {
		span.SetAttributes(tracer.StringAttr("inference.model", resp.Model))
	}
	tracer.SetOK(span)
	return resp.Data, nil
}

// ParsePlan turns an inference reply into plan steps. A string is parsed as
// JSON and kept as a single step when that fails; a non-array value becomes
// a one-element plan.
func ParsePlan(data any) []domain.PlanStep {
	if s, ok := data.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &parsed); err != nil {
			return []domain.PlanStep{{ID: "1", Description: s}}
		}
		data = parsed
	} else {
		data = normalizeJSON(data)
	}

	items, ok := data.([]any)
	if !ok {
		items = []any{data}
	}
	steps := make([]domain.PlanStep, 0, len(items))
	for i, item := range items {
		steps = append(steps, toPlanStep(i, item))
	}
	return steps
}

// normalizeJSON converts typed Go values into the generic JSON shape.
func normalizeJSON(v any) any {
	switch v.(type) {
	case []any, map[string]any, nil:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func toPlanStep(i int, item any) domain.PlanStep {
	fallbackID := strconv.Itoa(i + 1)
	m, ok := item.(map[string]any)
	if !ok {
		return domain.PlanStep{ID: fallbackID, Description: Stringify(item)}
	}

	step := domain.PlanStep{
		ID:          scalarString(m["id"]),
		Description: scalarString(m["description"]),
		ToolID:      scalarString(firstOf(m, "toolId", "tool_id")),
		Input:       firstOf(m, "input"),
	}
	if step.ID == "" {
		step.ID = fallbackID
	}
	if deps, ok := firstOf(m, "dependsOn", "depends_on").([]any); ok {
		for _, d := range deps {
			if s := scalarString(d); s != "" {
				step.DependsOn = append(step.DependsOn, s)
			}
		}
	}
	return step
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
