package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"agentcore/internal/adapter/gateway"
	"agentcore/internal/domain"
	"agentcore/internal/infra/config"
)

// submitRequest mirrors the gateway's task payload.
type submitRequest struct {
	AgentID   string          `json:"agent_id"`
	Type      domain.TaskKind `json:"type"`
	Input     any             `json:"input,omitempty"`
	TimeoutMs int64           `json:"timeout_ms,omitempty"`
	Priority  *int            `json:"priority,omitempty"`
}

// parseSubmitArgs builds the task payload from CLI flags.
func parseSubmitArgs(args []string) (submitRequest, error) {
	req := submitRequest{
		AgentID: flagValue(args, "agent"),
		Type:    domain.TaskKind(flagValue(args, "type")),
		Input:   flagValue(args, "input"),
	}
	if req.AgentID == "" {
		return req, fmt.Errorf("--agent is required")
	}
	if req.Type == "" {
		req.Type = domain.TaskExecute
	}
	if !req.Type.Valid() {
		return req, fmt.Errorf("--type %q is invalid (want: execute, plan, chat)", req.Type)
	}
	if v := flagValue(args, "priority"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("--priority: %w", err)
		}
		req.Priority = &p
	}
	if v := flagValue(args, "timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return req, fmt.Errorf("--timeout: %w", err)
		}
		req.TimeoutMs = d.Milliseconds()
	}
	return req, nil
}

// gatewayAddr resolves the gateway address from --addr or the config file.
func gatewayAddr(args []string) string {
	if addr := flagValue(args, "addr"); addr != "" {
		return addr
	}
	if cfg, err := config.Load(configPath()); err == nil {
		return cfg.Gateway.Addr
	}
	return config.Defaults().Gateway.Addr
}

// runSubmit queues a task on a running gateway and prints the task ID. With
// --wait it blocks until the task's terminal event and prints the result.
func runSubmit(args []string) error {
	req, err := parseSubmitArgs(args)
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	ws, _, err := websocket.Dial(ctx, "ws://"+gatewayAddr(args)+"/ws", nil)
	if err != nil {
		return fmt.Errorf("connect gateway: %w", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	const requestID = 1
	if err := wsjson.Write(ctx, ws, gateway.Frame{
		Type:    gateway.FrameTypeRequest,
		ID:      requestID,
		Method:  "task.execute",
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	wait := hasFlag(args, "wait")
	var taskID string
	// Terminal events can overtake the response frame.
	early := make(map[string]domain.Event)

	for {
		var frame gateway.Frame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			return fmt.Errorf("read frame: %w", err)
		}

		switch frame.Type {
		case gateway.FrameTypeResponse:
			if frame.ID != requestID {
				continue
			}
			if frame.Error != "" {
				return fmt.Errorf("%s (%s)", frame.Error, frame.Code)
			}
			var resp struct {
				TaskID string `json:"task_id"`
			}
			if err := json.Unmarshal(frame.Payload, &resp); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			taskID = resp.TaskID
			fmt.Println(taskID)
			if !wait {
				return nil
			}
			if ev, ok := early[taskID]; ok {
				return printOutcome(ev)
			}

		case gateway.FrameTypeEvent:
			if !wait || !terminalEvent(domain.EventType(frame.Method)) {
				continue
			}
			var ev domain.Event
			if err := json.Unmarshal(frame.Payload, &ev); err != nil {
				continue
			}
			if taskID == "" {
				early[ev.TaskID] = ev
				continue
			}
			if ev.TaskID == taskID {
				return printOutcome(ev)
			}
		}
	}
}

func terminalEvent(t domain.EventType) bool {
	switch t {
	case domain.EventTaskCompleted, domain.EventTaskFailed, domain.EventTaskCancelled:
		return true
	}
	return false
}

// printOutcome writes the event's result as indented JSON. Failed tasks
// return an error so the exit status reflects the outcome.
func printOutcome(ev domain.Event) error {
	out := any(ev)
	if ev.Result != nil {
		out = ev.Result
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if ev.Type != domain.EventTaskCompleted {
		return fmt.Errorf("task %s: %s", ev.TaskID, ev.Type)
	}
	return nil
}
