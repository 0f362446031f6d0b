package executor

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"agentcore/internal/domain"
)

// recorder collects trace steps and token usage for one execution. Hooks
// may still append after the execution has been abandoned, so the first
// seal freezes the contents.
type recorder struct {
	mu     sync.Mutex
	now    func() time.Time
	steps  []domain.TraceStep
	usage  domain.TokenUsage
	sealed bool
}

func newRecorder(now func() time.Time) *recorder {
	return &recorder{now: now}
}

func (r *recorder) add(kind domain.TraceStepType, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.steps = append(r.steps, domain.TraceStep{Type: kind, Timestamp: r.now(), Content: content})
}

func (r *recorder) addUsage(u domain.TokenUsage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.usage.Add(u)
}

func (r *recorder) seal() ([]domain.TraceStep, domain.TokenUsage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	steps := make([]domain.TraceStep, len(r.steps))
	copy(steps, r.steps)
	return steps, r.usage
}

// Stringify renders an output for traces and chat. Strings stay verbatim,
// Stringers use String and other values are JSON-encoded.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
