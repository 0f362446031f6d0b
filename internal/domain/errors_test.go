package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Registry.Get", ErrNotFound, "agent 'foo'")
	want := "Registry.Get: agent 'foo': not found"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Manager.ExecuteTask", ErrManagerNotInitialized, "")
	want := "Manager.ExecuteTask: manager not initialized"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Sandbox.Resolve", ErrPathOutsideRoot, "/etc/passwd")
	if !errors.Is(err, ErrPathOutsideRoot) {
		t.Error("errors.Is should match ErrPathOutsideRoot")
	}
}

func TestCallerFacingMessages(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     string
		sentinel error
	}{
		{"agent not found", NewAgentNotFoundError("op", "a1"), "Agent a1 not found", ErrAgentNotFound},
		{"agent disabled", NewAgentDisabledError("op", "a1"), "Agent a1 is disabled", ErrAgentDisabled},
		{"unknown kind", NewUnknownTaskTypeError("op", "dance"), "Unknown task type: dance", ErrUnknownTaskType},
		{"tool not found", NewToolNotFoundError("op", "t1"), "Tool t1 not found", ErrToolNotFound},
		{"validation", NewInputValidationError("op", "Missing required field: path"), "Input validation failed: Missing required field: path", ErrInputValidation},
		{"cancelled", NewTaskCancelledError("op", "t1"), CancelledMessage, ErrTaskCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
			assert.ErrorIs(t, tt.err, tt.sentinel)
		})
	}
}

func TestWrapOp(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))

	err := WrapOp("Scheduler.Enqueue", ErrSchedulerNotConfigured)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchedulerNotConfigured)
	assert.Equal(t, "Scheduler.Enqueue: scheduler has no run function", err.Error())
}

// --- ErrorCode tests ---

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeToolNotFound, ErrorCodeOf(ErrToolNotFound))
	assert.Equal(t, CodeManagerNotInitialized, ErrorCodeOf(ErrManagerNotInitialized))
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(ErrRateLimit))
}

func TestErrorCodeOf_DomainError(t *testing.T) {
	assert.Equal(t, CodeAgentDisabled, ErrorCodeOf(NewAgentDisabledError("op", "x")))
	assert.Equal(t, CodeTaskCancelled, ErrorCodeOf(NewTaskCancelledError("op", "x")))
}

func TestErrorCodeOf_WrappedError(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewInputValidationError("op", "bad"))
	assert.Equal(t, CodeInputValidation, ErrorCodeOf(err))

	err = fmt.Errorf("call: %w", ErrProviderInvocation)
	assert.Equal(t, CodeProviderInvocation, ErrorCodeOf(err))
}

func TestErrorCodeOf_SubSystem(t *testing.T) {
	err := NewSubSystemError("task", "Scheduler.UpdatePriority", ErrNotFound, "t1")
	assert.Equal(t, CodeTaskNotFound, ErrorCodeOf(err))

	err = NewSubSystemError("recurring", "Recurring.Add", ErrInvalidInput, "bad schedule")
	assert.Equal(t, CodeRecurringInvalid, err.Code())

	// Unmapped subsystem falls back to the category code.
	err = NewSubSystemError("other", "op", ErrNotFound, "")
	assert.Equal(t, CodeNotFound, err.Code())
}

func TestErrorCodeOf_Unknown(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(errors.New("boom")))
}
