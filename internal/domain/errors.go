package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrDisabled      = fmt.Errorf("disabled")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
	ErrLimitReached  = fmt.Errorf("limit reached")
)

// Orchestration sentinels. Every failure the core reports maps to one of these.
var (
	ErrAgentNotFound          = fmt.Errorf("agent not found")
	ErrAgentDisabled          = fmt.Errorf("agent disabled")
	ErrUnknownTaskType        = fmt.Errorf("unknown task type")
	ErrToolNotFound           = fmt.Errorf("tool not found")
	ErrInputValidation        = fmt.Errorf("input validation failed")
	ErrTaskCancelled          = fmt.Errorf("execution timed out or cancelled")
	ErrProviderInvocation     = fmt.Errorf("inference provider invocation failed")
	ErrSchedulerNotConfigured = fmt.Errorf("scheduler has no run function")
	ErrManagerNotInitialized  = fmt.Errorf("manager not initialized")
	ErrToolFailure            = fmt.Errorf("tool execution failed")

	ErrProviderNotFound = fmt.Errorf("llm provider not found")
	ErrRateLimit        = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid      = fmt.Errorf("authentication failed")
	ErrContextOverflow  = fmt.Errorf("context window exceeded")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrEncryption       = fmt.Errorf("encryption operation failed")
	ErrDecryption       = fmt.Errorf("decryption failed")
	ErrPathOutsideRoot  = fmt.Errorf("path is outside sandbox root")

	// Gateway / RPC errors.
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid")
)

// CancelledMessage is the fixed error text of a task whose token fired.
const CancelledMessage = "Task timed out or was cancelled"

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Executor.ExecuteTask")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "agent", "tool"); used for ErrorCode dispatch
	Msg       string // caller-facing message; replaces the formatted chain when set
}

func (e *DomainError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// NewAgentNotFoundError reports a lookup miss as "Agent {id} not found".
func NewAgentNotFoundError(op, id string) *DomainError {
	return &DomainError{Op: op, Err: ErrAgentNotFound, Detail: id, Msg: fmt.Sprintf("Agent %s not found", id)}
}

// NewAgentDisabledError reports "Agent {id} is disabled".
func NewAgentDisabledError(op, id string) *DomainError {
	return &DomainError{Op: op, Err: ErrAgentDisabled, Detail: id, Msg: fmt.Sprintf("Agent %s is disabled", id)}
}

// NewUnknownTaskTypeError reports "Unknown task type: {kind}".
func NewUnknownTaskTypeError(op string, kind TaskKind) *DomainError {
	return &DomainError{Op: op, Err: ErrUnknownTaskType, Detail: string(kind), Msg: fmt.Sprintf("Unknown task type: %s", kind)}
}

// NewToolNotFoundError reports "Tool {id} not found".
func NewToolNotFoundError(op, id string) *DomainError {
	return &DomainError{Op: op, Err: ErrToolNotFound, Detail: id, Msg: fmt.Sprintf("Tool %s not found", id)}
}

// NewInputValidationError reports "Input validation failed: {reason}".
func NewInputValidationError(op, reason string) *DomainError {
	return &DomainError{Op: op, Err: ErrInputValidation, Detail: reason, Msg: "Input validation failed: " + reason}
}

// NewTaskCancelledError reports the fixed cancellation message.
func NewTaskCancelledError(op, taskID string) *DomainError {
	return &DomainError{Op: op, Err: ErrTaskCancelled, Detail: taskID, Msg: CancelledMessage}
}

// ErrorCode is a machine-parseable error category for monitoring and RPC replies.
type ErrorCode string

const (
	CodeUnknown                ErrorCode = "UNKNOWN"
	CodeAgentNotFound          ErrorCode = "AGENT_NOT_FOUND"
	CodeAgentDisabled          ErrorCode = "AGENT_DISABLED"
	CodeUnknownTaskType        ErrorCode = "UNKNOWN_TASK_TYPE"
	CodeToolNotFound           ErrorCode = "TOOL_NOT_FOUND"
	CodeInputValidation        ErrorCode = "INPUT_VALIDATION_FAILED"
	CodeTaskCancelled          ErrorCode = "EXECUTION_TIMED_OUT_OR_CANCELLED"
	CodeProviderInvocation     ErrorCode = "PROVIDER_INVOCATION_FAILED"
	CodeSchedulerNotConfigured ErrorCode = "SCHEDULER_NOT_CONFIGURED"
	CodeManagerNotInitialized  ErrorCode = "MANAGER_NOT_INITIALIZED"
	CodeToolFailure            ErrorCode = "TOOL_FAILURE"
	CodeProviderNotFound       ErrorCode = "PROVIDER_NOT_FOUND"
	CodeRateLimit              ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid            ErrorCode = "AUTH_INVALID"
	CodeContextOverflow        ErrorCode = "CONTEXT_OVERFLOW"
	CodeConfigLoad             ErrorCode = "CONFIG_LOAD"
	CodeEncryption             ErrorCode = "ENCRYPTION"
	CodeDecryption             ErrorCode = "DECRYPTION"
	CodePathOutsideRoot        ErrorCode = "PATH_OUTSIDE_ROOT"
	CodeRPCMethodNotFound      ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeRPCInvalidPayload      ErrorCode = "RPC_INVALID_PAYLOAD"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeTaskNotFound     ErrorCode = "TASK_NOT_FOUND"
	CodeQueueFull        ErrorCode = "QUEUE_FULL"
	CodeRecurringInvalid ErrorCode = "RECURRING_INVALID"

	// Category error codes, used when no specific code matches.
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeDuplicate     ErrorCode = "DUPLICATE"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeDisabled      ErrorCode = "DISABLED"
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
	CodeProviderError ErrorCode = "PROVIDER_ERROR"
	CodeLimitReached  ErrorCode = "LIMIT_REACHED"
)

var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:      CodeNotFound,
	ErrDuplicate:     CodeDuplicate,
	ErrTimeout:       CodeTimeout,
	ErrDisabled:      CodeDisabled,
	ErrInvalidInput:  CodeInvalidInput,
	ErrProviderError: CodeProviderError,
	ErrLimitReached:  CodeLimitReached,

	ErrAgentNotFound:          CodeAgentNotFound,
	ErrAgentDisabled:          CodeAgentDisabled,
	ErrUnknownTaskType:        CodeUnknownTaskType,
	ErrToolNotFound:           CodeToolNotFound,
	ErrInputValidation:        CodeInputValidation,
	ErrTaskCancelled:          CodeTaskCancelled,
	ErrProviderInvocation:     CodeProviderInvocation,
	ErrSchedulerNotConfigured: CodeSchedulerNotConfigured,
	ErrManagerNotInitialized:  CodeManagerNotInitialized,
	ErrToolFailure:            CodeToolFailure,
	ErrProviderNotFound:       CodeProviderNotFound,
	ErrRateLimit:              CodeRateLimit,
	ErrAuthInvalid:            CodeAuthInvalid,
	ErrContextOverflow:        CodeContextOverflow,
	ErrConfigLoad:             CodeConfigLoad,
	ErrEncryption:             CodeEncryption,
	ErrDecryption:             CodeDecryption,
	ErrPathOutsideRoot:        CodePathOutsideRoot,
	ErrRPCMethodNotFound:      CodeRPCMethodNotFound,
	ErrRPCInvalidPayload:      CodeRPCInvalidPayload,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"agent": CodeAgentNotFound,
		"tool":  CodeToolNotFound,
		"task":  CodeTaskNotFound,
	},
	ErrDisabled: {
		"agent": CodeAgentDisabled,
	},
	ErrLimitReached: {
		"scheduler": CodeQueueFull,
	},
	ErrInvalidInput: {
		"recurring": CodeRecurringInvalid,
		"tool":      CodeInputValidation,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}

// SentinelFor returns the sentinel registered for code, or a plain error
// named after the code when none matches.
func SentinelFor(code ErrorCode) error {
	for sentinel, c := range errorCodeMap {
		if c == code {
			return sentinel
		}
	}
	return errors.New(string(code))
}

// ResultError converts an unsuccessful Result into an error carrying the
// result's message and code.
func ResultError(op string, res Result) error {
	if res.Success {
		return nil
	}
	code := res.Code
	if code == "" {
		code = CodeUnknown
	}
	return &DomainError{Op: op, Err: SentinelFor(code), Detail: res.TaskID, Msg: res.Error}
}
