package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Solution & state machine errors
// 12000-12999: Checker & Sandbox errors
// 13000-13999: Task queue errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Timeout             ErrorCode = 10004
	ServiceUnavailable  ErrorCode = 10005

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	CacheMiss  ErrorCode = 10201

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	RequiredFieldEmpty ErrorCode = 10302

	// ========== Solution & State Machine Errors (11000-11999) ==========

	SolutionNotFound      ErrorCode = 11000
	SolutionAlreadyExists ErrorCode = 11001
	InvalidStateChange    ErrorCode = 11002
	SolutionFileNotFound  ErrorCode = 11003
	ExerciseNotFound      ErrorCode = 11004
	ExerciseTestNotFound  ErrorCode = 11005
	CommentCreateFailed   ErrorCode = 11006

	// ========== Checker & Sandbox Errors (12000-12999) ==========

	CheckerSystemError    ErrorCode = 12000
	CheckerToolFailed     ErrorCode = 12001
	CheckerReportInvalid  ErrorCode = 12002
	NoMatchingChecker     ErrorCode = 12003
	SandboxCreateFailed   ErrorCode = 12100
	SandboxExecTimeout    ErrorCode = 12101
	SandboxExecFailed     ErrorCode = 12102
	SandboxFileTransfer   ErrorCode = 12103
	SandboxBackendUnknown ErrorCode = 12104

	// ========== Task Queue Errors (13000-13999) ==========

	QueueError          ErrorCode = 13000
	QueuePublishFailed  ErrorCode = 13001
	QueueConsumeStopped ErrorCode = 13002
	ScheduleFailed      ErrorCode = 13003
)

// codeMessages maps error codes to default human readable messages.
var codeMessages = map[ErrorCode]string{
	Success: "Success",

	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Timeout:             "Operation timed out",
	ServiceUnavailable:  "Service unavailable",

	DatabaseError:       "Database error",
	RecordNotFound:      "Record not found",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Transaction failed",

	CacheError: "Cache error",
	CacheMiss:  "Cache miss",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	RequiredFieldEmpty: "Required field is empty",

	SolutionNotFound:      "Solution not found",
	SolutionAlreadyExists: "This solution already exists",
	InvalidStateChange:    "Invalid solution state change",
	SolutionFileNotFound:  "Solution file not found",
	ExerciseNotFound:      "Exercise not found",
	ExerciseTestNotFound:  "No test defined for exercise",
	CommentCreateFailed:   "Failed to create comment",

	CheckerSystemError:    "Checker system error",
	CheckerToolFailed:     "Checker tool failed to run",
	CheckerReportInvalid:  "Checker produced an invalid report",
	NoMatchingChecker:     "No matching checker for file",
	SandboxCreateFailed:   "Failed to create sandbox environment",
	SandboxExecTimeout:    "Sandbox execution timed out",
	SandboxExecFailed:     "Sandbox execution failed",
	SandboxFileTransfer:   "Sandbox file transfer failed",
	SandboxBackendUnknown: "Unknown sandbox backend",

	QueueError:          "Task queue error",
	QueuePublishFailed:  "Failed to publish task",
	QueueConsumeStopped: "Task consumption stopped",
	ScheduleFailed:      "Failed to schedule delayed task",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus maps the error code to an HTTP status code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound, c == RecordNotFound, c == SolutionNotFound,
		c == SolutionFileNotFound, c == ExerciseNotFound:
		return 404
	case c == RecordAlreadyExists, c == SolutionAlreadyExists,
		c == InvalidStateChange:
		return 409
	case c >= 10300 && c < 10400:
		return 422
	case c == InvalidParams:
		return 400
	case c == Timeout, c == SandboxExecTimeout:
		return 504
	case c == ServiceUnavailable:
		return 503
	default:
		return 500
	}
}
