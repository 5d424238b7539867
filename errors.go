package pgmcp

import (
	"errors"
	"fmt"
)

// Error kinds a tool invocation can fail with. Use errors.Is to tell them apart.
var (
	// ErrDestructiveOperation means the query matched the destructive-statement
	// denylist. Nothing was executed.
	ErrDestructiveOperation = errors.New("destructive operations are not allowed")

	// ErrUnknownTool means the tool name is not in the registry.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArgument means a required argument is missing or has the wrong type.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrQueryExecution means the database rejected or failed to complete the statement.
	ErrQueryExecution = errors.New("query execution failed")
)

// ToolError carries the kind, the tool it happened in, and the underlying cause.
type ToolError struct {
	Kind error
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Err.Error()
}

func (e *ToolError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newToolError(kind error, tool string, err error) *ToolError {
	return &ToolError{Kind: kind, Tool: tool, Err: err}
}

func invalidArgument(tool, format string, args ...any) *ToolError {
	return newToolError(ErrInvalidArgument, tool, fmt.Errorf(format, args...))
}

// errorKind returns a short label for logs and metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrDestructiveOperation):
		return "destructive_operation_denied"
	case errors.Is(err, ErrUnknownTool):
		return "unknown_tool"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "query_execution_failed"
	}
}
