package errors

import (
	"fmt"
)

/*
RpcError represents a JSON-RPC error response.
*/
type RpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

/*
Error implements the error interface for RpcError.
*/
func (e *RpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Convenience errors (JSON-RPC reserved codes -32600 .. -32000).
// Application specific codes use the -32000 .. -32099 range.
var (
	ErrParseError     = &RpcError{Code: -32700, Message: "Parse error"}
	ErrInvalidRequest = &RpcError{Code: -32600, Message: "Invalid Request"}
	ErrMethodNotFound = &RpcError{Code: -32601, Message: "Method not found"}
	ErrInvalidParams  = &RpcError{Code: -32602, Message: "Invalid params"}
	ErrInternal       = &RpcError{Code: -32603, Message: "Internal error"}

	ErrTaskNotFound      = &RpcError{Code: -32000, Message: "Task not found"}
	ErrTaskNotCancelable = &RpcError{Code: -32001, Message: "Task cannot be canceled"}
	ErrTaskBusy          = &RpcError{Code: -32002, Message: "Task is busy"}
	ErrTaskFinished      = &RpcError{Code: -32003, Message: "Task already finished"}
	ErrTaskTerminal      = &RpcError{Code: -32004, Message: "Task is in a terminal state"}
)

// WithMessagef creates a *copy* of an RpcError with a formatted message.
// It does not modify the original error variable.
func (e *RpcError) WithMessagef(format string, args ...any) *RpcError {
	newErr := *e
	newErr.Message = fmt.Sprintf(format, args...)
	return &newErr
}

// WithData creates a copy of an RpcError carrying structured detail.
func (e *RpcError) WithData(data any) *RpcError {
	newErr := *e
	newErr.Data = data
	return &newErr
}

// Is lets stdlib errors.Is match sentinel RpcErrors by code.
func (e *RpcError) Is(target error) bool {
	other, ok := target.(*RpcError)
	return ok && other.Code == e.Code
}
