package jsonrpc

import (
	"encoding/json"

	"github.com/openpriorauth/a4a-go/pkg/errors"
)

type Response struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      json.RawMessage  `json:"id,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *errors.RpcError `json:"error,omitempty"`
}

func NewErrorResponse(id json.RawMessage, e *errors.RpcError) Response {
	// Ensure mandatory Code/Message.
	if e == nil {
		e = errors.ErrInternal
	}

	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   e,
	}
}

func NewResultResponse(id json.RawMessage, result any) (Response, *errors.RpcError) {
	buf, err := json.Marshal(result)

	if err != nil {
		return NewErrorResponse(id, errors.ErrInternal), errors.ErrInternal
	}

	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  buf,
	}, nil
}
