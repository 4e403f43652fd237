package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/openpriorauth/a4a-go/pkg/errors"
)

/*
Client is a minimal wrapper around http.Client to perform JSON-RPC calls
against a single endpoint.  A bearer token, when set, is attached to every
request.
*/
type Client struct {
	Endpoint string
	Token    string
	HTTP     *http.Client

	seq atomic.Int64
}

func NewClient(endpoint string) *Client {
	return &Client{
		Endpoint: endpoint,
		HTTP:     &http.Client{},
	}
}

/*
Call performs a single JSON-RPC request.  A JSON-RPC error object in the
response is returned as an *errors.RpcError so callers can branch on the
code; transport failures come back as plain wrapped errors.
*/
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	if c.HTTP == nil {
		c.HTTP = http.DefaultClient
	}

	payload := Request{
		JSONRPC: "2.0",
		ID:      mustMarshalID(c.seq.Add(1)),
		Method:  method,
	}

	if params != nil {
		buf, err := json.Marshal(params)
		if err != nil {
			return err
		}
		payload.Params = buf
	}

	body, err := json.Marshal(payload)

	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))

	if err != nil {
		return err
	}

	httpReq.Header.Set("Content-Type", "application/json")

	if c.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(httpReq)

	if err != nil {
		return fmt.Errorf("rpc call %s: %w", method, err)
	}

	defer resp.Body.Close()

	var rpcResp Response

	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("rpc call %s: decode response: %w", method, err)
	}

	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if result != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("rpc call %s: decode result: %w", method, err)
		}
	}

	return nil
}

// IsRpcError reports whether err carries the same JSON-RPC code as sentinel.
func IsRpcError(err error, sentinel *errors.RpcError) bool {
	rpcErr, ok := err.(*errors.RpcError)
	return ok && rpcErr.Code == sentinel.Code
}

func mustMarshalID(v int64) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
