package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpriorauth/a4a-go/pkg/a2a"
	"github.com/openpriorauth/a4a-go/pkg/errors"
	"github.com/openpriorauth/a4a-go/pkg/jsonrpc"
	"github.com/openpriorauth/a4a-go/pkg/stores"
)

func newHTTPFixture(t *testing.T, processors ...TaskProcessor) *HTTPServer {
	t.Helper()

	store := stores.NewInMemoryTaskStore()
	t.Cleanup(store.Close)

	core := NewCore(a2a.AgentCard{
		Name:    "test-agent",
		Version: "0.0.1",
		Capabilities: a2a.AgentCapabilities{
			Streaming: true,
		},
	}, store, processors...)
	t.Cleanup(core.Close)

	return NewHTTPServer(core, ":0")
}

func rpcCall(t *testing.T, srv *HTTPServer, method string, params any) jsonrpc.Response {
	t.Helper()

	raw, err := json.Marshal(params)
	require.NoError(t, err)

	body, err := json.Marshal(jsonrpc.Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  method,
		Params:  raw,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/a2a", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var rpcResp jsonrpc.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))

	return rpcResp
}

func TestAgentCardEndpoint(t *testing.T) {
	srv := newHTTPFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/agent-card", nil)
	resp, err := srv.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var card a2a.AgentCard
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&card))
	assert.Equal(t, "test-agent", card.Name)
	assert.True(t, card.Capabilities.Streaming)
}

func TestRPCSendAndGet(t *testing.T) {
	srv := newHTTPFixture(t)

	resp := rpcCall(t, srv, "tasks/send", a2a.TaskSendParams{
		Message: *a2a.NewTextMessage(a2a.RoleUser, "Need appointment"),
	})
	require.Nil(t, resp.Error)

	var task a2a.Task
	require.NoError(t, json.Unmarshal(resp.Result, &task))
	assert.NotEmpty(t, task.ID)

	got := rpcCall(t, srv, "tasks/get", a2a.TaskQueryParams{
		TaskIDParams: a2a.TaskIDParams{ID: task.ID},
	})
	require.Nil(t, got.Error)

	var fetched a2a.Task
	require.NoError(t, json.Unmarshal(got.Result, &fetched))
	assert.Equal(t, task.ID, fetched.ID)
}

func TestRPCGetUnknownTask(t *testing.T) {
	srv := newHTTPFixture(t)

	resp := rpcCall(t, srv, "tasks/get", a2a.TaskQueryParams{
		TaskIDParams: a2a.TaskIDParams{ID: "nonexistent"},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, errors.ErrTaskNotFound.Code, resp.Error.Code)
}

func TestRPCMethodNotFound(t *testing.T) {
	srv := newHTTPFixture(t)

	resp := rpcCall(t, srv, "tasks/unknown", map[string]any{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, errors.ErrMethodNotFound.Code, resp.Error.Code)
}

func TestRPCInvalidParams(t *testing.T) {
	srv := newHTTPFixture(t)

	resp := rpcCall(t, srv, "tasks/send", "not-an-object")
	require.NotNil(t, resp.Error)
	assert.Equal(t, errors.ErrInvalidParams.Code, resp.Error.Code)
}

func TestRPCCancel(t *testing.T) {
	blocked := &scriptedProcessor{handles: true, start: func(ctx context.Context, params a2a.TaskSendParams, updater *TaskUpdater, auth *AuthContext) error {
		return updater.UpdateStatus(ctx, a2a.TaskStateWorking, nil)
	}}

	srv := newHTTPFixture(t, blocked)

	created := rpcCall(t, srv, "tasks/send", a2a.TaskSendParams{
		Message: *a2a.NewTextMessage(a2a.RoleUser, "long job"),
	})
	require.Nil(t, created.Error)

	var task a2a.Task
	require.NoError(t, json.Unmarshal(created.Result, &task))

	canceled := rpcCall(t, srv, "tasks/cancel", a2a.TaskIDParams{ID: task.ID})
	require.Nil(t, canceled.Error)

	var final a2a.Task
	require.NoError(t, json.Unmarshal(canceled.Result, &final))
	assert.Equal(t, a2a.TaskStateCanceled, final.Status.State)
}
