package server

import (
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v3"
	fiberadaptor "github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/openpriorauth/a4a-go/pkg/a2a"
	"github.com/openpriorauth/a4a-go/pkg/errors"
	"github.com/openpriorauth/a4a-go/pkg/jsonrpc"
)

/*
HTTPServer exposes a Core over the wire: the discovery document, the
JSON-RPC endpoint and the per-task SSE stream.  Safe for concurrent use
because Core and the broker are.
*/
type HTTPServer struct {
	app  *fiber.App
	core *Core
	addr string
}

func NewHTTPServer(core *Core, addr string) *HTTPServer {
	srv := &HTTPServer{
		app: fiber.New(fiber.Config{
			AppName:           core.Card().Name,
			ServerHeader:      "A4A-Agent-Server",
			StreamRequestBody: true,
		}),
		core: core,
		addr: addr,
	}

	srv.app.Use(logger.New(logger.Config{
		// Skip logging for the SSE endpoint to reduce noise
		Next: func(c fiber.Ctx) bool {
			return len(c.Path()) >= 8 && c.Path()[:8] == "/events/"
		},
	}))

	srv.app.Get(healthcheck.LivenessEndpoint, healthcheck.New())
	srv.app.Get(healthcheck.ReadinessEndpoint, healthcheck.New())
	srv.app.Get(healthcheck.StartupEndpoint, healthcheck.New())

	srv.app.Get("/", srv.handleRoot)
	srv.app.Get("/.well-known/agent-card", srv.handleAgentCard)
	srv.app.Get("/events/:id", srv.handleEvents)
	srv.app.Post("/a2a", srv.handleRPC)

	return srv
}

func (srv *HTTPServer) Start() error {
	log.Info("starting agent server", "addr", srv.addr, "agent", srv.core.Card().Name)
	return srv.app.Listen(srv.addr, fiber.ListenConfig{DisableStartupMessage: true})
}

func (srv *HTTPServer) Shutdown() error {
	return srv.app.Shutdown()
}

// App exposes the underlying fiber app for in-process testing.
func (srv *HTTPServer) App() *fiber.App {
	return srv.app
}

func (srv *HTTPServer) handleRoot(ctx fiber.Ctx) error {
	return ctx.SendString("OK")
}

func (srv *HTTPServer) handleAgentCard(ctx fiber.Ctx) error {
	return ctx.JSON(srv.core.Card())
}

/*
handleEvents attaches the caller to the SSE stream of one task.  The first
frame is the current snapshot, so a subscriber arriving between poll and
attach never misses the state it reconnected for.
*/
func (srv *HTTPServer) handleEvents(ctx fiber.Ctx) error {
	taskID := ctx.Params("id")
	snapshot, rpcErr := srv.core.GetTask(ctx, taskID, nil)

	if rpcErr != nil {
		return ctx.Status(fiber.StatusNotFound).JSON(rpcErr)
	}

	initial, err := json.Marshal(snapshot)

	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).SendString(err.Error())
	}

	handler := func(w http.ResponseWriter, r *http.Request) {
		srv.core.Broker().Subscribe(w, r, taskID, initial)
	}

	return fiberadaptor.HTTPHandler(http.HandlerFunc(handler))(ctx)
}

/*
handleRPC is the central routing for all task RPC methods.
*/
func (srv *HTTPServer) handleRPC(ctx fiber.Ctx) error {
	ctx.Set("Content-Type", "application/json")

	var request jsonrpc.Request

	if err := ctx.Bind().Body(&request); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(jsonrpc.NewErrorResponse(
			nil, errors.ErrParseError.WithMessagef("invalid request body: %v", err)))
	}

	if request.JSONRPC != "2.0" {
		return ctx.JSON(jsonrpc.NewErrorResponse(
			request.ID, errors.ErrInvalidRequest.WithMessagef("jsonrpc must be 2.0")))
	}

	auth := srv.core.Authenticate(ctx.Get("Authorization"))

	switch request.Method {
	case "tasks/send":
		return srv.respond(ctx, request.ID, func() (any, *errors.RpcError) {
			var params a2a.TaskSendParams

			if rpcErr := unmarshalParams(request.Params, &params); rpcErr != nil {
				return nil, rpcErr
			}

			return srv.core.SendTask(ctx, params, auth)
		})
	case "tasks/get":
		return srv.respond(ctx, request.ID, func() (any, *errors.RpcError) {
			var params a2a.TaskQueryParams

			if rpcErr := unmarshalParams(request.Params, &params); rpcErr != nil {
				return nil, rpcErr
			}

			return srv.core.GetTask(ctx, params.ID, params.HistoryLength)
		})
	case "tasks/cancel":
		return srv.respond(ctx, request.ID, func() (any, *errors.RpcError) {
			var params a2a.TaskIDParams

			if rpcErr := unmarshalParams(request.Params, &params); rpcErr != nil {
				return nil, rpcErr
			}

			return srv.core.CancelTask(ctx, params.ID)
		})
	default:
		return ctx.JSON(jsonrpc.NewErrorResponse(
			request.ID, errors.ErrMethodNotFound.WithMessagef(
				"method not found: %s", request.Method)))
	}
}

func (srv *HTTPServer) respond(ctx fiber.Ctx, requestID json.RawMessage, op func() (any, *errors.RpcError)) error {
	result, rpcErr := op()

	if rpcErr != nil {
		log.Error("rpc operation failed", "id", string(requestID), "error", rpcErr)
		return ctx.JSON(jsonrpc.NewErrorResponse(requestID, rpcErr))
	}

	response, err := jsonrpc.NewResultResponse(requestID, result)

	if err != nil {
		return ctx.JSON(jsonrpc.NewErrorResponse(
			requestID, errors.ErrInternal.WithMessagef("failed to encode result: %v", err)))
	}

	return ctx.JSON(response)
}

func unmarshalParams(raw json.RawMessage, out any) *errors.RpcError {
	if len(raw) == 0 {
		return errors.ErrInvalidParams.WithMessagef("missing params")
	}

	if err := json.Unmarshal(raw, out); err != nil {
		log.Error("failed to unmarshal params", "error", err, "params", string(raw))
		return errors.ErrInvalidParams.WithMessagef("failed to unmarshal params: %v", err)
	}

	return nil
}
