package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flowline-dev/flowline/internal/engine"
	"github.com/flowline-dev/flowline/internal/store"
	"github.com/flowline-dev/flowline/internal/streaming"
)

// FlowEngine is the engine surface the MCP tools drive.
type FlowEngine interface {
	Start(ctx context.Context, req engine.StartFlowExecutionRequest) (*engine.StartFlowExecutionResponse, error)
	Cancel(executionID string) bool
	Status(ctx context.Context, executionID string) (*store.FlowExecution, error)
}

// FlowServerDeps holds the dependencies for creating a FlowServer.
type FlowServerDeps struct {
	Engine FlowEngine
	Store  store.Store
	Hub    streaming.Hub
	Logger *slog.Logger
}

// FlowServer wraps an MCP server with flow engine tool handlers.
type FlowServer struct {
	engine    FlowEngine
	store     store.Store
	hub       streaming.Hub
	logger    *slog.Logger
	sessions  *SessionRegistry
	mcpServer *server.MCPServer
}

// NewFlowServer creates a new FlowServer with all 4 tools registered.
func NewFlowServer(deps FlowServerDeps) *FlowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &FlowServer{
		engine:   deps.Engine,
		store:    deps.Store,
		hub:      deps.Hub,
		logger:   logger,
		sessions: NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"flowline",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Flowline executes linear AI agent flows. Use flow.run to start an execution, flow.status to check progress, flow.cancel to request cancellation, and flow.query to list flows, executions, or schedules."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *FlowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 4 registered MCP tools as ServerTool entries.
func (s *FlowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("flow.run",
		mcp.WithDescription("Start an execution of a registered flow"),
		mcp.WithString("flow_id", mcp.Required(), mcp.Description("ID of the flow to execute")),
		mcp.WithObject("input", mcp.Description("Input values for the flow's input node fields")),
		mcp.WithBoolean("wait", mcp.Description("Wait for the execution to finish and include the final result (default: false)")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("flow.cancel",
		mcp.WithDescription("Request cooperative cancellation of a running execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to cancel")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("flow.status",
		mcp.WithDescription("Get the current snapshot of an execution, including per-node history"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to query")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("flow.query",
		mcp.WithDescription("Query flows, executions, or schedules"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("flows", "executions", "schedules"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (flow_id, status, active, since, limit)")),
	)
}
