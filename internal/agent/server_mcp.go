package agent

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/auth-agent/auth-agent-cli/internal/logging"
)

// MCPServer exposes the sign-in flow as MCP tools so a browser-driving agent
// can complete "Sign in with Auth Agent" without holding credentials itself.
// Every tool call runs on a fresh Session.
type MCPServer struct {
	cfg             FlowConfig
	logger          *logging.Logger
	mcpServer       *server.MCPServer
	serverTransport string
}

// NewMCPServer creates a new MCP server backed by cfg.
func NewMCPServer(cfg FlowConfig, serverTransport string, version string, logger *logging.Logger) (*MCPServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if version == "" {
		version = "dev"
	}

	mcpServer := server.NewMCPServer(
		"auth-agent",
		version,
		server.WithToolCapabilities(false),
	)

	ms := &MCPServer{
		cfg:             cfg,
		logger:          logger,
		mcpServer:       mcpServer,
		serverTransport: serverTransport,
	}

	ms.registerTools()

	return ms, nil
}

// Start starts the MCP server using stdio or streamable-http transport
func (m *MCPServer) Start(ctx context.Context, listenAddr string) error {
	switch m.serverTransport {
	case "stdio":
		return server.ServeStdio(m.mcpServer)
	case "streamable-http":
		httpServer := server.NewStreamableHTTPServer(
			m.mcpServer,
			server.WithEndpointPath("/mcp"),
		)
		errCh := make(chan error, 1)
		go func() { errCh <- httpServer.Start(listenAddr) }()
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return httpServer.Shutdown(context.Background())
		}
	default:
		return fmt.Errorf("unsupported server transport: %s", m.serverTransport)
	}
}

// registerTools registers all MCP tools
func (m *MCPServer) registerTools() {
	authenticateTool := mcp.NewTool("authenticate_with_auth_agent",
		mcp.WithDescription("Complete a 'Sign in with Auth Agent' flow: read the request id from the authorization page, authenticate the agent, and wait until the website is authorized. If the result has requires_2fa set, submit the code with verify_2fa and then poll check_auth_status"),
		mcp.WithString("authorization_url",
			mcp.Required(),
			mcp.Description("URL of the Auth Agent authorization page the website redirected to"),
		),
		mcp.WithNumber("timeout_seconds",
			mcp.Description("Maximum time to wait for completion (default: 60)"),
		),
		mcp.WithNumber("poll_interval_seconds",
			mcp.Description("Delay between status checks (default: 0.5)"),
		),
	)
	m.mcpServer.AddTool(authenticateTool, m.handleAuthenticate)

	extractTool := mcp.NewTool("extract_request_id",
		mcp.WithDescription("Find the request id in an Auth Agent authorization page, given its URL or HTML"),
		mcp.WithString("source",
			mcp.Required(),
			mcp.Description("Authorization page URL or page HTML"),
		),
	)
	m.mcpServer.AddTool(extractTool, m.handleExtract)

	statusTool := mcp.NewTool("check_auth_status",
		mcp.WithDescription("Check the status of an authorization request once"),
		mcp.WithString("request_id",
			mcp.Required(),
			mcp.Description("Request id from the authorization page"),
		),
		mcp.WithString("server_url",
			mcp.Required(),
			mcp.Description("Authorization page URL or authorization server origin"),
		),
	)
	m.mcpServer.AddTool(statusTool, m.handleCheckStatus)

	verifyTool := mcp.NewTool("verify_2fa",
		mcp.WithDescription("Submit a two-factor verification code for an authorization request"),
		mcp.WithString("request_id",
			mcp.Required(),
			mcp.Description("Request id from the authorization page"),
		),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("Verification code"),
		),
		mcp.WithString("server_url",
			mcp.Required(),
			mcp.Description("Authorization page URL or authorization server origin"),
		),
	)
	m.mcpServer.AddTool(verifyTool, m.handleVerify2FA)
}
