package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/auth-agent/auth-agent-cli/internal/agent"
)

const (
	transportStdio          = "stdio"
	transportStreamableHTTP = "streamable-http"
)

var (
	serverTransport string
	listenAddr      string
)

func newShellCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Step through the sign-in flow interactively",
		Long: `Starts an interactive shell for exploring the sign-in flow one step at a time.

In the shell you can:
- Derive the authorization server origin from an authorization URL
- Extract the request id from an authorization page
- Authenticate, verify a second factor and check the status
- Wait for completion or run the whole flow at once

Type 'help' inside the shell for the list of commands.`,
		Args: cobra.NoArgs,
		RunE: runShell,
	}
	addFlowFlags(cmd)
	return cmd
}

func newMCPServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Expose the sign-in flow as MCP tools",
		Long: `Runs an MCP server that lets a browser-driving AI agent complete
"Sign in with Auth Agent" without ever holding the agent secret itself.

The server uses the agent credentials from the configuration. Configure it in
your AI assistant's MCP settings with the stdio transport, or run it with
--server-transport streamable-http to serve http://<listen-addr>/mcp.`,
		Args: cobra.NoArgs,
		RunE: runMCPServer,
	}
	addFlowFlags(cmd)
	cmd.Flags().StringVar(&serverTransport, "server-transport", transportStdio, "Transport protocol for the MCP server (stdio, streamable-http)")
	cmd.Flags().StringVar(&listenAddr, "listen-addr", ":8899", "Listen address for streamable-http server (path is fixed to /mcp)")
	return cmd
}

func runShell(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd, true)
	defer cancel()

	logger := newLogger()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateAgent(); err != nil {
		return err
	}
	warnSecretFlags(cmd, logger)

	fc, err := cfg.FlowConfig(logger)
	if err != nil {
		return err
	}
	fc.TwoFactor = agent.ReadlineTwoFactorPrompt()

	repl, err := agent.NewREPL(fc, logger)
	if err != nil {
		return err
	}
	if err := repl.Run(ctx); err != nil {
		return fmt.Errorf("REPL error: %w", err)
	}
	return nil
}

func runMCPServer(cmd *cobra.Command, args []string) error {
	if serverTransport != transportStdio && serverTransport != transportStreamableHTTP {
		return fmt.Errorf("unsupported server transport '%s' (want stdio or streamable-http)", serverTransport)
	}

	// stdout carries the protocol in stdio mode
	ctx, cancel := commandContext(cmd, serverTransport != transportStdio)
	defer cancel()

	logger := newLogger()
	if serverTransport == transportStdio {
		logger.SetWriter(cmd.ErrOrStderr())
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateAgent(); err != nil {
		return err
	}
	fc, err := cfg.FlowConfig(logger)
	if err != nil {
		return err
	}

	server, err := agent.NewMCPServer(fc, serverTransport, version, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	logger.Info("Starting auth-agent MCP server (transport: %s)...", serverTransport)
	if serverTransport == transportStreamableHTTP {
		addr := listenAddr
		if !strings.Contains(addr, ":") {
			addr = ":" + addr
		}
		listenAddr = addr
		logger.Info("Listening on %s%s", addr, "/mcp")
	}

	if err := server.Start(ctx, listenAddr); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
