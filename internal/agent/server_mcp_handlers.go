package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// toolArgs extracts the argument map from a tool request.
func toolArgs(request mcp.CallToolRequest) (map[string]interface{}, bool) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	return args, ok
}

func stringArg(args map[string]interface{}, name string) (string, bool) {
	v, ok := args[name].(string)
	return v, ok && v != ""
}

// secondsArg reads an optional numeric argument in seconds.
func secondsArg(args map[string]interface{}, name string) time.Duration {
	v, ok := args[name].(float64)
	if !ok || v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}

// jsonResult marshals v into a text result.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// sessionFor builds a fresh session whose origin is derived from serverURL.
func (m *MCPServer) sessionFor(serverURL string) (*Session, error) {
	session, err := NewSession(m.cfg)
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		if _, err := session.DeriveOrigin(serverURL); err != nil {
			return nil, err
		}
	}
	return session, nil
}

// handleAuthenticate handles the authenticate_with_auth_agent tool request
func (m *MCPServer) handleAuthenticate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := toolArgs(request)
	if !ok {
		return mcp.NewToolResultError("invalid arguments type"), nil
	}

	authURL, ok := stringArg(args, "authorization_url")
	if !ok {
		return mcp.NewToolResultError("missing or invalid 'authorization_url' argument"), nil
	}

	session, err := m.sessionFor("")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	opts := session.DefaultWaitOptions()
	if d := secondsArg(args, "timeout_seconds"); d > 0 {
		opts.Timeout = d
	}
	if d := secondsArg(args, "poll_interval_seconds"); d > 0 {
		opts.PollInterval = d
	}

	// The host agent answers a second factor through verify_2fa, not a prompt
	session.cfg.TwoFactor = RejectTwoFactor

	status, err := session.CompleteFlow(ctx, authURL, opts)
	if errors.Is(err, ErrTwoFactorRequired) {
		m.logger.Info("Request %s requires a second factor", session.RequestID())
		return jsonResult(map[string]interface{}{
			"status":       errTwoFactorRequired,
			"requires_2fa": true,
			"request_id":   session.RequestID(),
			"server_url":   session.Origin(),
			"next_step":    "call verify_2fa with request_id, server_url and the code, then check_auth_status until completed",
		})
	}
	if err != nil {
		m.logger.Error("Sign-in failed: %v", err)
		return mcp.NewToolResultError(fmt.Sprintf("sign-in failed: %v", err)), nil
	}

	return jsonResult(map[string]interface{}{
		"status":       status.Status,
		"request_id":   session.RequestID(),
		"redirect_uri": status.RedirectURI,
		"callback_url": status.CallbackURL(),
	})
}

// handleExtract handles the extract_request_id tool request
func (m *MCPServer) handleExtract(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := toolArgs(request)
	if !ok {
		return mcp.NewToolResultError("invalid arguments type"), nil
	}

	source, ok := stringArg(args, "source")
	if !ok {
		return mcp.NewToolResultError("missing or invalid 'source' argument"), nil
	}

	session, err := m.sessionFor("")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	id, err := session.ExtractRequestID(ctx, source)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(map[string]string{
		"request_id": id,
		"origin":     session.Origin(),
	})
}

// handleCheckStatus handles the check_auth_status tool request
func (m *MCPServer) handleCheckStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := toolArgs(request)
	if !ok {
		return mcp.NewToolResultError("invalid arguments type"), nil
	}

	requestID, ok := stringArg(args, "request_id")
	if !ok {
		return mcp.NewToolResultError("missing or invalid 'request_id' argument"), nil
	}
	serverURL, ok := stringArg(args, "server_url")
	if !ok {
		return mcp.NewToolResultError("missing or invalid 'server_url' argument"), nil
	}

	session, err := m.sessionFor(serverURL)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	status, err := session.CheckStatus(ctx, requestID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(status)
}

// handleVerify2FA handles the verify_2fa tool request
func (m *MCPServer) handleVerify2FA(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := toolArgs(request)
	if !ok {
		return mcp.NewToolResultError("invalid arguments type"), nil
	}

	requestID, ok := stringArg(args, "request_id")
	if !ok {
		return mcp.NewToolResultError("missing or invalid 'request_id' argument"), nil
	}
	code, ok := stringArg(args, "code")
	if !ok {
		return mcp.NewToolResultError("missing or invalid 'code' argument"), nil
	}
	serverURL, ok := stringArg(args, "server_url")
	if !ok {
		return mcp.NewToolResultError("missing or invalid 'server_url' argument"), nil
	}

	session, err := m.sessionFor(serverURL)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	outcome, err := session.VerifyTwoFactor(ctx, requestID, code)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !outcome.Success {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", outcome.Error, outcome.ErrorDescription)), nil
	}

	return jsonResult(outcome)
}
