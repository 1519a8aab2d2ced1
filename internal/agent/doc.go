// Package agent implements the agent side of the "Sign in with Auth Agent" flow.
//
// A website redirects an AI agent to an authorization page on the Auth Agent
// server. The agent reads the request id embedded in that page, presents its
// credentials, and then polls until the server reports that the request has
// been authorized. The website picks up the authorization code from there.
//
// # Flow
//
//	start -> request id extracted -> authenticated -> polling -> completed | failed | timed out
//
// A second factor may be verified between authenticated and polling.
//
// # Key Components
//
//   - Session: one flow for one authorization request (DeriveOrigin,
//     ExtractRequestID, Authenticate, VerifyTwoFactor, CheckStatus,
//     WaitForCompletion, CompleteFlow and their Async variants)
//   - Transport: the HTTP strategy (RestyTransport or HTTPTransport)
//   - PageFetcher: how authorization pages are read (plain GET, colly, or a
//     headless browser through rod)
//   - RequestIDMatcher: ordered request id extraction patterns
//   - REPL: interactive shell for stepping through a flow by hand
//   - MCPServer: exposes the flow as MCP tools for browser-driving agents
package agent
