// Package website implements the relying-party side of "Sign in with Auth
// Agent": PKCE authorization URLs, the redirect callback, the code exchange
// and token introspection. It is the counterpart a website runs while an
// agent completes the flow in package agent.
package website
