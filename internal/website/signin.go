package website

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// SignInOptions control an interactive sign-in.
type SignInOptions struct {
	// OpenBrowser is called with the authorization URL. When nil or failing,
	// the URL is only logged.
	OpenBrowser func(url string) error

	// CallbackTimeout bounds the wait for the redirect.
	CallbackTimeout time.Duration
}

// SignInResult is the outcome of a completed sign-in.
type SignInResult struct {
	Token         *oauth2.Token
	Introspection *Introspection
	Claims        *Claims
}

// IDToken returns the id_token returned with the access token, if any.
func (r *SignInResult) IDToken() string {
	if r.Token == nil {
		return ""
	}
	s, _ := r.Token.Extra("id_token").(string)
	return s
}

// SignIn runs the whole website flow: it starts the callback server, sends
// the user (or agent) to the authorization URL, waits for the redirect and
// completes the exchange.
func (c *Client) SignIn(ctx context.Context, opts SignInOptions) (*SignInResult, error) {
	auth, err := c.NewAuthorization()
	if err != nil {
		return nil, err
	}

	cb, err := NewCallbackServer(c.cfg.RedirectURI, auth.State, c.logger)
	if err != nil {
		return nil, err
	}
	if err := cb.Start(); err != nil {
		return nil, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = cb.Shutdown(shutdownCtx)
	}()

	c.logger.Info("Authorization URL: %s", auth.URL)
	if opts.OpenBrowser != nil {
		if err := opts.OpenBrowser(auth.URL); err != nil {
			c.logger.Warning("Could not open browser automatically: %v", err)
			c.logger.Info("Please open the URL above in your browser")
		}
	}

	c.logger.Info("Waiting for authorization...")
	res, err := cb.Wait(ctx, opts.CallbackTimeout)
	if err != nil {
		return nil, err
	}
	c.logger.Success("Authorization code received")

	return c.Complete(ctx, auth, res)
}

// Complete checks the callback against the pending authorization, exchanges
// the code, and confirms the resulting access token is active.
func (c *Client) Complete(ctx context.Context, auth *Authorization, res *CallbackResult) (*SignInResult, error) {
	if auth == nil || auth.CodeVerifier == "" {
		return nil, fmt.Errorf("no pending authorization: code verifier not found")
	}
	if res.State != auth.State {
		return nil, fmt.Errorf("%w: possible CSRF attack", ErrStateMismatch)
	}
	if res.Code == "" {
		return nil, ErrMissingCode
	}

	tok, err := c.Exchange(ctx, res.Code, auth.CodeVerifier)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	info, err := c.Introspect(ctx, tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("introspection failed: %w", err)
	}
	if !info.Active {
		return nil, ErrInactiveToken
	}

	out := &SignInResult{Token: tok, Introspection: info}
	if claims, err := DecodeClaims(tok.AccessToken); err == nil {
		out.Claims = claims
	} else {
		c.logger.WarningVerbose("Access token is not a readable JWT: %v", err)
	}
	return out, nil
}
