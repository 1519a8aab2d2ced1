package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/auth-agent/auth-agent-cli/internal/website"
)

var (
	signInNoBrowser       bool
	signInCallbackTimeout time.Duration
	signInRevoke          bool
	signInShowToken       bool
)

func newSignInCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Run the website side of the authorization code flow",
		Long: `Acts as a website that offers "Sign in with Auth Agent": it discovers the
server metadata, opens the authorization page with PKCE, waits for the redirect
on a local callback server, exchanges the code for tokens and introspects the
access token.

Use it to test a server or a client registration end to end. Point an agent at
the printed authorization URL (for example with 'auth-agent auth <url>') to
complete the sign-in without a human.`,
		Args: cobra.NoArgs,
		RunE: runSignIn,
	}
	cmd.Flags().String("client-id", "", "OAuth client id (env: AUTH_AGENT_CLIENT_ID)")
	cmd.Flags().String("client-secret", "", "OAuth client secret (env: AUTH_AGENT_CLIENT_SECRET)")
	cmd.Flags().String("redirect-uri", "", "Redirect URI served locally (default http://localhost:8765/callback)")
	cmd.Flags().StringSlice("scope", nil, "Scopes to request (default: openid profile)")
	cmd.Flags().BoolVar(&signInNoBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	cmd.Flags().DurationVar(&signInCallbackTimeout, "callback-timeout", website.DefaultCallbackTimeout, "How long to wait for the redirect")
	cmd.Flags().BoolVar(&signInRevoke, "revoke", false, "Revoke the access token after printing it")
	cmd.Flags().BoolVar(&signInShowToken, "show-token", false, "Include the raw access token in the output")
	return cmd
}

// signInOutput is the printable form of a sign-in.
type signInOutput struct {
	AgentID     string     `json:"agent_id"`
	ClientID    string     `json:"client_id,omitempty"`
	Model       string     `json:"model,omitempty"`
	Scope       string     `json:"scope,omitempty"`
	Active      bool       `json:"active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	TokenType   string     `json:"token_type"`
	AccessToken string     `json:"access_token,omitempty"`
	HasRefresh  bool       `json:"has_refresh_token"`
}

func newSignInOutput(res *website.SignInResult, showToken bool) signInOutput {
	out := signInOutput{
		TokenType:  res.Token.TokenType,
		HasRefresh: res.Token.RefreshToken != "",
	}
	if !res.Token.Expiry.IsZero() {
		exp := res.Token.Expiry
		out.ExpiresAt = &exp
	}
	if showToken {
		out.AccessToken = res.Token.AccessToken
	}
	if i := res.Introspection; i != nil {
		out.AgentID = i.Subject
		out.ClientID = i.ClientID
		out.Model = i.Model
		out.Scope = i.Scope
		out.Active = i.Active
		if exp := i.ExpiresAt(); !exp.IsZero() {
			out.ExpiresAt = &exp
		}
	}
	if c := res.Claims; c != nil && out.AgentID == "" {
		out.AgentID = c.AgentID()
	}
	return out
}

func runSignIn(cmd *cobra.Command, args []string) error {
	format, err := parseOutputFormat(output)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd, true)
	defer cancel()

	logger := newLogger()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateWebsite(); err != nil {
		return err
	}
	warnSecretFlags(cmd, logger)

	client, err := website.NewClient(cfg.WebsiteConfig(logger))
	if err != nil {
		return err
	}
	meta, err := client.Discover(ctx)
	if err != nil {
		return fmt.Errorf("failed to discover authorization server: %w", err)
	}
	if meta.Discovered {
		logger.InfoVerbose("Discovered authorization server %s", meta.Issuer)
	} else {
		logger.InfoVerbose("No metadata published, using default endpoints")
	}

	opts := website.SignInOptions{CallbackTimeout: signInCallbackTimeout}
	if !signInNoBrowser {
		opts.OpenBrowser = browser.OpenURL
	}

	res, err := client.SignIn(ctx, opts)
	if err != nil {
		return err
	}
	out := newSignInOutput(res, signInShowToken)
	logger.Success("Signed in as agent %s", out.AgentID)
	if err := render(os.Stdout, format, out, signInTable(out)); err != nil {
		return err
	}

	if signInRevoke {
		if err := client.Revoke(ctx, res.Token.AccessToken); err != nil {
			return fmt.Errorf("failed to revoke access token: %w", err)
		}
		logger.Success("Access token revoked")
	}
	return nil
}

func signInTable(o signInOutput) func(t table.Writer) {
	expires := ""
	if o.ExpiresAt != nil {
		expires = o.ExpiresAt.Local().Format(time.RFC3339)
	}
	return keyValueTable([][2]string{
		{"Agent ID", o.AgentID},
		{"Client ID", o.ClientID},
		{"Model", o.Model},
		{"Scope", o.Scope},
		{"Active", fmt.Sprintf("%t", o.Active)},
		{"Token Type", o.TokenType},
		{"Expires At", expires},
		{"Refresh Token", fmt.Sprintf("%t", o.HasRefresh)},
		{"Access Token", o.AccessToken},
	})
}
