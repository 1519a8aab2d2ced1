package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/auth-agent/auth-agent-cli/internal/config"
	"github.com/auth-agent/auth-agent-cli/internal/logging"
)

var (
	version    string
	configFile string
	envFiles   []string
	verbose    bool
	noColor    bool
	trace      bool
	output     string
	quiet      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "auth-agent",
	Short: "Sign AI agents in to websites with Auth Agent",
	Long: `auth-agent completes the agent side of the "Sign in with Auth Agent" flow.

A website that supports Auth Agent redirects the browser to an authorization
page. The agent reads the request id from that page, proves its identity with
its agent id and secret over a back channel, and then waits until the server
redirects the browser back to the website with an authorization code.

Commands:
- auth:       complete the whole flow for an authorization URL
- status:     check or wait on a single authorization request
- shell:      interactive step-by-step exploration of the flow
- mcp-server: expose the flow as MCP tools for browser-driving agents
- signin:     act as a website and run the authorization code flow with PKCE
- admin:      provision agents and OAuth clients on an Auth Agent server
- config:     show or save the effective configuration

Credentials are read from flags, the environment (AGENT_ID, AGENT_SECRET,
AUTH_AGENT_*), .env files and ~/.config/auth-agent/config.yaml.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// SetVersion sets the version for the application
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ~/.config/auth-agent/config.yaml, env: AUTH_AGENT_CONFIG)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Load variables from .env files (default: ./.env if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&trace, "trace", false, "Log every HTTP request and response (secrets redacted)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", string(formatTable), "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress indicators")

	rootCmd.PersistentFlags().String("server", config.DefaultServerURL, "Auth Agent server URL (env: AUTH_AGENT_SERVER_URL)")
	rootCmd.PersistentFlags().StringSlice("allowed-host", nil, "Restrict the authorization servers that may be contacted (repeatable)")
	rootCmd.PersistentFlags().Duration("request-timeout", 30*time.Second, "Timeout for each HTTP request")
	rootCmd.PersistentFlags().String("user-agent", "", "User-Agent header sent with every request")

	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newShellCmd())
	rootCmd.AddCommand(newMCPServerCmd())
	rootCmd.AddCommand(newSignInCmd())
	rootCmd.AddCommand(newAdminCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}

// addFlowFlags registers the flags shared by commands that act as the agent.
func addFlowFlags(cmd *cobra.Command) {
	cmd.Flags().String("agent-id", "", "Agent id (env: AGENT_ID)")
	cmd.Flags().String("agent-secret", "", "Agent secret (env: AGENT_SECRET)")
	cmd.Flags().String("model", "", "Model identifier reported to the server (env: AGENT_MODEL)")
	cmd.Flags().Duration("poll-interval", 0, "Delay between status polls (default 500ms)")
	cmd.Flags().Duration("timeout", 0, "Maximum time to wait for the flow to complete (default 60s)")
	cmd.Flags().String("transport", "", "HTTP transport for back-channel calls (resty, http)")
	cmd.Flags().String("fetcher", "", "How to load authorization pages (http, colly, browser)")
	cmd.Flags().String("browser-url", "", "DevTools URL of a running browser for --fetcher browser")
}

// newLogger builds the logger for the global output flags. Structured
// output keeps stdout clean by logging to stderr.
func newLogger() *logging.Logger {
	if output != "" && output != string(formatTable) {
		return logging.NewLoggerWithWriter(verbose, !noColor, trace, os.Stderr)
	}
	return logging.NewLogger(verbose, !noColor, trace)
}

// loadConfig resolves the configuration for cmd, with its flags taking precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		ConfigFile: configFile,
		EnvFiles:   envFiles,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// warnSecretFlags warns when secrets were passed on the command line.
func warnSecretFlags(cmd *cobra.Command, logger *logging.Logger) {
	for _, name := range []string{"agent-secret", "client-secret", "admin-token"} {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			logger.Warning("Security Warning: --%s is visible in process listings", name)
			logger.Info("Consider using environment variables or a .env file instead")
		}
	}
}

// commandContext returns a context cancelled on interrupt signals.
func commandContext(cmd *cobra.Command, announce bool) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(cmd.Context())
	setupSignalHandler(cancel, announce)
	return ctx, cancel
}

// setupSignalHandler sets up graceful shutdown on interrupt signals
func setupSignalHandler(cancel context.CancelFunc, announce bool) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		if announce {
			fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, shutting down gracefully...")
		}
		cancel()
	}()
}
