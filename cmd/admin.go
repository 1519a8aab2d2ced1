package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/auth-agent/auth-agent-cli/internal/admin"
	"github.com/auth-agent/auth-agent-cli/internal/logging"
)

var (
	adminEnvFileOut   string
	adminAgentID      string
	adminUserEmail    string
	adminUserName     string
	adminModel        string
	adminClientID     string
	adminClientName   string
	adminRedirectURIs []string
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Provision agents and OAuth clients",
		Long: `Manages agent identities and website OAuth clients through the admin API
of an Auth Agent server.

Secrets are only returned when a resource is created. Use --env-file-out to
save them straight into a .env file; existing variables in that file are kept.`,
	}
	cmd.PersistentFlags().String("admin-token", "", "Bearer token for the admin API (env: AUTH_AGENT_ADMIN_TOKEN)")
	cmd.PersistentFlags().Int("retry-max", admin.DefaultRetryMax, "Retries for transient admin API failures")

	createAgent := &cobra.Command{
		Use:   "create-agent",
		Short: "Create an agent and print its credentials",
		Args:  cobra.NoArgs,
		RunE:  runCreateAgent,
	}
	addAgentFlags(createAgent)
	createAgent.Flags().StringVar(&adminEnvFileOut, "env-file-out", "", "Merge AGENT_ID, AGENT_SECRET and AGENT_MODEL into this .env file")

	createClient := &cobra.Command{
		Use:   "create-client",
		Short: "Register a website OAuth client and print its credentials",
		Args:  cobra.NoArgs,
		RunE:  runCreateClient,
	}
	addClientFlags(createClient)
	createClient.Flags().StringVar(&adminEnvFileOut, "env-file-out", "", "Merge the website variables into this .env file")

	updateClient := &cobra.Command{
		Use:   "update-client <client-id>",
		Short: "Change a client's name or redirect URIs",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpdateClient,
	}
	updateClient.Flags().StringVar(&adminClientName, "name", "", "New client name")
	updateClient.Flags().StringSliceVar(&adminRedirectURIs, "redirect-uris", nil, "Replacement redirect URIs (repeatable)")

	bootstrap := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create an agent and a client together",
		Long: `Creates an agent and a website client in one step, which is what a fresh
development setup needs. With --env-file-out every variable for both sides is
written to one .env file.`,
		Args: cobra.NoArgs,
		RunE: runBootstrap,
	}
	addAgentFlags(bootstrap)
	addClientFlags(bootstrap)
	bootstrap.Flags().StringVar(&adminEnvFileOut, "env-file-out", "", "Merge all agent and website variables into this .env file")

	cmd.AddCommand(createAgent, createClient, updateClient, bootstrap,
		&cobra.Command{
			Use:   "list-agents",
			Short: "List agents",
			Args:  cobra.NoArgs,
			RunE:  runListAgents,
		},
		&cobra.Command{
			Use:   "list-clients",
			Short: "List OAuth clients",
			Args:  cobra.NoArgs,
			RunE:  runListClients,
		},
	)
	return cmd
}

func addAgentFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&adminAgentID, "agent-id", "", "Agent id (default: generated)")
	cmd.Flags().StringVar(&adminUserEmail, "email", "", "Email of the user the agent acts for")
	cmd.Flags().StringVar(&adminUserName, "name", "", "Name of the user the agent acts for")
	cmd.Flags().StringVar(&adminModel, "model", "", "Model written to AGENT_MODEL (default: browser-use)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
}

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&adminClientID, "client-id", "", "Client id (default: generated)")
	cmd.Flags().StringVar(&adminClientName, "client-name", "", "Display name of the website")
	cmd.Flags().StringSliceVar(&adminRedirectURIs, "redirect-uris", nil, "Allowed redirect URIs (repeatable)")
	_ = cmd.MarkFlagRequired("client-name")
	_ = cmd.MarkFlagRequired("redirect-uris")
}

// newAdminClient loads the configuration and returns an admin API client.
func newAdminClient(cmd *cobra.Command, logger *logging.Logger) (*admin.Client, string, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, "", err
	}
	warnSecretFlags(cmd, logger)
	if cfg.Admin.Token == "" {
		logger.InfoVerbose("No admin token configured; requests are sent unauthenticated")
	}
	client, err := admin.NewClient(cfg.AdminConfig(logger))
	if err != nil {
		return nil, "", err
	}
	return client, client.BaseURL(), nil
}

// adminCall runs fn with a signal-aware context and an admin client.
func adminCall(cmd *cobra.Command, fn func(ctx context.Context, client *admin.Client, serverURL string, logger *logging.Logger, format outputFormat) error) error {
	format, err := parseOutputFormat(output)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd, true)
	defer cancel()

	logger := newLogger()
	client, serverURL, err := newAdminClient(cmd, logger)
	if err != nil {
		return err
	}
	if err := fn(ctx, client, serverURL, logger, format); err != nil {
		return describeAdminError(err, logger)
	}
	return nil
}

func runCreateAgent(cmd *cobra.Command, args []string) error {
	return adminCall(cmd, func(ctx context.Context, client *admin.Client, serverURL string, logger *logging.Logger, format outputFormat) error {
		a, err := client.CreateAgent(ctx, admin.CreateAgentRequest{
			AgentID:   adminAgentID,
			UserEmail: adminUserEmail,
			UserName:  adminUserName,
		})
		if err != nil {
			return err
		}
		logger.Success("Agent %s created", a.AgentID)
		if err := render(os.Stdout, format, a, agentTable(a)); err != nil {
			return err
		}
		return saveEnv(logger, admin.AgentEnv(a, adminModel), a.Warning)
	})
}

func runCreateClient(cmd *cobra.Command, args []string) error {
	return adminCall(cmd, func(ctx context.Context, client *admin.Client, serverURL string, logger *logging.Logger, format outputFormat) error {
		c, err := client.CreateClient(ctx, admin.CreateClientRequest{
			ClientID:     adminClientID,
			ClientName:   adminClientName,
			RedirectURIs: adminRedirectURIs,
		})
		if err != nil {
			return err
		}
		logger.Success("Client %s created", c.ClientID)
		if err := render(os.Stdout, format, c, clientTable(c)); err != nil {
			return err
		}
		return saveEnv(logger, admin.ClientEnv(c, serverURL), c.Warning)
	})
}

func runUpdateClient(cmd *cobra.Command, args []string) error {
	return adminCall(cmd, func(ctx context.Context, client *admin.Client, serverURL string, logger *logging.Logger, format outputFormat) error {
		if adminClientName == "" && len(adminRedirectURIs) == 0 {
			return fmt.Errorf("nothing to update: pass --name or --redirect-uris")
		}
		err := client.UpdateClient(ctx, admin.UpdateClientRequest{
			ClientID:     args[0],
			ClientName:   adminClientName,
			RedirectURIs: adminRedirectURIs,
		})
		if err != nil {
			return err
		}
		logger.Success("Client %s updated", args[0])
		return nil
	})
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	return adminCall(cmd, func(ctx context.Context, client *admin.Client, serverURL string, logger *logging.Logger, format outputFormat) error {
		res, err := client.Bootstrap(ctx, admin.BootstrapRequest{
			Agent: admin.CreateAgentRequest{
				AgentID:   adminAgentID,
				UserEmail: adminUserEmail,
				UserName:  adminUserName,
			},
			Client: admin.CreateClientRequest{
				ClientID:     adminClientID,
				ClientName:   adminClientName,
				RedirectURIs: adminRedirectURIs,
			},
		})
		if err != nil {
			return err
		}
		logger.Success("Agent %s and client %s created", res.Agent.AgentID, res.Client.ClientID)

		out := struct {
			Agent  *admin.Agent       `json:"agent"`
			Client *admin.OAuthClient `json:"client"`
		}{res.Agent, res.Client}
		err = render(os.Stdout, format, out, func(t table.Writer) {
			agentTable(res.Agent)(t)
			t.AppendSeparator()
			appendClientRows(t, res.Client)
		})
		if err != nil {
			return err
		}
		vars := admin.MergeEnv(admin.AgentEnv(res.Agent, adminModel), admin.ClientEnv(res.Client, serverURL))
		return saveEnv(logger, vars, res.Agent.Warning)
	})
}

func runListAgents(cmd *cobra.Command, args []string) error {
	return adminCall(cmd, func(ctx context.Context, client *admin.Client, serverURL string, logger *logging.Logger, format outputFormat) error {
		agents, err := client.ListAgents(ctx)
		if err != nil {
			return err
		}
		return render(os.Stdout, format, agents, func(t table.Writer) {
			t.AppendHeader(table.Row{"AGENT ID", "USER EMAIL", "USER NAME", "CREATED"})
			for _, a := range agents {
				t.AppendRow(table.Row{a.AgentID, a.UserEmail, a.UserName, a.CreatedAt})
			}
			t.AppendFooter(table.Row{"", "", "TOTAL", len(agents)})
		})
	})
}

func runListClients(cmd *cobra.Command, args []string) error {
	return adminCall(cmd, func(ctx context.Context, client *admin.Client, serverURL string, logger *logging.Logger, format outputFormat) error {
		clients, err := client.ListClients(ctx)
		if err != nil {
			return err
		}
		return render(os.Stdout, format, clients, func(t table.Writer) {
			t.AppendHeader(table.Row{"CLIENT ID", "NAME", "REDIRECT URIS", "CREATED"})
			for _, c := range clients {
				t.AppendRow(table.Row{c.ClientID, c.ClientName, strings.Join(c.RedirectURIs, "\n"), c.CreatedAt})
			}
			t.AppendFooter(table.Row{"", "", "TOTAL", len(clients)})
		})
	})
}

// saveEnv writes vars to --env-file-out, or prints them when no file was given.
func saveEnv(logger *logging.Logger, vars map[string]string, warning string) error {
	if warning != "" {
		logger.Warning("%s", warning)
	}
	if adminEnvFileOut == "" {
		rendered, err := admin.FormatEnv(vars)
		if err != nil {
			return err
		}
		logger.Info("Add these variables to your .env file:")
		fmt.Fprintln(os.Stderr, rendered)
		return nil
	}
	if err := admin.WriteEnvFile(adminEnvFileOut, vars); err != nil {
		return err
	}
	logger.Success("Credentials saved to %s", adminEnvFileOut)
	return nil
}

func describeAdminError(err error, logger *logging.Logger) error {
	apiErr, ok := admin.AsAPIError(err)
	if !ok {
		return err
	}
	switch {
	case apiErr.IsUnauthorized():
		logger.Info("The admin API rejected the request. Set AUTH_AGENT_ADMIN_TOKEN or pass --admin-token")
	case apiErr.IsConflict():
		logger.Info("A resource with that id already exists. Omit the id to generate one")
	case apiErr.IsServerError():
		logger.Info("The server failed after retries. Check the server logs")
	}
	return err
}

func agentTable(a *admin.Agent) func(t table.Writer) {
	return keyValueTable([][2]string{
		{"Agent ID", a.AgentID},
		{"Agent Secret", a.AgentSecret},
		{"User Email", a.UserEmail},
		{"User Name", a.UserName},
		{"Created", a.CreatedAt},
	})
}

func clientTable(c *admin.OAuthClient) func(t table.Writer) {
	return func(t table.Writer) {
		t.AppendHeader(table.Row{"FIELD", "VALUE"})
		appendClientRows(t, c)
	}
}

func appendClientRows(t table.Writer, c *admin.OAuthClient) {
	for _, r := range [][2]string{
		{"Client ID", c.ClientID},
		{"Client Secret", c.ClientSecret},
		{"Client Name", c.ClientName},
		{"Redirect URIs", strings.Join(c.RedirectURIs, "\n")},
		{"Grant Types", strings.Join(c.GrantTypes, ", ")},
		{"Created", c.CreatedAt},
	} {
		if r[1] != "" {
			t.AppendRow(table.Row{r[0], r[1]})
		}
	}
}
