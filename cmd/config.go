package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/auth-agent/auth-agent-cli/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and save configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if output == string(formatJSON) {
				return render(os.Stdout, formatJSON, cfg.Redacted(), nil)
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
	addFlowFlags(show)

	save := &cobra.Command{
		Use:   "save [path]",
		Short: "Write the effective configuration, including secrets, to a file",
		Long: `Resolves the configuration from every source and writes it as YAML, by
default to ~/.config/auth-agent/config.yaml. The file is readable only by you.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			path := config.DefaultPath()
			if len(args) == 1 {
				path = args[0]
			}
			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}
			newLogger().Success("Configuration saved to %s", path)
			return nil
		},
	}
	addFlowFlags(save)

	cmd.AddCommand(show, save)
	return cmd
}
