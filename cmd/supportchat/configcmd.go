package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"supportchat/internal/config"
)

func newConfigCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	check := &cobra.Command{
		Use:   "check [file]",
		Short: "Validate a config file alone, or the effective configuration",
		Long: `With a file argument only that file is read over the defaults; the
environment and flags are ignored. Without one, the configuration every other
command would use is resolved and validated.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg *config.Config
				err error
			)
			if len(args) == 1 {
				cfg, err = config.LoadFromFile(args[0])
			} else {
				cfg, err = opts.loadConfig(cmd, nil)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s configuration valid\n", color.GreenString("✓"))
			fmt.Fprintf(out, "  role      %s\n", cfg.Channel.Role)
			fmt.Fprintf(out, "  channel   %s\n", cfg.Channel.URL)
			fmt.Fprintf(out, "  api       %s\n", cfg.API.BaseURL)
			if cfg.Archive.Enabled {
				fmt.Fprintf(out, "  archive   %s\n", cfg.Archive.Path)
			}
			if cfg.Metrics.Enabled {
				fmt.Fprintf(out, "  metrics   %s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
			}
			return nil
		},
	}

	cmd.AddCommand(check)
	return cmd
}
