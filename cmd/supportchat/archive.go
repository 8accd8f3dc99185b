package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"supportchat/internal/app"
)

func newArchiveCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Browse the local transcript archive",
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List archived sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			archive, err := app.OpenArchive(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = archive.Close() }()

			entries, err := archive.ListEntries(cmd.Context(), status)
			if err != nil {
				return err
			}
			renderArchive(cmd.OutOrStdout(), entries, time.Now())
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "only sessions with this status")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print an archived transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			archive, err := app.OpenArchive(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = archive.Close() }()

			messages, err := archive.Transcript(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderTranscript(cmd.OutOrStdout(), messages, "", time.Now())
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Health-check the archive and show its schema and size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			archive, err := app.OpenArchive(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = archive.Close() }()

			st, err := archive.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s archive healthy\n", color.GreenString("✓"))
			fmt.Fprintf(out, "  path:     %s\n", st.Path)
			fmt.Fprintf(out, "  schema:   %s\n", strings.Join(st.SchemaVersions, ", "))
			fmt.Fprintf(out, "  sessions: %s\n", humanize.Comma(int64(st.Sessions)))
			fmt.Fprintf(out, "  messages: %s\n", humanize.Comma(int64(st.Messages)))
			return nil
		},
	}

	cmd.AddCommand(list, show, statusCmd)
	return cmd
}
