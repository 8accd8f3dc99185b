package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"supportchat/internal/api"
	"supportchat/internal/app"
	"supportchat/internal/database"
	"supportchat/internal/directory"
	"supportchat/internal/format"
)

func newSessionsCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage support sessions (agent)",
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List every session known to the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, cleanup, err := opts.openDirectory(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := dir.Refresh(cmd.Context()); err != nil {
				return err
			}
			entries := dir.Snapshot()
			if status != "" {
				entries = dir.ByStatus(status)
			}
			sortByActivity(entries)
			renderDirectory(cmd.OutOrStdout(), entries, time.Now())
			fmt.Fprintln(cmd.OutOrStdout(), color.HiBlackString("refreshed at %s", format.Time(dir.LastRefresh())))
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "only sessions with this status (active, waiting, closed, ended)")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, cleanup, err := opts.openDirectory(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			messages, err := dir.Transcript(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderTranscript(cmd.OutOrStdout(), messages, "", time.Now())
			return nil
		},
	}

	setStatus := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Change a session's status, e.g. close it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, cleanup, err := opts.openDirectory(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := dir.UpdateStatus(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Session %s is now %s\n", color.GreenString("✓"), args[0], statusColor(args[1]))
			return nil
		},
	}

	cmd.AddCommand(list, show, setStatus)
	return cmd
}

// openDirectory builds a non-polling directory for one-shot commands. Fetched
// data is archived when the archive is enabled.
func (o *cliOptions) openDirectory(cmd *cobra.Command) (*directory.Directory, func(), error) {
	cfg, err := o.loadConfig(cmd, nil)
	if err != nil {
		return nil, nil, err
	}
	creds, err := o.credentials()
	if err != nil {
		return nil, nil, err
	}
	apiClient, err := api.NewClient(cfg.API.BaseURL, creds, cfg.API.Timeout)
	if err != nil {
		return nil, nil, err
	}

	dirOpts := directory.Options{API: apiClient}
	cleanup := func() {}
	if cfg.Archive.Enabled {
		var archive *database.Manager
		archive, err = app.OpenArchive(cfg)
		if err != nil {
			return nil, nil, err
		}
		dirOpts.Archiver = archive
		cleanup = func() { _ = archive.Close() }
	}

	dir, err := directory.New(dirOpts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return dir, cleanup, nil
}
