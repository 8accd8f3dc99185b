// Package main provides the supportchat CLI entrypoint.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"supportchat/internal/config"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

// cliOptions holds the persistent flags shared by every command.
type cliOptions struct {
	configPath string
	token      string
	tokenFile  string
	url        string
	apiURL     string
	noColor    bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "supportchat",
		Short: "Real-time customer support chat client",
		Long: `supportchat connects customers and support agents over a persistent
real-time channel.

  supportchat chat                    Chat as a customer
  supportchat chat --role admin       Work the agent queue
  supportchat sessions list           Agent view of every session
  supportchat archive list            Browse the local transcript archive`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
			// Component logs would interleave with the chat transcript
			if !opts.verbose {
				log.SetOutput(io.Discard)
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (YAML or JSON); also SUPPORTCHAT_CONFIG")
	flags.StringVar(&opts.token, "token", "", "bearer token; also "+tokenEnv)
	flags.StringVar(&opts.tokenFile, "token-file", "", "file holding the bearer token, re-read on every request")
	flags.StringVar(&opts.url, "url", "", "real-time hub URL (ws:// or wss://)")
	flags.StringVar(&opts.apiURL, "api-url", "", "REST backend base URL")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log component activity to stderr")

	root.AddCommand(
		newChatCmd(opts),
		newSessionsCmd(opts),
		newArchiveCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// loadConfig resolves flags > environment > file > defaults. bindings maps
// extra config keys to command flag names.
func (o *cliOptions) loadConfig(cmd *cobra.Command, bindings map[string]string) (*config.Config, error) {
	binds := map[string]string{
		"channel.url":  "url",
		"api.base_url": "api-url",
	}
	for key, name := range bindings {
		binds[key] = name
	}

	return config.LoadConfigWithPrecedence(o.resolvedConfigPath(), func(v *viper.Viper) error {
		for key, name := range binds {
			flag := cmd.Flags().Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return fmt.Errorf("bind --%s: %w", name, err)
			}
		}
		return nil
	})
}

func (o *cliOptions) resolvedConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	return os.Getenv("SUPPORTCHAT_CONFIG")
}
