// ABOUTME: Root cobra command and the persistent flags shared by subcommands.
// ABOUTME: Resolves and loads the config for every subcommand

package main

import (
	"github.com/spf13/cobra"

	"github.com/micktaiwan/eko/internal/config"
)

// rootFlags are bound to persistent flags of the root command.
type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "eko",
		Short:         "eko: a conversational agent with long-term memory",
		Long:          "eko answers questions through a supervised worker process, remembers facts in a vector store and occasionally speaks up in the lobby on its own.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "",
		"config file (default $"+config.EnvConfigPath+" or ~/.config/eko/eko.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(flags),
		newWorkerCmd(flags),
		newAskCmd(flags),
		newReflectCmd(flags),
		newHealthCmd(flags),
	)

	return rootCmd
}

// load resolves and loads the configuration selected by flags.
func (f *rootFlags) load() (*config.Config, string, error) {
	path := config.ResolvePath(f.configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}
