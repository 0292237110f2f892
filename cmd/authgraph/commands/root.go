// Package commands implements the authgraph CLI.
package commands

import (
	"github.com/pion/logging"
	"github.com/spf13/cobra"
)

var verbose bool

// loggerFactory returns the factory the subcommands hand to the engine.
// Logging stays disabled unless --verbose is set.
func loggerFactory() logging.LoggerFactory {
	if !verbose {
		return nil
	}
	factory := logging.NewDefaultLoggerFactory()
	factory.DefaultLogLevel = logging.LogLevelDebug
	return factory
}

func Execute() error {
	root := &cobra.Command{
		Use:   "authgraph",
		Short: "Mutual-authentication key exchange tooling",
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(demoCmd(), keygenCmd())
	return root.Execute()
}
