// Package cli wires the queue packages into the signq command line.
package cli

import (
	"github.com/spf13/cobra"
)

func RootCmd(version string) *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "signq",
		Short:         "Signature task queue for courier and point handovers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.init()
		},
	}

	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "Path to the config file (default ~/.config/signq/config.yaml)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Environment file loaded before the config")
	root.PersistentFlags().StringVar(&a.level, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&a.json, "log-json", false, "Log as JSON")

	root.AddCommand(
		listCmd(a),
		daysCmd(a),
		signCmd(a),
		unsignCmd(a),
		moveCmd(a),
		dequeueCmd(a),
		enqueueCmd(a),
		storeCmd(a),
		legacyCmd(a),
		serveCmd(a),
		calendarCmd(a),
		authCmd(a),
		configCmd(a),
	)
	return root
}
