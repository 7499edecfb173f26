package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newRootCommand builds the btbridge command tree.
func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "btbridge",
		Short: "Bluetooth RFCOMM to MQTT bridge",
		Long: "btbridge keeps a Bluetooth RFCOMM link to an embedded device alive and relays\n" +
			"its JSON lines to an MQTT data topic, and command topic payloads back to it.",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, resolveConfigPath(configPath))
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "",
		"config file (default $"+configEnvVar+" or "+defaultConfigPath+")")

	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "btbridge %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
