package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"taskd/internal/app"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		cfgPath string
		prompt  string
		noInput bool
	)
	cmd := &cobra.Command{
		Use:           "taskd",
		Short:         "Schedule one-shot tasks and announce them when they are due",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var in io.Reader = cmd.InOrStdin()
			if noInput {
				in = nil
			}
			a, err := app.New(app.Options{
				ConfigPath: cfgPath,
				In:         in,
				Out:        cmd.OutOrStdout(),
				Prompt:     prompt,
			})
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./taskd.yaml", "path to config (json or yaml)")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt printed before each command")
	cmd.Flags().BoolVar(&noInput, "no-input", false, "do not read commands from stdin (service mode)")

	cmd.AddCommand(&cobra.Command{
		Use:   "tasks",
		Short: "Print the stored tasks without starting timers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.PrintStored(context.Background(), cfgPath, cmd.OutOrStdout())
		},
	})
	return cmd
}
