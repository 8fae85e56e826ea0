package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"simplexbridge/pkg/config"
	"simplexbridge/pkg/event"
	"simplexbridge/pkg/logger"
	"simplexbridge/pkg/ui/tail"

	"github.com/spf13/cobra"
)

var tailWait bool

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print the bridge event stream",
	Long:  "Connects to a running bridge and prints every broadcast event until interrupted. Reconnects with backoff when the stream drops.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Stream drops are rendered inline; only hard failures are logged.
		log, err := logger.New(config.LoggingConfig{Format: logger.FormatText, Level: "error"})
		if err != nil {
			return err
		}
		c, err := newClient(log)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		renderer := tail.NewRenderer()
		c.OnStreamDrop(func(err error, wait time.Duration) {
			fmt.Fprintln(out, renderer.Reconnecting(err, wait))
		})

		if tailWait {
			fmt.Fprintln(out, renderer.Status("waiting for bridge to connect...", false))
			if err := c.WaitReady(ctx); err != nil {
				return err
			}
		}

		fmt.Fprintln(out, renderer.Status("streaming events, ctrl+c to stop", false))
		return c.Subscribe(ctx, func(e event.Event) {
			fmt.Fprintln(out, renderer.Event(e, time.Now()))
		})
	},
}

func init() {
	tailCmd.Flags().BoolVarP(&tailWait, "wait", "w", false, "wait until the bridge engine is connected")
	rootCmd.AddCommand(tailCmd)
}
