/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "simplexbridge",
	Short: "Bridge a chat bot's events to HTTP and a websocket stream",
	Long: `simplexbridge runs a chat bot engine (SimpleX or Telegram) and exposes its
traffic to a separate control process: inbound messages, commands and new
contacts are broadcast over a websocket stream, and replies are sent through
a small HTTP API.

The client subcommands talk to a running bridge at BRIDGE_URL.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&bridgeURL, "url", "", "bridge base URL (defaults to BRIDGE_URL)")
}
