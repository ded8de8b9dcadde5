// Package cli implements the FocusQuest command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "focusquest",
	Short: "FocusQuest: turn focused work into XP",
	Long: `FocusQuest is a local reward engine for productive time.
Activity ticks earn XP and coins, complete missions, unlock achievements,
and spawn short contextual challenges.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $FOCUSQUEST_HOME/config.toml)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
