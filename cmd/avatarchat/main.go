// Package main provides the CLI entry point for avatarchat.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time)
	version = "dev"

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#0d7377"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
)

func main() {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:   "avatarchat",
		Short: "avatarchat - talk to an animated avatar",
		Long: titleStyle.Render("avatarchat") + `

Chat with a conversational backend through an animated avatar:
• serve the web front-end over HTTP and websockets
• chat in the terminal
• browse archived conversations

` + dimStyle.Render("Use 'avatarchat [command] --help' for more information."),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ~/.avatarchat/config.yaml)")

	rootCmd.AddCommand(
		newServeCmd(&cfgPath),
		newChatCmd(&cfgPath),
		newHistoryCmd(&cfgPath),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
