package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor  bool
	userFlag string
)

var rootCmd = &cobra.Command{
	Use:           "docquer",
	Short:         "Chat with your documents, web pages and videos",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "username (defaults to $USER)")

	rootCmd.AddCommand(serveCmd, mcpCmd, statusCmd, configCmd)
	rootCmd.AddCommand(newCmd, conversationsCmd, askCmd, uploadCmd, linkCmd, videoCmd, messagesCmd, deleteCmd, statsCmd, apiKeyCmd)
}

func main() {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		noColor = true
	}
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
