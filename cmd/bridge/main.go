package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "bridge",
		Short: "devbridge - local development harness for serverless browser-automation functions",
		Long:  "Runs the invocation bridge and runtime protocol server. The serve command always serves the bridge; it does not read the process phase and does not run the introspect manifest emitter.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to devbridge config file (JSON, optional)")

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
