package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set via -ldflags "-X main.version=..." in release builds; it
// stays "dev" for local `go run`/`go build` invocations.
var version = "dev"

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the devbridge version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("devbridge " + version)
			return nil
		},
	}
}
