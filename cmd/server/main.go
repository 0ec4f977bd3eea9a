package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use: "mdoc-age-verifier",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	rootCmd.AddCommand(getStartCmd(&httpServer{}))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
