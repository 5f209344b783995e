package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anvilcode/anvil/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the anvil version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("anvil " + version.Get())
	},
}
