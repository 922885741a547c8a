package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwbudde/cmaretry/internal/objective"
)

var functionsCmd = &cobra.Command{
	Use:   "functions",
	Short: "List the built-in objective functions",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range objective.Names() {
			fmt.Println(name)
		}
	},
}

func init() {
	rootCmd.AddCommand(functionsCmd)
}
