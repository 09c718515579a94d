package main

import (
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the orchestrator and print the backend decision",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "health")
		if err != nil {
			return err
		}
		defer env.Close()

		d, err := env.Router.Decide(ctx)
		if perr := printJSON(cmd.OutOrStdout(), d); perr != nil {
			return perr
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
