package main

import (
	"github.com/spf13/cobra"
)

var retryLimit int

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-run failed outreach requests that are due for retry",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "outreach")
		if err != nil {
			return err
		}
		defer env.Close()

		limit := retryLimit
		if limit <= 0 {
			limit = cfg.Retry.BatchSize
		}
		sum, err := env.Coordinator.RetryFailed(ctx, limit)
		if sum != nil {
			if perr := printJSON(cmd.OutOrStdout(), sum); perr != nil {
				return perr
			}
		}
		return err
	},
}

func init() {
	retryCmd.Flags().IntVar(&retryLimit, "limit", 0, "max failed requests to retry (default from config)")
	rootCmd.AddCommand(retryCmd)
}
