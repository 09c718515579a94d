package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	recommendFile     string
	recommendCriteria string
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Rank call results and recommend up to three providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var results []model.CallResult
		if err := loadFile(recommendFile, &results); err != nil {
			return err
		}

		env, err := initEnv(ctx, "recommend")
		if err != nil {
			return err
		}
		defer env.Close()

		set := env.Recommender.Recommend(ctx, results, recommendCriteria, cfg.Scoring.Weights)
		return printJSON(cmd.OutOrStdout(), set)
	},
}

func init() {
	recommendCmd.Flags().StringVar(&recommendFile, "file", "", "call results file (.json or .yaml)")
	recommendCmd.Flags().StringVar(&recommendCriteria, "criteria", "", "the requester's criteria")
	_ = recommendCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(recommendCmd)
}
