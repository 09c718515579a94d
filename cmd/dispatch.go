package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	dispatchFile          string
	dispatchMaxConcurrent int
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Place a batch of calls from a YAML or JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		reqs, fileMax, err := loadCallRequests(dispatchFile)
		if err != nil {
			return err
		}
		maxConcurrent := dispatchMaxConcurrent
		if maxConcurrent == 0 {
			maxConcurrent = fileMax
		}

		env, err := initEnv(ctx, "dispatch")
		if err != nil {
			return err
		}
		defer env.Close()

		br, err := env.DispatchRequests(ctx, reqs, maxConcurrent)
		if err != nil {
			return eris.Wrap(err, "dispatch batch")
		}
		zap.L().Info("dispatch complete",
			zap.String("backend", string(br.Backend)),
			zap.Int("total", br.Stats.Total),
			zap.Int("placed", br.Stats.Placed),
			zap.Int("failed", br.Stats.Failed),
		)
		return printJSON(cmd.OutOrStdout(), br)
	},
}

func init() {
	dispatchCmd.Flags().StringVar(&dispatchFile, "file", "", "call requests file (.yaml, .yml or .json)")
	dispatchCmd.Flags().IntVar(&dispatchMaxConcurrent, "max-concurrent", 0, "calls per window (default from file or config)")
	_ = dispatchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(dispatchCmd)
}
