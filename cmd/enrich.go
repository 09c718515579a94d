package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	enrichFile         string
	enrichRequirePhone bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Fill in provider contact details from place lookups",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var providers []model.Provider
		if err := loadFile(enrichFile, &providers); err != nil {
			return err
		}

		env, err := initEnv(ctx, "enrich")
		if err != nil {
			return err
		}
		defer env.Close()
		if env.Enricher == nil {
			return eris.New("enrich: places lookup not configured")
		}

		opts := enrichOptions()
		if enrichRequirePhone {
			opts.RequirePhone = true
		}
		return printJSON(cmd.OutOrStdout(), env.Enricher.Enrich(ctx, providers, opts))
	},
}

func init() {
	enrichCmd.Flags().StringVar(&enrichFile, "file", "", "providers file (.json or .yaml)")
	enrichCmd.Flags().BoolVar(&enrichRequirePhone, "require-phone", false, "drop providers without a phone when enough have one")
	_ = enrichCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(enrichCmd)
}
