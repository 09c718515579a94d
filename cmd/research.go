package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/research"
)

var (
	researchService  string
	researchLocation string
	researchMax      int
	researchRadius   float64
)

var researchCmd = &cobra.Command{
	Use:   "research",
	Short: "Search for providers of a service near a location",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "research")
		if err != nil {
			return err
		}
		defer env.Close()

		q := research.Query{
			Service:     researchService,
			Location:    researchLocation,
			MaxResults:  researchMax,
			MinResults:  cfg.Research.MinResults,
			RadiusMiles: researchRadius,
		}
		if q.MaxResults == 0 {
			q.MaxResults = cfg.Research.MaxResults
		}
		if q.RadiusMiles == 0 {
			q.RadiusMiles = cfg.Research.RadiusMiles
		}

		res, err := env.Research.Search(ctx, q)
		if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
			return perr
		}
		return err
	},
}

func init() {
	researchCmd.Flags().StringVar(&researchService, "service", "", "service needed, e.g. \"water heater repair\"")
	researchCmd.Flags().StringVar(&researchLocation, "location", "", "city, address or zip")
	researchCmd.Flags().IntVar(&researchMax, "max", 0, "maximum providers (default from config)")
	researchCmd.Flags().Float64Var(&researchRadius, "radius", 0, "search radius in miles (default from config)")
	_ = researchCmd.MarkFlagRequired("service")
	_ = researchCmd.MarkFlagRequired("location")
	rootCmd.AddCommand(researchCmd)
}
