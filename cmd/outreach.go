package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/model"
)

var outreachReq model.OutreachRequest

var outreachCmd = &cobra.Command{
	Use:   "outreach",
	Short: "Run one outreach request end to end",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "outreach")
		if err != nil {
			return err
		}
		defer env.Close()

		out, runErr := env.Coordinator.Run(ctx, outreachReq)
		if out == nil {
			return runErr
		}
		if err := printJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
		if runErr != nil {
			return eris.Wrapf(runErr, "outreach request %s", out.Request.ID)
		}
		return nil
	},
}

func init() {
	f := outreachCmd.Flags()
	f.StringVar(&outreachReq.Service, "service", "", "service needed")
	f.StringVar(&outreachReq.Location, "location", "", "city, address or zip")
	f.StringVar(&outreachReq.Criteria, "criteria", "", "requirements providers must meet")
	f.StringVar((*string)(&outreachReq.Urgency), "urgency", string(model.UrgencyFlexible), "immediate, within_24_hours, within_2_days or flexible")
	f.StringVar(&outreachReq.ClientName, "client-name", "", "requester name")
	f.StringVar(&outreachReq.ClientPhone, "client-phone", "", "requester phone")
	f.IntVar(&outreachReq.MaxProviders, "max-providers", 0, "providers to research (default from config)")
	_ = outreachCmd.MarkFlagRequired("service")
	_ = outreachCmd.MarkFlagRequired("location")
	rootCmd.AddCommand(outreachCmd)
}
