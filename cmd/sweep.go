package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention sweep and print the report",
		Long: `Runs a single retention cycle with the saved settings, ignoring the
configured schedule, and prints the report as JSON. Exits non-zero when any
part of the sweep failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			report := app.sweeper.RunOnce(cmd.Context())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
			if report.Failed() {
				errOut := cmd.ErrOrStderr()
				if report.SettingsError != nil {
					fmt.Fprintf(errOut, "settings: %v\n", report.SettingsError)
				}
				if report.Schemas != nil && report.Schemas.Err != nil {
					fmt.Fprintf(errOut, "schemas: %v\n", report.Schemas.Err)
				}
				if report.Entities != nil {
					if report.Entities.Err != nil {
						fmt.Fprintf(errOut, "entities: %v\n", report.Entities.Err)
					}
					for _, f := range report.Entities.Failures {
						fmt.Fprintf(errOut, "entities %s: %v\n", f.Collection, f.Err)
					}
				}
				return fmt.Errorf("sweep finished with failures")
			}
			return nil
		},
	}
}
