package cmd

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newSchemasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schemas",
		Short: "List registered entity schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			schemas, err := app.service.ListSchemas(cmd.Context())
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Name", "Fields", "Unique", "Exclude on fetch", "Created"})
			for _, s := range schemas {
				t.AppendRow(table.Row{
					s.Name,
					len(s.Fields),
					len(s.Unique),
					s.ExcludeOnFetch,
					s.CreatedAt.Format(time.RFC3339),
				})
			}
			t.Render()
			return nil
		},
	}
}
