// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/d-gangz/glowing-braintrust/internal/persistence/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	var statusOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the experiment store migrations",
		Long: `migrate applies the embedded SQL migrations to DATABASE_URL under an
advisory lock and prints which migrations are applied. --status only prints.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			pool, err := postgres.NewPool(ctx, a.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			if !statusOnly {
				if err := postgres.EnsureSchema(ctx, pool, a.logger); err != nil {
					return err
				}
			}

			statuses, err := postgres.Migrations(ctx, pool)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MIGRATION\tAPPLIED")
			for _, st := range statuses {
				fmt.Fprintf(tw, "%s\t%t\n", st.Name, st.Applied)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&statusOnly, "status", false, "only list migration status")
	return cmd
}
