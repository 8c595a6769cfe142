package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the message table and index if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			b, err := openSQLite(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer b.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready: table %s in %s\n", b.Table(), cfg.Storage.Path)
			return nil
		},
	}
}
