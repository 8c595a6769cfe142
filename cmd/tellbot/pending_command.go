package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"tellbot/internal/storage"
)

func newPendingCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List recipients with undelivered messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			b, err := openSQLite(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer b.Close()

			ok, err := b.HasSchema(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "No pending messages: table %s does not exist yet (run `tellbot migrate`)\n", b.Table())
				return nil
			}

			stats, err := b.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if len(stats) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending messages")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderPending(stats, time.Now()))
			return nil
		},
	}
}

func renderPending(stats []storage.QueueStat, now time.Time) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Header = text.FormatDefault
	tw.Style().Format.Footer = text.FormatDefault
	tw.AppendHeader(table.Row{"Recipient", "Pending", "Oldest"})
	total := 0
	for _, st := range stats {
		total += st.Count
		tw.AppendRow(table.Row{st.Recipient, strconv.Itoa(st.Count), humanize.RelTime(st.Oldest, now, "ago", "from now")})
	}
	tw.AppendFooter(table.Row{"Total", strconv.Itoa(total), ""})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	return tw.Render()
}
