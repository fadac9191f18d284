package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"chatimport/internal/archive"

	"github.com/spf13/cobra"
)

var historyLimit int

// historyCmd lists archived imports
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List archived imports, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Archive.Enabled {
			return fmt.Errorf("archive is disabled")
		}
		arch, err := archive.Open(cfg.Archive.DatabasePath)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer arch.Close()

		list, err := arch.List(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tPLATFORM\tMESSAGES\tIMPORTED\tTITLE")
		for _, s := range list {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", s.ID, s.Platform, s.MessageCount, s.ImportedAt.Local().Format(time.DateTime), s.Title)
		}
		return tw.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum rows (0 for all)")
}
