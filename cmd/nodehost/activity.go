package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ehrlich-b/nodehost/internal/activity"
	"github.com/ehrlich-b/nodehost/internal/config"
	"github.com/spf13/cobra"
)

func activityCmd() *cobra.Command {
	var limit int
	var verbose bool

	cmd := &cobra.Command{
		Use:   "activity",
		Short: "List recently executed commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := homeDir()
			if err != nil {
				return err
			}
			cfg, err := config.Load(config.Path(dir))
			if err != nil {
				return err
			}
			store, err := activity.Open(cfg.ActivityDB(dir))
			if err != nil {
				return fmt.Errorf("open activity db: %w", err)
			}
			defer store.Close()

			records, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no activity recorded")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tCOMMAND\tSTATUS\tDURATION\tDETAIL")
			for _, r := range records {
				detail := r.Error
				if r.ErrorCode != "" {
					detail = r.ErrorCode + ": " + r.Error
				}
				if verbose && detail == "" {
					detail = r.Params
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.StartedAt.Local().Format("Jan 02 15:04:05"),
					r.Command,
					r.Status,
					formatDuration(r),
					oneLine(detail),
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show params for successful commands")
	return cmd
}

func formatDuration(r *activity.Record) string {
	if r.Status == activity.StatusRunning {
		return "-"
	}
	return r.Duration.Round(time.Millisecond).String()
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return activity.Truncate(s, 80)
}
