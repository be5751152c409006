package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newDefinitionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "definitions",
		Short: "Manage report definitions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List report definitions",
		Run: func(cmd *cobra.Command, args []string) {
			server, _ := cmd.Flags().GetString("server")
			tenant, _ := cmd.Flags().GetString("tenant")

			defs, err := newClient(server).ListDefinitions(tenant)
			if err != nil {
				fmt.Printf("Error listing definitions: %v\n", err)
				return
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
			fmt.Fprintln(w, "ID\tTENANT\tCODE\tKIND\tACTIVE\tNEXT RUN\t")
			for _, d := range defs {
				next := "-"
				if d.Schedule != nil && d.Schedule.NextRunAt != nil {
					next = d.Schedule.NextRunAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%s\t\n",
					d.ID, d.Tenant, d.Code, d.Kind, d.IsActive, next)
			}
			w.Flush()
		},
	}
	list.Flags().String("tenant", "", "filter by tenant")
	cmd.AddCommand(list)

	return cmd
}

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and control report runs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List report runs",
		Run: func(cmd *cobra.Command, args []string) {
			server, _ := cmd.Flags().GetString("server")
			status, _ := cmd.Flags().GetString("status")

			runs, err := newClient(server).ListRuns(status)
			if err != nil {
				fmt.Printf("Error listing runs: %v\n", err)
				return
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
			fmt.Fprintln(w, "ID\tCODE\tKIND\tSTATUS\tTRIGGER\tROWS\tDURATION\t")
			for _, r := range runs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%dms\t\n",
					r.ID, r.Code, r.Kind, r.Status, r.TriggeredBy, r.RowCount, r.DurationMs)
			}
			w.Flush()
		},
	}
	list.Flags().String("status", "", "filter by status")
	cmd.AddCommand(list)

	trigger := &cobra.Command{
		Use:   "trigger",
		Short: "Trigger a run for a definition",
		Run: func(cmd *cobra.Command, args []string) {
			server, _ := cmd.Flags().GetString("server")
			defID, _ := cmd.Flags().GetUint("definition")

			run, err := newClient(server).TriggerRun(defID)
			if err != nil {
				fmt.Printf("Error triggering run: %v\n", err)
				return
			}
			fmt.Printf("Run %s queued (id %d)\n", run.Code, run.ID)
		},
	}
	trigger.Flags().Uint("definition", 0, "definition id")
	trigger.MarkFlagRequired("definition")
	cmd.AddCommand(trigger)

	cancel := &cobra.Command{
		Use:   "cancel [run-id]",
		Short: "Cancel a queued or running run",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			server, _ := cmd.Flags().GetString("server")

			run, err := newClient(server).CancelRun(args[0])
			if err != nil {
				fmt.Printf("Error cancelling run: %v\n", err)
				return
			}
			fmt.Printf("Run %s is now %s\n", run.Code, run.Status)
		},
	}
	cmd.AddCommand(cancel)

	return cmd
}
