package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Aimtara/teachmo-sub002/internal/jobs"
)

var batchFamilies []string

var dailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Build daily plans for every family, or those given with --family",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		results, err := a.runner.RunDaily(cmd.Context(), batchFamilies)
		if err != nil {
			return err
		}
		return printJobResults(results)
	},
}

var weeklyCmd = &cobra.Command{
	Use:   "weekly",
	Short: "Build weekly briefs and tune setpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		results, err := a.runner.RunWeekly(cmd.Context(), batchFamilies)
		if err != nil {
			return err
		}
		return printJobResults(results)
	},
}

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Restore state for expired mitigations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		res, err := a.runner.Reap(cmd.Context())
		if jsonOutput() {
			if perr := printJSON(res); perr != nil {
				return perr
			}
		} else {
			fmt.Printf("%d mitigation(s) cleared\n", res.Cleared)
		}
		return err
	},
}

var deliverCmd = &cobra.Command{
	Use:   "deliver",
	Short: "Hand queued digest items to the relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Relay.Addr == "" {
			return fmt.Errorf("relay.addr is not configured")
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		res, err := a.runner.DeliverDigests(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(res)
		}
		fmt.Printf("%d item(s) delivered for %d family(ies)\n", res.Delivered, res.Families)
		for _, id := range res.Failed {
			fmt.Printf("  failed: %s\n", id)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{dailyCmd, weeklyCmd} {
		c.Flags().StringSliceVar(&batchFamilies, "family", nil, "Family IDs to run (default: all)")
	}
	rootCmd.AddCommand(dailyCmd, weeklyCmd, reapCmd, deliverCmd)
}

func printJobResults(results []jobs.JobResult) error {
	if jsonOutput() {
		return printJSON(results)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FAMILY\tOK\tID\tERROR")
	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
		fmt.Fprintf(w, "%s\t%v\t%s\t%s\n", r.FamilyID, r.OK, dash(r.Ref()), dash(r.Error))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d families failed", failed, len(results))
	}
	return nil
}
