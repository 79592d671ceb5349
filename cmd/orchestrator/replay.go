package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Aimtara/teachmo-sub002/internal/replay"
)

var replayCmd = &cobra.Command{
	Use:   "replay FIXTURE",
	Short: "Replay a fixture through a fresh in-memory engine",
	Long: `replay runs every signal in the fixture through a new engine over an
empty memory store, with the clock pinned to each signal's timestamp. The
configured store is not touched. When the fixture lists expected results,
any mismatch makes the command fail.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var (
	exportFamily string
	exportLimit  int
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a family's stored signal history as a replay fixture",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFamily, "family", "", "Family ID (required)")
	exportCmd.Flags().IntVar(&exportLimit, "last", 0, "Most recent signals to export (default: all retained)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Fixture path (required)")
	_ = exportCmd.MarkFlagRequired("family")
	_ = exportCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(replayCmd, exportCmd)
}

// #region replay

type replayReport struct {
	Results    []replay.Result   `json:"results"`
	Summary    replay.Summary    `json:"summary"`
	Mismatches []replay.Mismatch `json:"mismatches,omitempty"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := replay.LoadFixture(args[0])
	if err != nil {
		return err
	}
	results, summary, err := replay.Run(cmd.Context(), f, cfg.EngineConfig())
	if err != nil {
		return err
	}
	report := replayReport{Results: results, Summary: summary, Mismatches: replay.Compare(f.Expected, results)}

	if jsonOutput() {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		printReplay(f, report)
	}
	if n := len(report.Mismatches); n > 0 {
		return fmt.Errorf("%d expectation(s) failed", n)
	}
	return nil
}

func printReplay(f *replay.Fixture, r replayReport) {
	if f.Description != "" {
		fmt.Println(f.Description)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tTIME\tSIGNAL\tTYPE\tZONE\tACTION\tUTILITY\tSUPPRESSED\tNOTE")
	for _, res := range r.Results {
		note := "-"
		switch {
		case res.Invalid != "":
			note = res.Invalid
		case res.Duplicate:
			note = "duplicate"
		case res.Mitigated:
			note = "mitigation applied"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%.3f\t%s\t%s\n",
			res.Index, fmtTime(res.At), dash(res.SignalID), dash(string(res.Type)), dash(string(res.Zone)),
			dash(string(res.Action)), res.Utility, dash(string(res.Suppressed)), note)
	}
	w.Flush()

	s := r.Summary
	fmt.Printf("\n%d signals, %d invalid, %d duplicate\n", s.Total, s.Invalid, s.Duplicates)
	fmt.Printf("zones visited: %v\n", s.ZonesVisited)
	fmt.Printf("actions: %s\n", counts(s.Actions))
	fmt.Printf("suppressions: %s\n", counts(s.Suppressions))
	for _, m := range r.Mismatches {
		fmt.Printf("MISMATCH %s\n", m)
	}
}

// counts renders a count map sorted by key.
func counts[K ~string](m map[K]int) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%d", k, m[K(k)])
	}
	return out
}

// #endregion replay

// #region export

func runExport(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := replay.ExportFixture(cmd.Context(), a.store, exportFamily, exportLimit)
	if err != nil {
		return err
	}
	if len(f.Signals) == 0 {
		return fmt.Errorf("no signals stored for %s", exportFamily)
	}
	if err := replay.WriteFixture(exportOut, f); err != nil {
		return err
	}
	fmt.Printf("wrote %d signals to %s\n", len(f.Signals), exportOut)
	return nil
}

// #endregion export
