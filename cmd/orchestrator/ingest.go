package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Aimtara/teachmo-sub002/internal/orchestrator"
	"github.com/Aimtara/teachmo-sub002/internal/signal"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest signals from a file or stdin",
	Long: `ingest reads a stream of JSON signal objects (one document or many,
whitespace separated) and runs each through the engine. Invalid signals are
reported and skipped; a store failure stops the run.

Examples:
  orchestrator ingest signals.json
  cat signals.ndjson | orchestrator ingest -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	var in io.Reader = os.Stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	var decisions []orchestrator.Decision
	invalid := 0
	dec := json.NewDecoder(in)
	for i := 0; ; i++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("read signal %d: %w", i, err)
		}
		sig, err := signal.Decode(raw)
		if err == nil {
			var d orchestrator.Decision
			d, err = a.engine.Ingest(cmd.Context(), sig)
			if err == nil {
				decisions = append(decisions, d)
				continue
			}
		}
		if !errors.Is(err, signal.ErrInvalid) {
			return fmt.Errorf("ingest signal %d: %w", i, err)
		}
		invalid++
		logger.WithError(err).WithField("index", i).Warn("skipping invalid signal")
	}

	if jsonOutput() {
		return printJSON(decisions)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIGNAL\tFAMILY\tTYPE\tZONE\tACTION\tSUPPRESSED\tDUPLICATE")
	for _, d := range decisions {
		next := "-"
		if d.NextAction != nil {
			next = string(d.NextAction.Action.Type)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%v\n",
			d.Signal.ID, d.Signal.FamilyID, d.Signal.Type, d.State.Zone, next, dash(string(d.SuppressedReason)), d.Duplicate)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d ingested, %d invalid\n", len(decisions), invalid)
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
