package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aimtara/teachmo-sub002/internal/logging"
	"github.com/Aimtara/teachmo-sub002/internal/mitigation"
	"github.com/Aimtara/teachmo-sub002/internal/signal"
	"github.com/Aimtara/teachmo-sub002/internal/state"
	"github.com/Aimtara/teachmo-sub002/internal/store"
)

var (
	inspectFamily string
	inspectLimit  int
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show what the store holds for one family",
	Long: `inspect prints the family state, recent signals, decisions, queued
actions, digest, plans, briefs and the storm mitigation record.

Examples:
  orchestrator inspect --family fam-1
  orchestrator inspect --family fam-1 --limit 5 -o json`,
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectFamily, "family", "", "Family ID (required)")
	inspectCmd.Flags().IntVar(&inspectLimit, "limit", 10, "Rows per history section")
	_ = inspectCmd.MarkFlagRequired("family")
	rootCmd.AddCommand(inspectCmd)
}

// familyReport is the JSON form of inspect.
type familyReport struct {
	State      state.OrchestratorState `json:"state"`
	Signals    []signal.Signal         `json:"signals"`
	Decisions  []logging.DecisionEntry `json:"decisions"`
	Actions    []store.QueuedAction    `json:"actions"`
	Digest     []store.DigestItem      `json:"digest"`
	Plans      []store.DailyPlan       `json:"plans"`
	Briefs     []store.WeeklyBrief     `json:"briefs"`
	Mitigation *store.MitigationRecord `json:"mitigation,omitempty"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	st := a.store

	var r familyReport
	if r.State, err = st.GetState(ctx, inspectFamily); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("family %s not found", inspectFamily)
		}
		return err
	}
	// Sections are collected even if one fails so the rest still prints.
	var errs []error
	collect := func(err error) { errs = append(errs, err) }
	r.Signals, err = st.GetRecentSignals(ctx, inspectFamily, inspectLimit)
	collect(err)
	r.Decisions, err = st.ListDecisions(ctx, inspectFamily, inspectLimit)
	collect(err)
	r.Actions, err = st.ListActions(ctx, inspectFamily, "")
	collect(err)
	r.Digest, err = st.GetDigest(ctx, inspectFamily, "")
	collect(err)
	r.Plans, err = st.GetDailyPlans(ctx, inspectFamily, inspectLimit)
	collect(err)
	r.Briefs, err = st.GetWeeklyBriefs(ctx, inspectFamily, inspectLimit)
	collect(err)
	r.Mitigation, err = st.GetMitigation(ctx, inspectFamily, mitigation.TypeDuplicateStorm)
	collect(err)

	if jsonOutput() {
		if err := printJSON(r); err != nil {
			return err
		}
		return errors.Join(errs...)
	}
	printReport(r)
	return errors.Join(errs...)
}

// #region table-output

func printReport(r familyReport) {
	s := r.State
	fmt.Printf("Family %s  version %d  zone %s (since %s)\n", s.FamilyID, s.Version, s.Zone, fmtTime(s.ZoneSince))
	fmt.Printf("  tension %.3f  slack %.3f\n", s.Tension, s.Slack)
	fmt.Printf("  bandwidth %.3f  school %.3f  backlog %.3f  strain %.3f  childRisk %.3f  engagement %.3f  density %.3f\n",
		s.ParentBandwidth, s.SchoolPressure, s.BacklogLoad, s.RelationshipStrain, s.ChildRisk, s.EngagementSlack, s.ScheduleDensity)
	fmt.Printf("  budget %d min/day  max %d notify/h  cooldown %s\n",
		s.DailyAttentionBudgetMin, s.MaxNotificationsPerHour, fmtTimePtr(s.CooldownUntil))

	section("Recent signals")
	w := table("TIME", "ID", "SOURCE", "TYPE", "TITLE")
	for _, sig := range r.Signals {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", fmtTime(sig.Timestamp), sig.ID, sig.Source, sig.Type, dash(sig.Common().Title))
	}
	w.Flush()

	section("Decisions")
	w = table("TIME", "SIGNAL", "ZONE", "ACTION", "SUPPRESSED")
	for _, d := range r.Decisions {
		fmt.Fprintf(w, "%s\t%s\t%s->%s\t%s\t%s\n", fmtTime(d.CreatedAt), d.SignalID, d.ZoneBefore, d.ZoneAfter, dash(d.NextActionType), dash(d.SuppressedReason))
	}
	w.Flush()

	section("Actions")
	w = table("QUEUED", "ID", "TYPE", "STATUS", "TITLE")
	for _, q := range r.Actions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", fmtTime(q.QueuedAt), q.ID, q.Type, q.Status, q.Title)
	}
	w.Flush()

	section("Digest")
	w = table("CREATED", "ID", "SIGNAL TYPE", "STATUS", "TITLE")
	for _, d := range r.Digest {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", fmtTime(d.CreatedAt), d.ID, d.SignalType, d.Status, dash(d.Title))
	}
	w.Flush()

	section("Daily plans")
	w = table("CREATED", "ZONE", "BUDGET", "USED", "NOTIFY", "ACTIONS")
	for _, p := range r.Plans {
		types := make([]string, len(p.Actions))
		for i, sc := range p.Actions {
			types[i] = string(sc.Action.Type)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%v\t%s\n", fmtTime(p.CreatedAt), p.Zone, p.BudgetMin, p.UsedMin, p.NotifyNowAllowed, strings.Join(types, ","))
	}
	w.Flush()

	section("Weekly briefs")
	w = table("CREATED", "ZONE", "TUNING", "BUDGET", "MAX/H")
	for _, b := range r.Briefs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d->%d\t%d->%d\n", fmtTime(b.CreatedAt), b.Zone, b.Tuning.Mode,
			b.Tuning.Before.DailyAttentionBudgetMin, b.Tuning.After.DailyAttentionBudgetMin,
			b.Tuning.Before.MaxNotificationsPerHour, b.Tuning.After.MaxNotificationsPerHour)
	}
	w.Flush()

	section("Mitigation")
	if m := r.Mitigation; m == nil {
		fmt.Println("  none")
	} else {
		fmt.Printf("  %s active=%v count=%d activated %s expires %s\n",
			m.MitigationType, m.Active, m.Count, fmtTime(m.ActivatedAt), fmtTime(m.ExpiresAt))
		fmt.Printf("  previous: max %d/h cooldown %s\n", m.PreviousState.MaxNotificationsPerHour, fmtTimePtr(m.PreviousState.CooldownUntil))
	}
}

func section(title string) {
	fmt.Printf("\n%s\n", title)
}

func table(headers ...string) *tabwriter.Writer {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  "+strings.Join(headers, "\t"))
	return w
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func fmtTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return fmtTime(*t)
}

// #endregion table-output
