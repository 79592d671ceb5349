package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Aimtara/teachmo-sub002/internal/logging"
	"github.com/Aimtara/teachmo-sub002/internal/metrics"
	"github.com/Aimtara/teachmo-sub002/internal/mitigation"
	"github.com/Aimtara/teachmo-sub002/internal/state"
	"github.com/Aimtara/teachmo-sub002/internal/store"
)

var t0 = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

// #region fakes
type fakeEngine struct {
	families []string
	failOn   map[string]bool
	cleared  int
}

func (f *fakeEngine) RunDaily(_ context.Context, id string) (store.DailyPlan, error) {
	if f.failOn[id] {
		return store.DailyPlan{}, errors.New("store unavailable")
	}
	return store.DailyPlan{ID: "plan-" + id}, nil
}

func (f *fakeEngine) RunWeekly(_ context.Context, id string) (store.WeeklyBrief, error) {
	if f.failOn[id] {
		return store.WeeklyBrief{}, errors.New("store unavailable")
	}
	return store.WeeklyBrief{ID: "brief-" + id}, nil
}

func (f *fakeEngine) ReapMitigations(context.Context) (mitigation.ReapResult, error) {
	return mitigation.ReapResult{Cleared: f.cleared}, nil
}

func (f *fakeEngine) Families(context.Context) ([]string, error) { return f.families, nil }

type fakeRelay struct {
	failOn map[string]bool
	got    map[string]int
}

func (r *fakeRelay) Deliver(_ context.Context, familyID string, items []store.DigestItem) error {
	if r.failOn[familyID] {
		return errors.New("relay down")
	}
	if r.got == nil {
		r.got = map[string]int{}
	}
	r.got[familyID] += len(items)
	return nil
}

// #endregion fakes

func TestRunDaily_IsolatesFailures(t *testing.T) {
	eng := &fakeEngine{families: []string{"a", "b", "c"}, failOn: map[string]bool{"b": true}}
	m := metrics.New(prometheus.NewRegistry())
	r := NewRunner(eng, store.NewMemoryStore(state.DefaultDefaults()), nil, 0, m, logging.Discard())

	results, err := r.RunDaily(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunDaily: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].OK || results[0].PlanID != "plan-a" {
		t.Errorf("unexpected a result %+v", results[0])
	}
	if results[1].OK || !strings.Contains(results[1].Error, "store unavailable") {
		t.Errorf("expected b to fail, got %+v", results[1])
	}
	if !results[2].OK {
		t.Errorf("c must run after b failed, got %+v", results[2])
	}
	if got := testutil.ToFloat64(m.JobRuns.WithLabelValues("daily", "error")); got != 1 {
		t.Errorf("expected one failed run counted, got %v", got)
	}
}

func TestRunWeekly_ExplicitIDs(t *testing.T) {
	eng := &fakeEngine{families: []string{"a", "b"}}
	r := NewRunner(eng, store.NewMemoryStore(state.DefaultDefaults()), nil, 0, nil, logging.Discard())

	results, err := r.RunWeekly(context.Background(), []string{"b"})
	if err != nil {
		t.Fatalf("RunWeekly: %v", err)
	}
	if len(results) != 1 || results[0].BriefID != "brief-b" {
		t.Fatalf("expected only b, got %+v", results)
	}
}

func TestJobResult_WireNames(t *testing.T) {
	eng := &fakeEngine{families: []string{"a"}}
	r := NewRunner(eng, store.NewMemoryStore(state.DefaultDefaults()), nil, 0, nil, logging.Discard())

	daily, _ := r.RunDaily(context.Background(), nil)
	weekly, _ := r.RunWeekly(context.Background(), nil)
	dj, _ := json.Marshal(daily[0])
	wj, _ := json.Marshal(weekly[0])

	if got := string(dj); got != `{"familyId":"a","ok":true,"planId":"plan-a"}` {
		t.Errorf("daily result json = %s", got)
	}
	if got := string(wj); got != `{"familyId":"a","ok":true,"briefId":"brief-a"}` {
		t.Errorf("weekly result json = %s", got)
	}
	if daily[0].Ref() != "plan-a" || weekly[0].Ref() != "brief-a" {
		t.Errorf("Ref = %q / %q", daily[0].Ref(), weekly[0].Ref())
	}
}

func TestRunDaily_CancelledContext(t *testing.T) {
	eng := &fakeEngine{families: []string{"a", "b"}}
	r := NewRunner(eng, store.NewMemoryStore(state.DefaultDefaults()), nil, 0, nil, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := r.RunDaily(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %+v", results)
	}
}

func TestReap(t *testing.T) {
	r := NewRunner(&fakeEngine{cleared: 2}, nil, nil, 0, nil, logging.Discard())
	res, err := r.Reap(context.Background())
	if err != nil || res.Cleared != 2 {
		t.Fatalf("expected 2 cleared, got %+v err=%v", res, err)
	}
}

func TestDeliverDigests_MarksOnlyOnSuccess(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(state.DefaultDefaults())
	for _, fam := range []string{"a", "b", "c"} {
		if _, err := st.GetOrCreateState(ctx, fam, t0); err != nil {
			t.Fatalf("GetOrCreateState: %v", err)
		}
	}
	for i, fam := range []string{"a", "a", "b"} {
		_, err := st.AppendDigestItem(ctx, store.DigestItem{
			ID:        fam + string(rune('0'+i)),
			FamilyID:  fam,
			CreatedAt: t0,
			Title:     "item",
			Status:    store.DigestQueued,
		})
		if err != nil {
			t.Fatalf("AppendDigestItem: %v", err)
		}
	}

	relay := &fakeRelay{failOn: map[string]bool{"b": true}}
	eng := &fakeEngine{families: []string{"a", "b", "c"}}
	r := NewRunner(eng, st, relay, 100, nil, logging.Discard())

	res, err := r.DeliverDigests(ctx)
	if err != nil {
		t.Fatalf("DeliverDigests: %v", err)
	}
	if res.Delivered != 2 || res.Families != 2 {
		t.Errorf("expected 2 items over 2 attempted families, got %+v", res)
	}
	if len(res.Failed) != 1 || res.Failed[0] != "b" {
		t.Errorf("expected b failed, got %v", res.Failed)
	}

	left, _ := st.GetDigest(ctx, "a", store.DigestQueued)
	if len(left) != 0 {
		t.Errorf("a items should be delivered, %d still queued", len(left))
	}
	left, _ = st.GetDigest(ctx, "b", store.DigestQueued)
	if len(left) != 1 {
		t.Errorf("b item must stay queued after relay failure, got %d", len(left))
	}
}

func TestDeliverDigests_NoRelay(t *testing.T) {
	r := NewRunner(&fakeEngine{families: []string{"a"}}, nil, nil, 0, nil, logging.Discard())
	res, err := r.DeliverDigests(context.Background())
	if err != nil || res.Delivered != 0 {
		t.Fatalf("expected no-op, got %+v err=%v", res, err)
	}
}

func TestScheduler_RegistersConfiguredJobs(t *testing.T) {
	r := NewRunner(&fakeEngine{}, nil, nil, 0, nil, logging.Discard())
	s, err := NewScheduler(r, Schedule{
		DailyCron:    "0 6 * * *",
		WeeklyCron:   "0 7 * * 1",
		ReapInterval: 5 * time.Minute,
	}, logging.Discard())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()
	defer s.Shutdown()

	names := s.Jobs()
	sort.Strings(names)
	want := []string{"daily", "reap", "weekly"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("jobs = %v, want %v", names, want)
	}
}

func TestScheduler_RejectsBadCron(t *testing.T) {
	r := NewRunner(&fakeEngine{}, nil, nil, 0, nil, logging.Discard())
	if _, err := NewScheduler(r, Schedule{DailyCron: "not a cron"}, logging.Discard()); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}
