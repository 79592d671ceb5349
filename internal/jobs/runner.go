package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Aimtara/teachmo-sub002/internal/metrics"
	"github.com/Aimtara/teachmo-sub002/internal/mitigation"
	"github.com/Aimtara/teachmo-sub002/internal/store"
)

// #region runner
// Runner executes the batch jobs. Per-family failures are recorded and the
// batch carries on.
type Runner struct {
	engine  Engine
	store   store.Store
	relay   Deliverer
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     *logrus.Entry
	now     func() time.Time
}

// NewRunner wires a runner. relay may be nil when digest delivery is not
// configured; ratePerSec <= 0 disables pacing.
func NewRunner(engine Engine, st store.Store, relay Deliverer, ratePerSec float64, m *metrics.Metrics, logger *logrus.Logger) *Runner {
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	return &Runner{
		engine:  engine,
		store:   st,
		relay:   relay,
		limiter: rate.NewLimiter(limit, 1),
		metrics: m,
		log:     logger.WithField("component", "jobs"),
		now:     time.Now,
	}
}

// #endregion runner

// #region daily-weekly
// RunDaily plans the day for each family. Empty ids means every known family.
func (r *Runner) RunDaily(ctx context.Context, ids []string) ([]JobResult, error) {
	return r.each(ctx, "daily", ids, func(ctx context.Context, id string) (JobResult, error) {
		plan, err := r.engine.RunDaily(ctx, id)
		return JobResult{PlanID: plan.ID}, err
	})
}

// RunWeekly writes the weekly brief for each family. Empty ids means every known family.
func (r *Runner) RunWeekly(ctx context.Context, ids []string) ([]JobResult, error) {
	return r.each(ctx, "weekly", ids, func(ctx context.Context, id string) (JobResult, error) {
		brief, err := r.engine.RunWeekly(ctx, id)
		return JobResult{BriefID: brief.ID}, err
	})
}

// each only fails as a whole when the family list cannot be loaded or ctx ends.
func (r *Runner) each(ctx context.Context, job string, ids []string, fn func(context.Context, string) (JobResult, error)) ([]JobResult, error) {
	if len(ids) == 0 {
		all, err := r.engine.Families(ctx)
		if err != nil {
			return nil, fmt.Errorf("list families: %w", err)
		}
		ids = all
	}

	results := make([]JobResult, 0, len(ids))
	failed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := fn(ctx, id)
		r.metrics.Job(job, err == nil)
		if err != nil {
			failed++
			r.log.WithError(err).WithFields(logrus.Fields{"job": job, "family_id": id}).Warn("family run failed")
			results = append(results, JobResult{FamilyID: id, Error: err.Error()})
			continue
		}
		res.FamilyID, res.OK = id, true
		results = append(results, res)
	}
	r.log.WithFields(logrus.Fields{
		"job":      job,
		"families": len(ids),
		"failed":   failed,
	}).Info("batch finished")
	return results, nil
}

// #endregion daily-weekly

// #region reap
// Reap clears expired mitigations.
func (r *Runner) Reap(ctx context.Context) (mitigation.ReapResult, error) {
	res, err := r.engine.ReapMitigations(ctx)
	r.metrics.Job("reap", err == nil)
	if res.Cleared > 0 {
		r.log.WithField("cleared", res.Cleared).Info("mitigations cleared")
	}
	return res, err
}

// #endregion reap

// #region deliver
// DeliverDigests sends each family's queued digest through the relay. Items
// are marked delivered only after the relay accepted them.
func (r *Runner) DeliverDigests(ctx context.Context) (DeliveryResult, error) {
	var res DeliveryResult
	if r.relay == nil {
		return res, nil
	}
	ids, err := r.engine.Families(ctx)
	if err != nil {
		return res, fmt.Errorf("list families: %w", err)
	}

	for _, id := range ids {
		items, err := r.store.GetDigest(ctx, id, store.DigestQueued)
		if err != nil {
			res.Failed = append(res.Failed, id)
			r.log.WithError(err).WithField("family_id", id).Warn("load digest failed")
			continue
		}
		if len(items) == 0 {
			continue
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return res, err
		}
		res.Families++
		if err := r.relay.Deliver(ctx, id, items); err != nil {
			res.Failed = append(res.Failed, id)
			r.metrics.Job("deliver", false)
			r.log.WithError(err).WithField("family_id", id).Warn("digest delivery failed")
			continue
		}

		itemIDs := make([]string, len(items))
		for i, it := range items {
			itemIDs[i] = it.ID
		}
		n, err := r.store.MarkDigestDelivered(ctx, id, itemIDs, r.now())
		if err != nil {
			res.Failed = append(res.Failed, id)
			r.metrics.Job("deliver", false)
			r.log.WithError(err).WithField("family_id", id).Warn("mark digest delivered failed")
			continue
		}
		r.metrics.Job("deliver", true)
		r.metrics.Delivered(n)
		res.Delivered += n
	}
	return res, nil
}

// #endregion deliver
