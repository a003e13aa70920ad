package workers

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"costwatch/internal/services/engine"
	"costwatch/pkg/logger"
)

// AnomalyChecker is the detection side of the engine
type AnomalyChecker interface {
	Owners() []string
	CheckAnomalies(ctx context.Context, ownerID string) *engine.CheckResult
}

// AnomalyMonitor checks every known owner on each run.
// Owners are checked in parallel; checks for one owner are serialized by the engine.
type AnomalyMonitor struct {
	*BaseWorker
	checker     AnomalyChecker
	concurrency int
}

// NewAnomalyMonitor creates the periodic anomaly check worker
func NewAnomalyMonitor(
	checker AnomalyChecker,
	interval time.Duration,
	concurrency int,
	enabled bool,
	log *logger.Logger,
) *AnomalyMonitor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &AnomalyMonitor{
		BaseWorker:  NewBaseWorker("anomaly_monitor", interval, enabled, log),
		checker:     checker,
		concurrency: concurrency,
	}
}

// Run checks all owners once
func (w *AnomalyMonitor) Run(ctx context.Context) error {
	owners := w.checker.Owners()
	if len(owners) == 0 {
		w.Log().Debug("No owners to check")
		return nil
	}

	var anomalies, alerts, actions, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, owner := range owners {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := w.checker.CheckAnomalies(gctx, owner)
			if res.Skipped {
				skipped.Add(1)
				return nil
			}
			anomalies.Add(int64(len(res.Anomalies)))
			alerts.Add(int64(res.AlertsSent))
			actions.Add(int64(len(res.ActionsTaken)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		// shutdown mid-sweep; the next run covers the rest
		w.Log().Infow("Anomaly sweep interrupted", "owners", len(owners))
		return nil
	}

	w.Log().Infow("Anomaly sweep complete",
		"owners", len(owners),
		"skipped", skipped.Load(),
		"anomalies", anomalies.Load(),
		"alerts_sent", alerts.Load(),
		"actions_taken", actions.Load(),
	)
	return nil
}
