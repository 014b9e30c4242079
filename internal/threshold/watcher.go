package threshold

import (
	"context"
	"time"

	"github.com/wesleyorama2/vuload/internal/metrics"
)

// Snapshotter produces metric snapshots. *metrics.Registry implements it.
type Snapshotter interface {
	Snapshot() *metrics.Snapshot
}

// Watcher periodically evaluates abort-on-fail thresholds during a run.
type Watcher struct {
	source     Snapshotter
	thresholds []Threshold
	interval   time.Duration
}

// NewWatcher creates a watcher over the thresholds that have AbortOnFail set.
// The others are only evaluated at the end of the run.
func NewWatcher(source Snapshotter, thresholds []Threshold, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	var abortable []Threshold
	for _, t := range thresholds {
		if t.AbortOnFail {
			abortable = append(abortable, t)
		}
	}

	return &Watcher{
		source:     source,
		thresholds: abortable,
		interval:   interval,
	}
}

// Enabled reports whether any threshold can abort the run.
func (w *Watcher) Enabled() bool {
	return len(w.thresholds) > 0
}

// Run evaluates the abortable thresholds every interval until ctx is done
// or one of them is breached, in which case the failed result is returned.
//
// A threshold on a metric that has not been recorded yet is skipped rather
// than treated as a breach.
func (w *Watcher) Run(ctx context.Context) *Result {
	if !w.Enabled() {
		<-ctx.Done()
		return nil
	}

	start := time.Now()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if r := w.check(time.Since(start)); r != nil {
				return r
			}
		}
	}
}

func (w *Watcher) check(elapsed time.Duration) *Result {
	snap := w.source.Snapshot()
	for _, t := range w.thresholds {
		if elapsed < t.DelayAbortEval {
			continue
		}
		r := EvaluateOne(snap, t)
		if r.Err != nil {
			continue
		}
		if !r.Passed {
			return &r
		}
	}
	return nil
}
