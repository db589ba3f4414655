package scanner

import (
	"context"
	"sync"

	"github.com/samber/oops"
	"k8s.io/utils/clock"

	"github.com/apnisec/npmguard/pkg/log"
	"github.com/apnisec/npmguard/pkg/types"
)

const defaultWorkers = 5

type result struct {
	target   types.ScanTarget
	findings []types.Finding
	err      error
}

// Orchestrator fans scan targets out over a fixed pool of workers and folds
// the per-target results into one finding set plus a run summary. A failed
// target never takes the run down with it.
type Orchestrator struct {
	coordinator *Coordinator
	workers     int
	clock       clock.Clock
	logger      *log.Logger
}

func NewOrchestrator(c *Coordinator, workers int) *Orchestrator {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Orchestrator{
		coordinator: c,
		workers:     workers,
		clock:       clock.RealClock{},
		logger:      log.WithPrefix("orchestrator"),
	}
}

// Run scans every target and returns the aggregated findings together with a
// summary of the run. Cancelling ctx stops new targets from being dispatched;
// targets already in flight complete their scan.
func (o *Orchestrator) Run(ctx context.Context, targets []types.ScanTarget) ([]types.Finding, types.Summary) {
	started := o.clock.Now()
	o.logger.Info("Starting scan",
		log.Int("targets", len(targets)), log.Int("workers", o.workers))

	tasks := make(chan types.ScanTarget)
	results := make(chan result)

	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.work(ctx, tasks, results)
		}()
	}

	go func() {
		defer close(tasks)
		for _, target := range targets {
			if ctx.Err() != nil {
				o.logger.Warn("Scan interrupted, waiting for in-flight targets")
				return
			}
			select {
			case <-ctx.Done():
				o.logger.Warn("Scan interrupted, waiting for in-flight targets")
				return
			case tasks <- target:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var findings []types.Finding
	var names, failed []string
	for res := range results {
		names = append(names, res.target.FullName())
		if res.err != nil {
			failed = append(failed, res.target.FullName())
			o.logger.Error("Target scan failed",
				log.Repo(res.target.FullName()), log.Err(res.err))
			continue
		}
		findings = append(findings, res.findings...)
		o.logger.Info("Target scanned",
			log.Repo(res.target.FullName()), log.Int("findings", len(res.findings)))
	}

	summary := types.NewSummary(findings, names, failed, started, o.clock.Now())
	o.logger.Info("Scan finished",
		log.Int("total", summary.Total),
		log.Int("high", summary.High),
		log.Int("medium", summary.Medium),
		log.Int("low", summary.Low),
		log.Int("failed_targets", len(failed)),
		log.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)))
	return findings, summary
}

func (o *Orchestrator) work(ctx context.Context, tasks <-chan types.ScanTarget, results chan<- result) {
	for target := range tasks {
		// A target taken off the queue finishes even if the run is being
		// interrupted, so its result is never half-reported.
		findings, err := o.scanOne(context.WithoutCancel(ctx), target)
		results <- result{target: target, findings: findings, err: err}
	}
}

func (o *Orchestrator) scanOne(ctx context.Context, target types.ScanTarget) (findings []types.Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oops.In("scan").With("repository", target.FullName()).
				Errorf("panic during scan: %v", r)
		}
	}()
	return o.coordinator.Scan(ctx, target)
}
