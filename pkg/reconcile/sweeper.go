package reconcile

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/dirsync/pkg/observability"
)

// SweepRecorder receives the outcome of every background sweep.
type SweepRecorder interface {
	RecordSweep(ctx context.Context, refreshed int, sweepErr error) error
}

// Sweeper periodically re-extends the sync timestamps of every externally
// anchored authorizable, so a short configured sync window never lets the
// external cleanup process prune dynamic memberships between reconciliations.
type Sweeper struct {
	engine   *Engine
	cron     *cron.Cron
	recorder SweepRecorder
	logger   *observability.Logger
}

// NewSweeper schedules a timestamp sweep on the given cron expression
// (standard five-field syntax, e.g. "0 3 * * *"). recorder is optional;
// recording failures are logged, never fatal to the sweep.
func NewSweeper(engine *Engine, schedule string, recorder SweepRecorder, logger *observability.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	s := &Sweeper{
		engine:   engine,
		cron:     cron.New(),
		recorder: recorder,
		logger:   logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running sweeps in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) run() {
	res, err := s.engine.RefreshSyncTimestamps()

	refreshed := 0
	if res != nil {
		refreshed = res.AuthorizablesRefreshed
	}
	if s.recorder != nil {
		if recErr := s.recorder.RecordSweep(context.Background(), refreshed, err); recErr != nil {
			s.logger.WithError(recErr).Error("failed to record sweep outcome")
		}
	}

	if err != nil {
		s.logger.WithError(err).Error("sync timestamp sweep failed")
		return
	}
	s.logger.WithField("authorizablesRefreshed", refreshed).
		Info("sync timestamp sweep complete")
}
