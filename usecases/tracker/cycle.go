//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2025 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package tracker

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/weaviate/tracker/entities/concurrency"
	"github.com/weaviate/tracker/entities/cyclemanager"
	"github.com/weaviate/tracker/entities/interval"
)

// RunCycle drains pending maintenance and then tracks new transactions. A
// failed maintenance request stays queued and does not hold back tracking.
func (t *Tracker) RunCycle(ctx context.Context) error {
	var maintErr error
	if t.HasMaintenance() {
		maintErr = t.Maintenance(ctx)
		if errors.Is(maintErr, ErrShutdown) {
			return maintErr
		}
		if maintErr != nil {
			t.metrics.MaintenanceFailed(t.shard)
			t.logger.WithError(maintErr).
				Warn("maintenance failed, retrying the request next cycle")
		}
	}
	return errors.Join(maintErr, t.Track(ctx))
}

// CycleFunc adapts the tracker to a cycle manager. After a failed cycle the
// next one waits a cycle interval, doubling with every further failure.
func (t *Tracker) CycleFunc(ctx context.Context) cyclemanager.CycleFunc {
	pause := interval.NewPause(t.config.CycleInterval, t.now)

	return func(shouldBreak cyclemanager.ShouldBreakFunc) bool {
		if shouldBreak() || !pause.Ready() {
			return false
		}

		err := t.RunCycle(concurrency.CtxWithBudget(ctx, t.config.Parallelism))
		switch {
		case err == nil:
			pause.Succeeded()
		case errors.Is(err, ErrShutdown):
			return false
		case errors.Is(err, ErrFatal):
			pause.Failed()
			t.logger.WithError(err).WithField("pause", pause.Wait()).
				Error("tracker stopped on inconsistent index, invalidate the state to resume")
		default:
			pause.Failed()
			t.logger.WithError(err).WithField("pause", pause.Wait()).
				Warn("tracker cycle failed")
		}
		return true
	}
}

// Driver runs the cycles of one tracker in the background.
type Driver struct {
	tracker *Tracker
	cycles  *cyclemanager.CycleManager
	cancel  context.CancelFunc
}

func NewDriver(t *Tracker) *Driver {
	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		tracker: t,
		cycles: cyclemanager.New(cyclemanager.NewFixedTicker(t.config.CycleInterval),
			t.CycleFunc(ctx), t.logger),
		cancel: cancel,
	}
}

func (d *Driver) Start() {
	d.tracker.logger.WithField("interval", d.tracker.config.CycleInterval).Info("starting tracker cycles")
	d.cycles.Start()
}

// Stop shuts the tracker down and waits for the running cycle to finish.
func (d *Driver) Stop(ctx context.Context) error {
	d.tracker.Shutdown()
	d.cancel()

	if err := d.cycles.StopAndWait(ctx); err != nil {
		d.tracker.logger.WithError(err).Warn("tracker cycle did not stop in time")
		return err
	}
	d.tracker.Close()
	d.tracker.logger.WithFields(logrus.Fields{"phase": d.tracker.Phase()}).Info("tracker stopped")
	return nil
}
