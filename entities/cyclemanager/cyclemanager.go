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

package cyclemanager

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	enterrors "github.com/weaviate/tracker/entities/errors"
)

type (
	// indicates whether cyclemanager's stop was requested to allow safely
	// break execution of CycleFunc and stop cyclemanager earlier
	ShouldBreakFunc func() bool
	// return value indicates whether actual work was done in the cycle
	CycleFunc func(shouldBreak ShouldBreakFunc) bool
)

// CycleManager calls a single CycleFunc on every tick of its ticker until it
// is stopped. Cycles never overlap.
type CycleManager struct {
	sync.Mutex

	logger      logrus.FieldLogger
	cycleTicker CycleTicker
	cycleFunc   CycleFunc

	running       bool
	stopRequested atomic.Bool
	stopSignal    chan struct{}
	stopped       chan struct{}
}

func New(cycleTicker CycleTicker, cycleFunc CycleFunc, logger logrus.FieldLogger) *CycleManager {
	return &CycleManager{
		logger:      logger,
		cycleTicker: cycleTicker,
		cycleFunc:   cycleFunc,
	}
}

// Starts instance, does not block
// Does nothing if instance is already started
func (c *CycleManager) Start() {
	c.Lock()
	defer c.Unlock()

	if c.running {
		return
	}

	c.stopRequested.Store(false)
	c.stopSignal = make(chan struct{}, 1)
	c.stopped = make(chan struct{})
	stopSignal, stopped := c.stopSignal, c.stopped

	enterrors.GoWrapper(func() {
		defer close(stopped)

		c.cycleTicker.Start()
		defer c.cycleTicker.Stop()

		for {
			select {
			case <-stopSignal:
				return
			case <-c.cycleTicker.C():
				// stop has higher priority than a tick which is ready at the same time
				if c.stopRequested.Load() {
					return
				}
				c.cycleTicker.CycleExecuted(c.cycleFunc(c.shouldBreak))
			}
		}
	}, c.logger)

	c.running = true
}

// StopAndWait requests the running cycle to break and waits until the
// instance stopped or ctx expired, whichever comes first.
func (c *CycleManager) StopAndWait(ctx context.Context) error {
	c.Lock()
	if !c.running {
		c.Unlock()
		return nil
	}
	c.stopRequested.Store(true)
	select {
	case c.stopSignal <- struct{}{}:
	default:
	}
	stopped := c.stopped
	c.Unlock()

	select {
	case <-stopped:
		c.Lock()
		c.running = false
		c.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *CycleManager) Running() bool {
	c.Lock()
	defer c.Unlock()

	return c.running
}

func (c *CycleManager) shouldBreak() bool {
	return c.stopRequested.Load()
}
