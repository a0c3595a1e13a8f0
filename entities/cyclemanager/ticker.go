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
	"time"
)

type CycleTicker interface {
	Start()
	Stop()
	C() <-chan time.Time
	// called with the result of the last cycle, allows tickers to adjust
	// their interval
	CycleExecuted(executed bool)
}

type fixedTicker struct {
	interval time.Duration
	ticker   *time.Ticker
	ch       chan time.Time
	done     chan struct{}
}

// NewFixedTicker ticks every interval, regardless of the result of the
// executed cycles. Ticks are dropped while a cycle is still running.
func NewFixedTicker(interval time.Duration) CycleTicker {
	return &fixedTicker{
		interval: interval,
		ch:       make(chan time.Time, 1),
	}
}

func (t *fixedTicker) Start() {
	if t.ticker != nil {
		return
	}
	t.ticker = time.NewTicker(t.interval)
	t.done = make(chan struct{})

	go func(ticker *time.Ticker, done chan struct{}) {
		for {
			select {
			case <-done:
				return
			case tick := <-ticker.C:
				select {
				case t.ch <- tick:
				default:
				}
			}
		}
	}(t.ticker, t.done)
}

func (t *fixedTicker) Stop() {
	if t.ticker == nil {
		return
	}
	t.ticker.Stop()
	close(t.done)
	t.ticker = nil
}

func (t *fixedTicker) C() <-chan time.Time {
	return t.ch
}

func (t *fixedTicker) CycleExecuted(executed bool) {}
