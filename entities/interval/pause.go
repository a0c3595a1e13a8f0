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

package interval

import "time"

// MaxDoublings bounds the growth of a Pause to base << MaxDoublings.
const MaxDoublings = 6

// Pause spaces out retries of a periodic job after consecutive failures. The
// first failure waits base, every further one doubles the wait up to
// base << MaxDoublings. It is not safe for concurrent use, a single cycle
// goroutine owns it.
type Pause struct {
	base     time.Duration
	failures int
	failedAt time.Time
	now      func() time.Time
}

func NewPause(base time.Duration, now func() time.Time) *Pause {
	if now == nil {
		now = time.Now
	}
	return &Pause{base: base, now: now}
}

// Failed records a failure at the current time.
func (p *Pause) Failed() {
	p.failures++
	p.failedAt = p.now()
}

// Succeeded clears the failure streak.
func (p *Pause) Succeeded() {
	p.failures = 0
	p.failedAt = time.Time{}
}

// Failures is the length of the current failure streak.
func (p *Pause) Failures() int {
	return p.failures
}

// Wait is the pause owed after the current failure streak.
func (p *Pause) Wait() time.Duration {
	if p.failures == 0 {
		return 0
	}
	shift := p.failures - 1
	if shift > MaxDoublings {
		shift = MaxDoublings
	}
	return p.base << shift
}

// Ready reports whether the job may run again.
func (p *Pause) Ready() bool {
	if p.failures == 0 {
		return true
	}
	return p.now().Sub(p.failedAt) >= p.Wait()
}
