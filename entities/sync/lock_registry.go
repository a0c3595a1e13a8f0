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

package sync

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// FairLock is a mutual exclusion lock which hands ownership out in the order
// it was requested, so neither the tracker nor the commit coordinator can be
// starved by the other.
type FairLock struct {
	sem *semaphore.Weighted
}

func NewFairLock() *FairLock {
	return &FairLock{sem: semaphore.NewWeighted(1)}
}

// Lock blocks until the lock is acquired or ctx is done.
func (l *FairLock) Lock(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

func (l *FairLock) TryLock() bool {
	return l.sem.TryAcquire(1)
}

func (l *FairLock) Unlock() {
	l.sem.Release(1)
}

// LockRegistry hands out one FairLock per index shard. The same registry
// has to be given to every component which mutates or commits that shard.
type LockRegistry struct {
	sync.Mutex
	locks map[string]*FairLock
}

func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: map[string]*FairLock{}}
}

// Get returns the lock of the given shard, creating it on first use.
func (r *LockRegistry) Get(shard string) *FairLock {
	r.Lock()
	defer r.Unlock()

	l, ok := r.locks[shard]
	if !ok {
		l = NewFairLock()
		r.locks[shard] = l
	}
	return l
}

// Remove drops the lock of a shard that is being shut down. Holders of the
// old lock are not affected.
func (r *LockRegistry) Remove(shard string) {
	r.Lock()
	defer r.Unlock()

	delete(r.locks, shard)
}

func (r *LockRegistry) Len() int {
	r.Lock()
	defer r.Unlock()

	return len(r.locks)
}
