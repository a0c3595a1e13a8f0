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
	"github.com/emirpasic/gods/queues/circularbuffer"

	"github.com/weaviate/tracker/entities/txn"
)

type txnKey struct {
	id           int64
	commitTimeMs int64
}

// recentWindow holds the transactions most recently fetched during one
// tracking run, the oldest entries are overwritten once it is full.
type recentWindow struct {
	buffer *circularbuffer.Queue
	last   txn.Transaction
}

func newRecentWindow(size int) *recentWindow {
	return &recentWindow{buffer: circularbuffer.New(size)}
}

func (w *recentWindow) add(transactions ...txn.Transaction) {
	for _, t := range transactions {
		w.buffer.Enqueue(t)
		w.last = t
	}
}

func (w *recentWindow) size() int {
	return w.buffer.Size()
}

func (w *recentWindow) empty() bool {
	return w.buffer.Empty()
}

// fromCommitTime is where the next fetch starts: at the newest seen
// transaction, or at fallback when nothing was seen yet.
func (w *recentWindow) fromCommitTime(fallback int64) int64 {
	if w.empty() {
		return fallback
	}
	return w.last.CommitTimeMs
}

// seenAll reports whether a fetch returned nothing new. A single result is
// compared with the newest seen transaction only.
func (w *recentWindow) seenAll(transactions []txn.Transaction) bool {
	if w.empty() {
		return false
	}

	if len(transactions) == 1 {
		return transactions[0].ID == w.last.ID
	}

	seen := make(map[txnKey]struct{}, w.buffer.Size())
	for _, v := range w.buffer.Values() {
		t := v.(txn.Transaction)
		seen[txnKey{t.ID, t.CommitTimeMs}] = struct{}{}
	}
	for _, t := range transactions {
		if _, ok := seen[txnKey{t.ID, t.CommitTimeMs}]; !ok {
			return false
		}
	}
	return true
}
