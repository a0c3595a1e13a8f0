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
	"fmt"

	"github.com/weaviate/tracker/entities/txn"
)

// State is the progress cursor of a shard. It is read at the start of every
// locked iteration, since a rollback of the index may have reset it, and
// written before the lock is released.
type State struct {
	LastIndexedTxID             int64 `json:"lastIndexedTxId" msgpack:"lastIndexedTxId"`
	LastIndexedTxCommitTime     int64 `json:"lastIndexedTxCommitTime" msgpack:"lastIndexedTxCommitTime"`
	LastGoodTxCommitTimeInIndex int64 `json:"lastGoodTxCommitTimeInIndex" msgpack:"lastGoodTxCommitTimeInIndex"`
	LastTxIDOnServer            int64 `json:"lastTxIdOnServer" msgpack:"lastTxIdOnServer"`
	LastTxCommitTimeOnServer    int64 `json:"lastTxCommitTimeOnServer" msgpack:"lastTxCommitTimeOnServer"`
	TimeToStopIndexing          int64 `json:"timeToStopIndexing" msgpack:"timeToStopIndexing"`
	CheckedFirstTransactionTime bool  `json:"checkedFirstTransactionTime" msgpack:"checkedFirstTransactionTime"`
	CheckedLastTransactionTime  bool  `json:"checkedLastTransactionTime" msgpack:"checkedLastTransactionTime"`
	TrackerCycles               int64 `json:"trackerCycles" msgpack:"trackerCycles"`
}

// Advance moves the cursor to t if t sorts strictly after it.
func (s *State) Advance(t txn.Transaction) bool {
	if !t.After(s.LastIndexedTxCommitTime, s.LastIndexedTxID) {
		return false
	}
	s.LastIndexedTxCommitTime = t.CommitTimeMs
	s.LastIndexedTxID = t.ID
	return true
}

// Continue prepares the state for another iteration: nothing committed
// within lagMs of nowMs is indexed, and the last good commit time trails the
// cursor by at most holeRetentionMs so that late commits are picked up.
func (s *State) Continue(nowMs, lagMs, holeRetentionMs int64) {
	s.TimeToStopIndexing = nowMs - lagMs
	s.LastGoodTxCommitTimeInIndex = max(s.LastGoodTxCommitTimeInIndex,
		s.LastIndexedTxCommitTime-holeRetentionMs)
}

// ResumeCommitTime is where fetching starts when nothing was seen yet.
func (s *State) ResumeCommitTime() int64 {
	if s.LastIndexedTxCommitTime == 0 {
		return s.LastGoodTxCommitTimeInIndex
	}
	return s.LastIndexedTxCommitTime
}

// SetServerBounds records the repository bounds reported with a batch.
func (s *State) SetServerBounds(b txn.Batch) {
	if b.MaxCommitTime != txn.Unknown {
		s.LastTxCommitTimeOnServer = b.MaxCommitTime
	}
	if b.MaxID != txn.Unknown {
		s.LastTxIDOnServer = b.MaxID
	}
}

// ResetVerification makes the next cycle verify the index again.
func (s *State) ResetVerification() {
	s.TrackerCycles = 0
	s.CheckedFirstTransactionTime = false
	s.CheckedLastTransactionTime = false
}

func (s State) String() string {
	return fmt.Sprintf("State{lastIndexedTx=(%d, %d), lastGoodCommitTime=%d, server=(%d, %d), stopAt=%d, cycles=%d}",
		s.LastIndexedTxCommitTime, s.LastIndexedTxID, s.LastGoodTxCommitTimeInIndex,
		s.LastTxCommitTimeOnServer, s.LastTxIDOnServer, s.TimeToStopIndexing, s.TrackerCycles)
}
