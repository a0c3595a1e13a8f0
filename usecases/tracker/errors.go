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
	"errors"
	"fmt"

	"github.com/weaviate/tracker/usecases/sharding"
)

var (
	ErrShutdown = errors.New("tracker is shutting down")
	// ErrFatal is returned by every cycle once the index was found to be
	// inconsistent with the repository, until the state is invalidated
	ErrFatal                 = errors.New("tracker stopped, index and repository do not match")
	ErrCapabilityUnavailable = errors.New("repository capability unavailable")
	ErrNotRangeSharded       = errors.New("shard is not sharded by DB_ID_RANGE")

	ErrExpansionUnsafe = sharding.ErrExpansionUnsafe
	ErrAlreadyExpanded = sharding.ErrAlreadyExpanded
)

const (
	checkFirstTransaction = "first_transaction"
	checkLastTransaction  = "last_transaction"
)

// ConsistencyError describes an index which disagrees with the history of
// the repository. It matches ErrFatal.
type ConsistencyError struct {
	Check          string
	TxnID          int64
	CommitTimeMs   int64
	RepoTxnID      int64
	RepoCommitTime int64
}

func (e *ConsistencyError) Error() string {
	switch e.Check {
	case checkFirstTransaction:
		return fmt.Sprintf("initial transaction %d not found in index with commit time %d",
			e.TxnID, e.CommitTimeMs)
	default:
		return fmt.Sprintf("last transaction %d in index has commit time %d, later than %d of repository transaction %d",
			e.TxnID, e.CommitTimeMs, e.RepoCommitTime, e.RepoTxnID)
	}
}

func (e *ConsistencyError) Unwrap() error {
	return ErrFatal
}
