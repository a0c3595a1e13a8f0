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

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/tracker/entities/txn"
)

// checkConsistency verifies that the first repository transaction is in the
// index exactly once, and that the index does not know of commits later
// than the repository. A state without any good commit time is seeded from
// the repository instead.
func (t *Tracker) checkConsistency(ctx context.Context, state *State, logger logrus.FieldLogger) error {
	var first *txn.Batch

	if state.LastGoodTxCommitTimeInIndex == 0 {
		state.CheckedFirstTransactionTime = true
		state.CheckedLastTransactionTime = true
		logger.Info("no transactions in index, no verification required")

		batch, err := t.firstTransactions(ctx)
		if err != nil {
			return err
		}
		if batch.Len() > 0 {
			state.LastGoodTxCommitTimeInIndex = batch.Transactions[0].CommitTimeMs
			state.SetServerBounds(batch)
		}
		first = &batch
	}

	if !state.CheckedFirstTransactionTime {
		if err := t.checkFirstTransaction(ctx, state, logger); err != nil {
			return err
		}
	}

	if !state.CheckedLastTransactionTime {
		if first == nil {
			batch, err := t.firstTransactions(ctx)
			if err != nil {
				return err
			}
			first = &batch
		}
		state.SetServerBounds(*first)

		if first.HasServerBounds() {
			maxInIndex, err := t.index.MaxIndexedTransaction(ctx)
			if err != nil {
				return pkgerrors.Wrap(err, "read max transaction of index")
			}
			if maxInIndex.CommitTimeMs > first.MaxCommitTime {
				return &ConsistencyError{
					Check:          checkLastTransaction,
					TxnID:          maxInIndex.ID,
					CommitTimeMs:   maxInIndex.CommitTimeMs,
					RepoTxnID:      first.MaxID,
					RepoCommitTime: first.MaxCommitTime,
				}
			}
			state.CheckedLastTransactionTime = true
			logger.Info("verified last transaction commit time of index is not later than repository")
		}
	}

	return nil
}

func (t *Tracker) checkFirstTransaction(ctx context.Context, state *State, logger logrus.FieldLogger) error {
	// a range shard only holds transactions touching its range, its first
	// transaction is the first one at or after the range's min commit time
	minCommitTime := int64(0)
	if t.rangeRouter != nil && t.caps.CommitTimeInterval {
		rg := t.rangeRouter.Range()
		first, _, err := t.commitTimeInterval(ctx, rg.Start, rg.End)
		switch {
		case err == nil:
			minCommitTime = first
		case errors.Is(err, ErrCapabilityUnavailable):
			logger.WithError(err).Warn("commit time interval lookup unavailable, checking unranged first transaction")
		default:
			return err
		}
	}

	// nothing in the range yet, nothing to check
	if minCommitTime == -1 {
		return nil
	}

	batch, err := t.getTransactions(ctx, TxnQuery{
		FromCommitTime: ptr(minCommitTime),
		FromID:         ptr(t.initialFromID),
		ToID:           ptr(t.initialToID),
		Limit:          1,
	})
	if err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}

	first := batch.Transactions[0]
	count, err := t.index.TransactionDocCount(ctx, first.ID, first.CommitTimeMs)
	if err != nil {
		return pkgerrors.Wrapf(err, "count index documents of transaction %d", first.ID)
	}

	switch {
	case count == 0:
		return &ConsistencyError{
			Check:        checkFirstTransaction,
			TxnID:        first.ID,
			CommitTimeMs: first.CommitTimeMs,
		}
	case count == 1:
		state.CheckedFirstTransactionTime = true
		logger.WithField("txn_id", first.ID).Info("verified first transaction and commit time in index")
	default:
		logger.WithFields(logrus.Fields{
			"txn_id": first.ID,
			"count":  count,
		}).Warn("duplicate initial transaction found in index")
	}
	return nil
}

func (t *Tracker) firstTransactions(ctx context.Context) (txn.Batch, error) {
	return t.getTransactions(ctx, TxnQuery{
		FromID: ptr(t.initialFromID),
		ToID:   ptr(t.initialToID),
		Limit:  1,
	})
}
