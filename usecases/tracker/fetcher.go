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
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	enterrors "github.com/weaviate/tracker/entities/errors"
	"github.com/weaviate/tracker/entities/txn"
	"github.com/weaviate/tracker/usecases/sharding"
)

// withRetry retries transient repository failures, every other failure is
// returned right away.
func withRetry[T any](ctx context.Context, t *Tracker, op string, call func() (T, error)) (T, error) {
	return backoff.RetryNotifyWithData(func() (T, error) {
		if err := t.checkShutdown(ctx); err != nil {
			var zero T
			return zero, backoff.Permanent(err)
		}
		res, err := call()
		if err != nil && !enterrors.IsTransient(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, backoff.WithContext(t.newBackOff(), ctx), func(err error, next time.Duration) {
		t.logger.WithField("operation", op).WithError(err).
			Warnf("transient repository failure, retrying in %s", next)
	})
}

func (t *Tracker) getTransactions(ctx context.Context, query TxnQuery) (txn.Batch, error) {
	batch, err := withRetry(ctx, t, "get_transactions", func() (txn.Batch, error) {
		return t.repo.GetTransactions(ctx, query)
	})
	if err != nil {
		return txn.EmptyBatch(), pkgerrors.Wrap(err, "get transactions")
	}
	return batch, nil
}

func (t *Tracker) getNodes(ctx context.Context, query NodeQuery) ([]txn.Node, error) {
	nodes, err := withRetry(ctx, t, "get_nodes", func() ([]txn.Node, error) {
		return t.repo.GetNodes(ctx, query)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "get nodes")
	}
	return nodes, nil
}

func (t *Tracker) nextCommitTimeAfter(ctx context.Context, commitTimeMs int64) (int64, error) {
	finder, ok := t.repo.(NextCommitTimeFinder)
	if !ok || !t.caps.NextCommitTime {
		return -1, ErrCapabilityUnavailable
	}
	next, err := withRetry(ctx, t, "next_commit_time", func() (int64, error) {
		return finder.NextCommitTimeAfter(ctx, t.shard, commitTimeMs)
	})
	if err != nil {
		return -1, pkgerrors.Wrap(err, "get next commit time")
	}
	return next, nil
}

func (t *Tracker) commitTimeInterval(ctx context.Context, startID, endID int64) (int64, int64, error) {
	finder, ok := t.repo.(CommitTimeIntervalFinder)
	if !ok || !t.caps.CommitTimeInterval {
		return -1, -1, ErrCapabilityUnavailable
	}

	type interval struct{ first, last int64 }
	res, err := withRetry(ctx, t, "commit_time_interval", func() (interval, error) {
		first, last, err := finder.CommitTimeInterval(ctx, t.shard, startID, endID)
		return interval{first, last}, err
	})
	if err != nil {
		return -1, -1, pkgerrors.Wrap(err, "get commit time interval")
	}
	return res.first, res.last, nil
}

func (t *Tracker) shardHint() *sharding.Config {
	hint := t.config.Shard
	if t.rangeRouter != nil {
		rg := t.rangeRouter.Range()
		hint.RangeStart, hint.RangeEnd = rg.Start, rg.End
	}
	return &hint
}

// fetchTransactions returns the next transactions after fromCommitTime.
func (t *Tracker) fetchTransactions(ctx context.Context, recent *recentWindow,
	fromCommitTime, stopAt int64, logger logrus.FieldLogger,
) (txn.Batch, error) {
	if t.rangeRouter != nil && t.caps.CommitTimeInterval {
		return t.dbIDRangeTransactions(ctx, recent, fromCommitTime, stopAt, logger)
	}
	return t.someTransactions(ctx, recent, fromCommitTime, stopAt)
}

// someTransactions steps a commit time window forward from fromCommitTime
// until it finds transactions not seen before, or passes endTime.
func (t *Tracker) someTransactions(ctx context.Context, recent *recentWindow,
	fromCommitTime, endTime int64,
) (txn.Batch, error) {
	step := t.config.TimeStep.Milliseconds()
	hint := t.shardHint()
	window := func(start int64) TxnQuery {
		return TxnQuery{
			FromCommitTime: ptr(start),
			ToCommitTime:   ptr(start + step),
			Limit:          t.config.MaxTransactions,
			Shard:          hint,
		}
	}

	start := max(fromCommitTime, 0)
	if start == 0 {
		return t.getTransactions(ctx, window(0))
	}

	for {
		if err := t.checkShutdown(ctx); err != nil {
			return txn.EmptyBatch(), err
		}

		batch, err := t.getTransactions(ctx, window(start))
		if err != nil {
			return batch, err
		}
		start += step

		if batch.Len() == 0 && t.caps.NextCommitTime {
			next, err := t.nextCommitTimeAfter(ctx, start)
			if err != nil {
				return batch, err
			}
			if next == -1 {
				// nothing was committed after the window
				return batch, nil
			}
			t.logger.WithFields(logrus.Fields{"from": start, "to": next}).
				Debug("advancing transaction window to next commit time")
			batch, err = t.getTransactions(ctx, window(next))
			if err != nil {
				return batch, err
			}
			start = next + step
		}

		if batch.Len() == 0 {
			if start < endTime {
				continue
			}
			return batch, nil
		}
		if !recent.seenAll(batch.Transactions) {
			return batch, nil
		}
	}
}

// dbIDRangeTransactions skips the history before the first commit touching
// the node id range of the shard. Once the repository holds nothing new for
// the range only the latest transaction is returned, which keeps the cursor
// current without scanning unrelated transactions.
func (t *Tracker) dbIDRangeTransactions(ctx context.Context, recent *recentWindow,
	fromCommitTime, stopAt int64, logger logrus.FieldLogger,
) (txn.Batch, error) {
	rg := t.rangeRouter.Range()
	minCommitTime, maxCommitTime, err := t.commitTimeInterval(ctx, rg.Start, rg.End)
	if err != nil {
		if errors.Is(err, ErrCapabilityUnavailable) {
			return t.someTransactions(ctx, recent, fromCommitTime, stopAt)
		}
		return txn.EmptyBatch(), err
	}

	rangeLogger := logger.WithFields(logrus.Fields{"range_start": rg.Start, "range_end": rg.End})
	outOfRange := false
	if minCommitTime == -1 {
		rangeLogger.Debug("no nodes of range exist in repository, indexing only latest transaction")
		outOfRange = true
	}
	if fromCommitTime > maxCommitTime {
		rangeLogger.Debug("commit time is past the last commit of range, indexing only latest transaction")
		outOfRange = true
	}
	if fromCommitTime < minCommitTime {
		rangeLogger.WithFields(logrus.Fields{"from": fromCommitTime, "to": minCommitTime}).
			Debug("skipping transactions before first commit of range")
		fromCommitTime = minCommitTime
	}

	batch, err := t.someTransactions(ctx, recent, fromCommitTime, stopAt)
	if err != nil || !outOfRange {
		return batch, err
	}

	if !batch.HasServerBounds() {
		return batch.WithTransactions(nil), nil
	}
	latest := txn.Transaction{ID: batch.MaxID, CommitTimeMs: batch.MaxCommitTime}
	return batch.WithTransactions([]txn.Transaction{latest}), nil
}

// removeIndexedTransactions drops transactions at or before the cursor which
// the index already holds. A failed lookup keeps the transaction.
func (t *Tracker) removeIndexedTransactions(ctx context.Context, state State,
	transactions []txn.Transaction, logger logrus.FieldLogger,
) ([]txn.Transaction, error) {
	pending := make([]txn.Transaction, 0, len(transactions))
	for _, tx := range transactions {
		if tx.CommitTimeMs > state.LastIndexedTxCommitTime {
			pending = append(pending, tx)
			continue
		}
		if err := t.checkShutdown(ctx); err != nil {
			return nil, err
		}

		indexed, err := t.index.IsTransactionIndexed(ctx, tx.ID, true)
		if err != nil {
			logger.WithError(err).WithField("txn_id", tx.ID).
				Warn("could not check if transaction is indexed, indexing it again")
			pending = append(pending, tx)
			continue
		}
		if indexed {
			logger.WithField("txn_id", tx.ID).Trace("skipping already indexed transaction")
			continue
		}
		pending = append(pending, tx)
	}
	return pending, nil
}

// partitionTransactions splits transactions into batches whose summed
// changes exceed maxDocs by at most one transaction. It stops at the first
// transaction committed after stopAt and reports that the index is up to
// date.
func partitionTransactions(transactions []txn.Transaction, stopAt, maxDocs int64) ([][]txn.Transaction, bool) {
	var (
		batches  [][]txn.Transaction
		current  []txn.Transaction
		docs     int64
		upToDate bool
	)
	for _, tx := range transactions {
		if tx.CommitTimeMs > stopAt {
			upToDate = true
			break
		}

		current = append(current, tx)
		docs += tx.Changes()
		if docs > maxDocs {
			batches = append(batches, current)
			current = nil
			docs = 0
		}
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches, upToDate
}

func describeRange(transactions []txn.Transaction) string {
	if len(transactions) == 0 {
		return "none"
	}
	return fmt.Sprintf("%s to %s", transactions[0], transactions[len(transactions)-1])
}
