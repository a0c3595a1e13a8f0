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
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/tracker/entities/concurrency"
	enterrors "github.com/weaviate/tracker/entities/errors"
	"github.com/weaviate/tracker/entities/txn"
	"github.com/weaviate/tracker/usecases/sharding"
)

type iterationResult struct {
	found    int
	docs     int
	upToDate bool
}

func (t *Tracker) trackTransactions(ctx context.Context, logger logrus.FieldLogger) (int, error) {
	recent := newRecentWindow(t.config.RecentlySeenSize)
	logger.Info("starting metadata tracker execution")

	total := 0
	for {
		res, err := t.trackIteration(ctx, recent, logger)
		total += res.docs
		if err != nil {
			return total, err
		}
		if res.found == 0 || res.upToDate {
			return total, nil
		}
	}
}

// trackIteration fetches, indexes and advances the cursor over one batch
// of transactions while holding the write lock of the shard.
func (t *Tracker) trackIteration(ctx context.Context, recent *recentWindow,
	logger logrus.FieldLogger,
) (iterationResult, error) {
	var res iterationResult

	if err := t.lock.Lock(ctx); err != nil {
		return res, fmt.Errorf("%w: acquire write lock: %w", ErrShutdown, err)
	}
	defer t.lock.Unlock()

	state, err := t.loadState(ctx)
	if err != nil {
		return res, err
	}
	state.Continue(t.nowMs(), t.config.Lag.Milliseconds(), t.config.HoleRetention.Milliseconds())

	fromCommitTime := recent.fromCommitTime(state.ResumeCommitTime())

	t.setPhase(PhaseFetching)
	batch, err := t.fetchTransactions(ctx, recent, fromCommitTime, state.TimeToStopIndexing, logger)
	if err != nil {
		return res, err
	}

	t.setPhase(PhaseFiltering)
	pending, err := t.removeIndexedTransactions(ctx, state, batch.Transactions, logger)
	if err != nil {
		return res, err
	}
	res.found = len(pending)
	if res.found > 0 {
		logger.WithFields(logrus.Fields{
			"count":            res.found,
			"from_commit_time": fromCommitTime,
		}).Infof("found transactions %s", describeRange(pending))
	} else {
		logger.WithField("from_commit_time", fromCommitTime).Info("no transaction found")
	}

	batches, upToDate := partitionTransactions(pending, state.TimeToStopIndexing,
		int64(t.config.TransactionDocsBatchSize))
	res.upToDate = upToDate

	for _, transactions := range batches {
		if err := t.checkShutdown(ctx); err != nil {
			// keep what was completed so far
			if serr := t.saveState(ctx, state); serr != nil {
				return res, serr
			}
			return res, err
		}

		start := time.Now()
		t.setPhase(PhaseIndexing)
		docs, err := t.indexBatchOfTransactions(ctx, transactions, logger)
		if err != nil {
			if errors.Is(err, ErrShutdown) {
				if serr := t.saveState(ctx, state); serr != nil {
					return res, serr
				}
			} else {
				logger.WithError(err).WithField("txn_ids", txn.IDs(transactions)).
					Error("indexing batch of transactions failed")
			}
			return res, err
		}
		res.docs += docs
		recent.add(transactions...)

		// transaction records go in after their nodes, a missing record is
		// what triggers a reindex after a crash
		t.setPhase(PhaseAdvancingCursor)
		if err := t.indexTransactionsAfterNodes(ctx, &state, transactions); err != nil {
			t.requestRollback(err)
			return res, err
		}
		t.metrics.ObserveBatch(t.shard, start)
	}

	state.SetServerBounds(batch)
	if err := t.saveState(ctx, state); err != nil {
		return res, err
	}

	t.metrics.Progress(t.shard, state.LastIndexedTxCommitTime, batch.MaxCommitTime)
	t.metrics.RecentlySeen(t.shard, recent.size())
	return res, nil
}

func (t *Tracker) indexTransactionsAfterNodes(ctx context.Context, state *State,
	transactions []txn.Transaction,
) error {
	for _, tx := range transactions {
		if err := t.index.IndexTransaction(ctx, tx, true); err != nil {
			return pkgerrors.Wrapf(err, "index transaction %d", tx.ID)
		}
		state.Advance(tx)
		t.metrics.TransactionsDone(t.shard, 1)
	}
	return nil
}

// indexBatchOfTransactions fetches the nodes of all transactions with
// changes in a single call and indexes them in parallel node batches.
func (t *Tracker) indexBatchOfTransactions(ctx context.Context, transactions []txn.Transaction,
	logger logrus.FieldLogger,
) (int, error) {
	ids := make([]int64, 0, len(transactions))
	for _, tx := range transactions {
		if !tx.IsEmpty() {
			ids = append(ids, tx.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	nodes, err := t.getNodes(ctx, NodeQuery{TransactionIDs: ids, Shard: t.shardHint()})
	if err != nil {
		return 0, err
	}
	logger.WithFields(logrus.Fields{
		"nodes":        len(nodes),
		"transactions": len(ids),
		"changes":      txn.Changes(transactions),
	}).Debug("found nodes to be indexed")

	return t.indexNodesInParallel(ctx, nodes, logger)
}

// indexNodesInParallel waits for every node batch before it reports the
// first failure. Any failure requests a rollback of the index.
func (t *Tracker) indexNodesInParallel(ctx context.Context, nodes []txn.Node,
	logger logrus.FieldLogger,
) (int, error) {
	var processed atomic.Int64

	eg := enterrors.NewErrorGroupWrapper(logger)
	eg.SetLimit(concurrency.BudgetFromCtx(ctx, t.config.Parallelism))

	for i, group := range partitionNodes(nodes, t.config.NodeBatchSize) {
		group := group
		eg.Go(func() error {
			// queued groups do not start once shutdown is requested
			if err := t.checkShutdown(ctx); err != nil {
				return err
			}
			if err := t.indexNodeBatch(ctx, group); err != nil {
				t.requestRollback(err)
				return err
			}
			processed.Add(int64(len(group)))
			return nil
		}, i)
	}

	if err := eg.Wait(); err != nil {
		return int(processed.Load()), pkgerrors.Wrap(err, "index node batch")
	}
	return int(processed.Load()), nil
}

func (t *Tracker) indexNodeBatch(ctx context.Context, nodes []txn.Node) error {
	records := make([]txn.Node, 0, len(nodes))
	dispositions := make([]sharding.Disposition, 0, len(nodes))
	for _, node := range nodes {
		disposition, record := sharding.Route(node, t.router.Owns(node), t.config.CascadeTrackingEnabled)
		if disposition == sharding.Dropped {
			continue
		}
		records = append(records, record)
		dispositions = append(dispositions, disposition)
	}
	if len(records) == 0 {
		return nil
	}

	if err := t.index.IndexNodes(ctx, records, true); err != nil {
		return pkgerrors.Wrapf(err, "index %d nodes", len(records))
	}
	for _, d := range dispositions {
		t.metrics.NodeDone(t.shard, d.String())
	}
	return nil
}

func partitionNodes(nodes []txn.Node, size int) [][]txn.Node {
	if len(nodes) == 0 {
		return nil
	}
	groups := make([][]txn.Node, 0, (len(nodes)+size-1)/size)
	for start := 0; start < len(nodes); start += size {
		end := min(start+size, len(nodes))
		groups = append(groups, nodes[start:end])
	}
	return groups
}
