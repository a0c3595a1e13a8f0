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
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/tracker/entities/txn"
	"github.com/weaviate/tracker/usecases/sharding"
)

// Maintenance drains all maintenance queues in their fixed order while
// holding the write lock of the shard. A request whose action fails is put
// back and draining stops.
func (t *Tracker) Maintenance(ctx context.Context) error {
	if err := t.checkShutdown(ctx); err != nil {
		return err
	}
	if err := t.lock.Lock(ctx); err != nil {
		return fmt.Errorf("%w: acquire write lock: %w", ErrShutdown, err)
	}
	defer t.lock.Unlock()

	t.setPhase(PhaseMaintenanceDrain)
	defer t.leavePhase()

	pace := newPacer(t)

	reindexTransaction := func(ctx context.Context, id int64) (int, error) {
		return t.indexTransactionByID(ctx, id, true)
	}
	indexTransaction := func(ctx context.Context, id int64) (int, error) {
		return t.indexTransactionByID(ctx, id, false)
	}

	drains := []func(ctx context.Context) error{
		func(ctx context.Context) error { return t.drainIDs(ctx, PurgeTransaction, t.purgeTransaction, pace) },
		func(ctx context.Context) error { return t.drainIDs(ctx, PurgeNode, t.purgeNode, pace) },
		func(ctx context.Context) error { return t.drainIDs(ctx, ReindexTransaction, reindexTransaction, pace) },
		func(ctx context.Context) error { return t.drainIDs(ctx, ReindexNode, t.reindexNode, pace) },
		t.drainQueries,
		func(ctx context.Context) error { return t.drainIDs(ctx, IndexTransaction, indexTransaction, pace) },
		func(ctx context.Context) error { return t.drainIDs(ctx, IndexNode, t.indexNode, pace) },
	}

	for _, drain := range drains {
		if err := drain(ctx); err != nil {
			pace.flush()
			return err
		}
	}
	pace.flush()
	return nil
}

func (t *Tracker) drainIDs(ctx context.Context, kind MaintenanceKind,
	action func(ctx context.Context, id int64) (int, error), pace *pacer,
) error {
	queue := t.idQueue(kind)
	for {
		if err := t.checkShutdown(ctx); err != nil {
			return err
		}
		id, ok := queue.poll()
		if !ok {
			return nil
		}

		docs, err := action(ctx, id)
		if err != nil {
			queue.offer(id)
			return pkgerrors.Wrapf(err, "%s %d", kind, id)
		}
		t.metrics.MaintenanceDone(t.shard, kind.String())
		pace.add(docs)
	}
}

func (t *Tracker) drainQueries(ctx context.Context) error {
	for {
		if err := t.checkShutdown(ctx); err != nil {
			return err
		}
		query, ok := t.queriesToReindex.poll()
		if !ok {
			return nil
		}

		if err := t.index.ReindexByQuery(ctx, query); err != nil {
			t.queriesToReindex.offer(query)
			return pkgerrors.Wrapf(err, "%s %q", ReindexQuery, query)
		}
		t.logger.WithField("query", query).Info("reindexed nodes of query")
		t.metrics.MaintenanceDone(t.shard, ReindexQuery.String())
	}
}

func (t *Tracker) purgeTransaction(ctx context.Context, id int64) (int, error) {
	if err := t.index.DeleteByTransactionID(ctx, id); err != nil {
		return 0, err
	}
	t.logger.WithField("txn_id", id).Info("purged transaction")
	return 0, nil
}

func (t *Tracker) purgeNode(ctx context.Context, id int64) (int, error) {
	if err := t.index.DeleteByNodeID(ctx, id); err != nil {
		return 0, err
	}
	t.logger.WithField("node_id", id).Info("purged node")
	return 0, nil
}

func (t *Tracker) reindexNode(ctx context.Context, id int64) (int, error) {
	if err := t.index.DeleteByNodeID(ctx, id); err != nil {
		return 0, err
	}
	if err := t.index.IndexNode(ctx, txn.Placeholder(id), true); err != nil {
		return 0, err
	}
	t.logger.WithField("node_id", id).Info("reindexed node")
	return 1, nil
}

func (t *Tracker) indexNode(ctx context.Context, id int64) (int, error) {
	if err := t.index.IndexNode(ctx, txn.Placeholder(id), false); err != nil {
		return 0, err
	}
	t.logger.WithField("node_id", id).Info("indexed node")
	return 1, nil
}

// indexTransactionByID (re)indexes a single transaction with its nodes. A
// reindex removes whatever the index holds for the transaction first, so
// that deletes are not missed. Transactions the repository no longer knows
// are skipped.
func (t *Tracker) indexTransactionByID(ctx context.Context, id int64, reindex bool) (int, error) {
	logger := t.logger.WithFields(logrus.Fields{"txn_id": id, "reindex": reindex})

	if reindex {
		if err := t.index.DeleteByTransactionID(ctx, id); err != nil {
			return 0, err
		}
	}

	tx, found, err := t.transactionByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if !found {
		logger.Info("transaction was not found in repository, it has not been indexed")
		return 0, nil
	}

	nodes, err := t.getNodes(ctx, NodeQuery{TransactionIDs: []int64{id}, Shard: t.shardHint()})
	if err != nil {
		return 0, err
	}
	records := sharding.Filter(nodes, t.router, t.config.CascadeTrackingEnabled)
	if len(records) > 0 {
		if err := t.index.IndexNodes(ctx, records, reindex); err != nil {
			return 0, err
		}
	}

	if err := t.index.IndexTransaction(ctx, tx, reindex); err != nil {
		return 0, err
	}
	t.metrics.TransactionsDone(t.shard, 1)
	logger.WithField("nodes", len(records)).Info("indexed transaction")
	return len(nodes), nil
}

func (t *Tracker) transactionByID(ctx context.Context, id int64) (txn.Transaction, bool, error) {
	batch, err := t.getTransactions(ctx, TxnQuery{
		FromID: ptr(id),
		ToID:   ptr(id + 1),
		Limit:  1,
	})
	if err != nil {
		return txn.Transaction{}, false, err
	}
	if batch.Len() == 0 || batch.Transactions[0].ID != id {
		return txn.Transaction{}, false, nil
	}
	return batch.Transactions[0], true, nil
}

// pacer records the throughput of maintenance indexing. A measurement is
// closed once enough documents were written and the index has capacity for
// another searcher.
type pacer struct {
	t       *Tracker
	start   time.Time
	docs    int
	pending bool
}

func newPacer(t *Tracker) *pacer {
	return &pacer{t: t, start: time.Now()}
}

func (p *pacer) add(docs int) {
	if docs == 0 {
		return
	}
	p.docs += docs
	p.pending = true

	if p.docs > p.t.config.MaintenanceBatchCount &&
		p.t.index.RegisteredReaderCount() < p.t.config.MaxLiveSearchers {
		p.flush()
	}
}

func (p *pacer) flush() {
	if !p.pending {
		return
	}
	p.t.metrics.ObserveBatch(p.t.shard, p.start)
	p.start = time.Now()
	p.docs = 0
	p.pending = false
}
