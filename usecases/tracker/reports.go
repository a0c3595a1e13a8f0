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

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/weaviate/sroar"

	"github.com/weaviate/tracker/entities/txn"
	"github.com/weaviate/tracker/usecases/sharding"
)

const (
	// NodeNotFound is reported as transaction of a node the repository does
	// not know
	NodeNotFound = int64(-1)
	// NodeLookupFailed is reported as transaction when the repository could
	// not be asked
	NodeLookupFailed = int64(-2)
)

// NodeReport is what the repository knows about a node.
type NodeReport struct {
	NodeID   int64          `json:"dbid"`
	DBStatus txn.NodeStatus `json:"dbNodeStatus"`
	DBTxnID  int64          `json:"dbTx"`
}

func (t *Tracker) CheckNode(ctx context.Context, id int64) NodeReport {
	report := NodeReport{NodeID: id, DBStatus: txn.StatusUnknown, DBTxnID: NodeNotFound}

	nodes, err := t.getNodes(ctx, NodeQuery{FromNodeID: ptr(id), ToNodeID: ptr(id), Limit: 1})
	if err != nil {
		t.logger.WithError(err).WithField("node_id", id).Warn("could not check node in repository")
		report.DBTxnID = NodeLookupFailed
		return report
	}
	if len(nodes) == 1 {
		report.DBStatus = nodes[0].Status
		report.DBTxnID = nodes[0].TxnID
	}
	return report
}

// FullNodesForTransaction returns every node the repository lists for the
// transaction, regardless of the shard.
func (t *Tracker) FullNodesForTransaction(ctx context.Context, id int64) ([]txn.Node, error) {
	return t.getNodes(ctx, NodeQuery{TransactionIDs: []int64{id}})
}

// IndexCheck bounds the transactions compared by CheckIndex. Nil fields are
// unbounded.
type IndexCheck struct {
	ToTxnID  *int64
	FromTime *int64
	ToTime   *int64
}

// IndexHealthReport compares the transactions of the repository with the
// transaction records of the index.
type IndexHealthReport struct {
	DBTransactionCount      int     `json:"dbTransactionCount"`
	MinTxnID                int64   `json:"minDbTxId"`
	MaxTxnID                int64   `json:"maxDbTxId"`
	IndexedTransactionCount int     `json:"indexedTransactionCount"`
	MissingFromIndex        []int64 `json:"missingFromIndex"`
	// UnknownToRepository counts transaction records of the index within
	// [MinTxnID, MaxTxnID] the repository did not list
	UnknownToRepository int `json:"unknownToRepository"`
}

// CheckIndex walks the repository transactions with the same window fetch
// the tracker uses and reports the ones missing from the index.
func (t *Tracker) CheckIndex(ctx context.Context, check IndexCheck) (IndexHealthReport, error) {
	var report IndexHealthReport

	lastCommitTime := int64(0)
	first, err := t.firstTransactions(ctx)
	if err != nil {
		return report, err
	}
	if first.Len() > 0 {
		lastCommitTime = first.Transactions[0].CommitTimeMs
	}
	if check.FromTime != nil {
		lastCommitTime = *check.FromTime
	}

	inRepository := sroar.NewBitmap()
	recent := newRecentWindow(t.config.RecentlySeenSize)
	endTime := t.nowMs() + t.config.HoleRetention.Milliseconds()
	minTxnID, maxTxnID := int64(-1), int64(0)

walk:
	for {
		batch, err := t.someTransactions(ctx, recent, lastCommitTime, endTime)
		if err != nil {
			return report, err
		}
		if batch.Len() == 0 {
			break
		}

		for _, tx := range batch.Transactions {
			if check.ToTime != nil && tx.CommitTimeMs > *check.ToTime {
				break walk
			}
			if check.ToTxnID != nil && tx.ID > *check.ToTxnID {
				break walk
			}

			if minTxnID == -1 || tx.ID < minTxnID {
				minTxnID = tx.ID
			}
			maxTxnID = max(maxTxnID, tx.ID)
			lastCommitTime = tx.CommitTimeMs
			inRepository.Set(uint64(tx.ID))
			recent.add(tx)
		}
	}

	report.DBTransactionCount = inRepository.GetCardinality()
	if report.DBTransactionCount == 0 {
		return report, nil
	}
	report.MinTxnID, report.MaxTxnID = minTxnID, maxTxnID

	inIndex, err := t.index.IndexedTransactionIDs(ctx, minTxnID, maxTxnID)
	if err != nil {
		return report, pkgerrors.Wrap(err, "read indexed transaction ids")
	}
	report.IndexedTransactionCount = inIndex.GetCardinality()

	missing := inRepository.Clone().AndNot(inIndex)
	report.MissingFromIndex = make([]int64, 0, missing.GetCardinality())
	for _, id := range missing.ToArray() {
		report.MissingFromIndex = append(report.MissingFromIndex, int64(id))
	}
	report.UnknownToRepository = inIndex.Clone().AndNot(inRepository).GetCardinality()

	t.logger.WithFields(logrus.Fields{
		"transactions": report.DBTransactionCount,
		"missing":      len(report.MissingFromIndex),
	}).Info("checked index against repository")
	return report, nil
}

// RangeCheck reports the fill level of a DB_ID_RANGE shard and how much its
// range should grow.
func (t *Tracker) RangeCheck(ctx context.Context) (sharding.RangeReport, error) {
	if t.rangeRouter == nil {
		return sharding.RangeReport{}, ErrNotRangeSharded
	}

	stats, err := t.rangeStats(ctx)
	if err != nil {
		return sharding.RangeReport{}, err
	}
	return t.rangeRouter.Check(stats), nil
}

// ExpandRange grows the node id range of the shard by the given amount and
// returns the new end. A rejected expansion returns
// sharding.ExpandRejected and the reason.
func (t *Tracker) ExpandRange(ctx context.Context, by int64) (int64, error) {
	if t.rangeRouter == nil {
		return sharding.ExpandRejected, ErrNotRangeSharded
	}

	if err := t.lock.Lock(ctx); err != nil {
		return sharding.ExpandRejected, fmt.Errorf("%w: acquire write lock: %w", ErrShutdown, err)
	}
	defer t.lock.Unlock()

	stats, err := t.rangeStats(ctx)
	if err != nil {
		return sharding.ExpandRejected, err
	}

	end, err := t.rangeRouter.Expand(by, stats, func(newEnd int64) error {
		return t.index.CapIndex(ctx, newEnd)
	})
	logger := t.logger.WithFields(logrus.Fields{"by": by, "max_dbid": stats.MaxID})
	switch {
	case err == nil:
		logger.WithField("end", end).Info("expanded node id range")
	case errors.Is(err, ErrExpansionUnsafe), errors.Is(err, ErrAlreadyExpanded):
		logger.WithError(err).Info("node id range expansion rejected")
	default:
		logger.WithError(err).Error("node id range expansion failed")
	}
	return end, err
}

// rangeStats reads the node id stats of the range. A range no cycle has
// initialized yet first takes over the cap of an earlier expansion.
func (t *Tracker) rangeStats(ctx context.Context) (sharding.NodeIDStats, error) {
	if !t.rangeRouter.Initialized() {
		if err := t.adoptIndexCap(ctx, t.logger); err != nil {
			return sharding.NodeIDStats{}, err
		}
	}

	rg := t.rangeRouter.Range()
	stats, err := t.index.NodeIDStats(ctx, rg.Start, rg.End)
	if err != nil {
		return sharding.NodeIDStats{}, pkgerrors.Wrap(err, "read node id stats of index")
	}
	return stats, nil
}
