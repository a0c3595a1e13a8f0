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

	"github.com/weaviate/sroar"

	"github.com/weaviate/tracker/entities/txn"
	"github.com/weaviate/tracker/usecases/sharding"
)

// TxnQuery selects committed transactions. Nil bounds are open, lower
// bounds are inclusive and upper bounds exclusive.
type TxnQuery struct {
	FromCommitTime *int64
	FromID         *int64
	ToCommitTime   *int64
	ToID           *int64
	Limit          int
	// Shard lets the repository skip transactions without nodes of the shard
	Shard *sharding.Config
}

// NodeQuery selects the nodes changed by the given transactions, or the
// nodes within an inclusive id range.
type NodeQuery struct {
	TransactionIDs []int64
	FromNodeID     *int64
	ToNodeID       *int64
	Shard          *sharding.Config
	// Limit of 0 means unbounded
	Limit int
}

// RepositoryClient is the query service of the content repository.
type RepositoryClient interface {
	GetTransactions(ctx context.Context, query TxnQuery) (txn.Batch, error)
	GetNodes(ctx context.Context, query NodeQuery) ([]txn.Node, error)
}

// NextCommitTimeFinder is implemented by repositories which can tell the
// first commit time at or after a given time. It returns -1 if there is
// none.
type NextCommitTimeFinder interface {
	NextCommitTimeAfter(ctx context.Context, shard string, commitTimeMs int64) (int64, error)
}

// CommitTimeIntervalFinder is implemented by repositories which can tell the
// commit time interval of the transactions touching a node id range. Both
// values are -1 if no node of the range exists.
type CommitTimeIntervalFinder interface {
	CommitTimeInterval(ctx context.Context, shard string, startID, endID int64) (minCommitTimeMs, maxCommitTimeMs int64, err error)
}

// Capabilities are the optional repository features a tracker uses. They
// are negotiated once when the tracker is built.
type Capabilities struct {
	NextCommitTime     bool
	CommitTimeInterval bool
}

// NegotiateCapabilities detects the optional interfaces of the client.
func NegotiateCapabilities(client RepositoryClient) Capabilities {
	_, next := client.(NextCommitTimeFinder)
	_, interval := client.(CommitTimeIntervalFinder)
	return Capabilities{NextCommitTime: next, CommitTimeInterval: interval}
}

// IndexWriter is the index engine of a single shard. All mutations are
// idempotent.
type IndexWriter interface {
	IndexNode(ctx context.Context, node txn.Node, reindex bool) error
	IndexNodes(ctx context.Context, nodes []txn.Node, reindex bool) error
	IndexTransaction(ctx context.Context, t txn.Transaction, reindex bool) error
	DeleteByTransactionID(ctx context.Context, id int64) error
	DeleteByNodeID(ctx context.Context, id int64) error
	ReindexByQuery(ctx context.Context, query string) error

	IsTransactionIndexed(ctx context.Context, id int64, exact bool) (bool, error)
	// TransactionDocCount counts the transaction records matching both id
	// and commit time
	TransactionDocCount(ctx context.Context, id, commitTimeMs int64) (int, error)
	MaxIndexedTransaction(ctx context.Context) (txn.Transaction, error)
	// IndexedTransactionIDs returns the ids of the transaction records
	// within the inclusive id range
	IndexedTransactionIDs(ctx context.Context, fromID, toID int64) (*sroar.Bitmap, error)
	RegisteredReaderCount() int

	// IndexCap is the end of a previously expanded node id range, -1 if the
	// index was never capped
	IndexCap(ctx context.Context) (int64, error)
	CapIndex(ctx context.Context, end int64) error
	NodeIDStats(ctx context.Context, startID, endID int64) (sharding.NodeIDStats, error)
}

// processedTransactionsClearer is implemented by index engines caching
// which transactions they have seen.
type processedTransactionsClearer interface {
	ClearProcessedTransactions()
}

// StateStore persists the cursor of every shard. LoadState returns the zero
// State for unknown shards.
type StateStore interface {
	LoadState(ctx context.Context, shard string) (State, error)
	SaveState(ctx context.Context, shard string, state State) error
}

func ptr(v int64) *int64 {
	return &v
}
