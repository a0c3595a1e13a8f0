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
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// MaintenanceKind identifies one of the maintenance queues. The order of the
// constants is the order in which the queues are drained.
type MaintenanceKind int

const (
	PurgeTransaction MaintenanceKind = iota
	PurgeNode
	ReindexTransaction
	ReindexNode
	ReindexQuery
	IndexTransaction
	IndexNode
)

func (k MaintenanceKind) String() string {
	switch k {
	case PurgeTransaction:
		return "purge_transaction"
	case PurgeNode:
		return "purge_node"
	case ReindexTransaction:
		return "reindex_transaction"
	case ReindexNode:
		return "reindex_node"
	case ReindexQuery:
		return "reindex_query"
	case IndexTransaction:
		return "index_transaction"
	case IndexNode:
		return "index_node"
	default:
		return "unknown"
	}
}

type fifo[T any] struct {
	sync.Mutex
	queue *linkedlistqueue.Queue
}

func newFIFO[T any]() *fifo[T] {
	return &fifo[T]{queue: linkedlistqueue.New()}
}

func (f *fifo[T]) offer(v T) {
	f.Lock()
	defer f.Unlock()

	f.queue.Enqueue(v)
}

func (f *fifo[T]) poll() (T, bool) {
	f.Lock()
	defer f.Unlock()

	v, ok := f.queue.Dequeue()
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

func (f *fifo[T]) size() int {
	f.Lock()
	defer f.Unlock()

	return f.queue.Size()
}

// MaintenanceQueues collect out of band requests. They accept any number of
// producers, the tracker is their only consumer.
type MaintenanceQueues struct {
	transactionsToPurge   *fifo[int64]
	nodesToPurge          *fifo[int64]
	transactionsToReindex *fifo[int64]
	nodesToReindex        *fifo[int64]
	queriesToReindex      *fifo[string]
	transactionsToIndex   *fifo[int64]
	nodesToIndex          *fifo[int64]
}

func NewMaintenanceQueues() *MaintenanceQueues {
	return &MaintenanceQueues{
		transactionsToPurge:   newFIFO[int64](),
		nodesToPurge:          newFIFO[int64](),
		transactionsToReindex: newFIFO[int64](),
		nodesToReindex:        newFIFO[int64](),
		queriesToReindex:      newFIFO[string](),
		transactionsToIndex:   newFIFO[int64](),
		nodesToIndex:          newFIFO[int64](),
	}
}

func (q *MaintenanceQueues) AddTransactionToPurge(id int64) {
	q.transactionsToPurge.offer(id)
}

func (q *MaintenanceQueues) AddNodeToPurge(id int64) {
	q.nodesToPurge.offer(id)
}

func (q *MaintenanceQueues) AddTransactionToReindex(id int64) {
	q.transactionsToReindex.offer(id)
}

func (q *MaintenanceQueues) AddNodeToReindex(id int64) {
	q.nodesToReindex.offer(id)
}

func (q *MaintenanceQueues) AddQueryToReindex(query string) {
	q.queriesToReindex.offer(query)
}

func (q *MaintenanceQueues) AddTransactionToIndex(id int64) {
	q.transactionsToIndex.offer(id)
}

func (q *MaintenanceQueues) AddNodeToIndex(id int64) {
	q.nodesToIndex.offer(id)
}

// Len returns the number of pending requests of the given kind.
func (q *MaintenanceQueues) Len(kind MaintenanceKind) int {
	switch kind {
	case PurgeTransaction:
		return q.transactionsToPurge.size()
	case PurgeNode:
		return q.nodesToPurge.size()
	case ReindexTransaction:
		return q.transactionsToReindex.size()
	case ReindexNode:
		return q.nodesToReindex.size()
	case ReindexQuery:
		return q.queriesToReindex.size()
	case IndexTransaction:
		return q.transactionsToIndex.size()
	case IndexNode:
		return q.nodesToIndex.size()
	default:
		return 0
	}
}

func (q *MaintenanceQueues) HasMaintenance() bool {
	for kind := PurgeTransaction; kind <= IndexNode; kind++ {
		if q.Len(kind) > 0 {
			return true
		}
	}
	return false
}

// idQueue returns the queue of every kind but ReindexQuery
func (q *MaintenanceQueues) idQueue(kind MaintenanceKind) *fifo[int64] {
	switch kind {
	case PurgeTransaction:
		return q.transactionsToPurge
	case PurgeNode:
		return q.nodesToPurge
	case ReindexTransaction:
		return q.transactionsToReindex
	case ReindexNode:
		return q.nodesToReindex
	case IndexTransaction:
		return q.transactionsToIndex
	case IndexNode:
		return q.nodesToIndex
	default:
		return nil
	}
}
