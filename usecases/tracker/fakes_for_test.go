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
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/sroar"

	enterrors "github.com/weaviate/tracker/entities/errors"
	entsync "github.com/weaviate/tracker/entities/sync"
	"github.com/weaviate/tracker/entities/txn"
	"github.com/weaviate/tracker/usecases/config"
	"github.com/weaviate/tracker/usecases/monitoring"
	"github.com/weaviate/tracker/usecases/sharding"
)

// testNow is the fixed clock of all tests, with the default lag of one
// second nothing committed after 999_000 is indexed.
var testNow = time.UnixMilli(1_000_000)

type fakeRepository struct {
	sync.Mutex
	transactions []txn.Transaction
	nodes        map[int64][]txn.Node

	// transientFailures fail the next calls with a retryable error
	transientFailures int
	err               error

	txnQueries  []TxnQuery
	nodeQueries []NodeQuery
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{nodes: map[int64][]txn.Node{}}
}

// commit adds a transaction which updates the given nodes.
func (r *fakeRepository) commit(id, commitTimeMs int64, nodes ...txn.Node) txn.Transaction {
	r.Lock()
	defer r.Unlock()

	tx := txn.Transaction{ID: id, CommitTimeMs: commitTimeMs}
	for i := range nodes {
		nodes[i].TxnID = id
		if nodes[i].Status == txn.StatusUnknown {
			nodes[i].Status = txn.StatusUpdated
		}
		if nodes[i].Status == txn.StatusDeleted {
			tx.Deletes++
		} else {
			tx.Updates++
		}
	}
	r.transactions = append(r.transactions, tx)
	r.nodes[id] = append(r.nodes[id], nodes...)
	return tx
}

func (r *fakeRepository) failure() error {
	if r.err != nil {
		return r.err
	}
	if r.transientFailures > 0 {
		r.transientFailures--
		return enterrors.NewTransient(fmt.Errorf("repository unreachable"))
	}
	return nil
}

func (r *fakeRepository) sorted() []txn.Transaction {
	sorted := append([]txn.Transaction(nil), r.transactions...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[j].After(sorted[i].CommitTimeMs, sorted[i].ID)
	})
	return sorted
}

func (r *fakeRepository) GetTransactions(ctx context.Context, q TxnQuery) (txn.Batch, error) {
	r.Lock()
	defer r.Unlock()

	r.txnQueries = append(r.txnQueries, q)
	if err := r.failure(); err != nil {
		return txn.EmptyBatch(), err
	}

	batch := txn.EmptyBatch()
	for _, tx := range r.sorted() {
		batch.MaxCommitTime = max(batch.MaxCommitTime, tx.CommitTimeMs)
		batch.MaxID = max(batch.MaxID, tx.ID)

		if q.FromCommitTime != nil && tx.CommitTimeMs < *q.FromCommitTime ||
			q.ToCommitTime != nil && tx.CommitTimeMs >= *q.ToCommitTime ||
			q.FromID != nil && tx.ID < *q.FromID ||
			q.ToID != nil && tx.ID >= *q.ToID {
			continue
		}
		if q.Limit > 0 && len(batch.Transactions) == q.Limit {
			continue
		}
		batch.Transactions = append(batch.Transactions, tx)
	}
	return batch, nil
}

func (r *fakeRepository) GetNodes(ctx context.Context, q NodeQuery) ([]txn.Node, error) {
	r.Lock()
	defer r.Unlock()

	r.nodeQueries = append(r.nodeQueries, q)
	if err := r.failure(); err != nil {
		return nil, err
	}

	var nodes []txn.Node
	if len(q.TransactionIDs) > 0 {
		for _, id := range q.TransactionIDs {
			nodes = append(nodes, r.nodes[id]...)
		}
	} else {
		for _, tx := range r.sorted() {
			for _, n := range r.nodes[tx.ID] {
				if q.FromNodeID != nil && n.ID < *q.FromNodeID || q.ToNodeID != nil && n.ID > *q.ToNodeID {
					continue
				}
				nodes = append(nodes, n)
			}
		}
	}
	if q.Limit > 0 && len(nodes) > q.Limit {
		nodes = nodes[:q.Limit]
	}
	return nodes, nil
}

func (r *fakeRepository) queriedTransactions() []TxnQuery {
	r.Lock()
	defer r.Unlock()
	return append([]TxnQuery(nil), r.txnQueries...)
}

// fakeRepositoryWithNextCommitTime can jump over gaps in the history.
type fakeRepositoryWithNextCommitTime struct {
	*fakeRepository
	nextCalls int
}

func (r *fakeRepositoryWithNextCommitTime) NextCommitTimeAfter(ctx context.Context,
	shard string, commitTimeMs int64,
) (int64, error) {
	r.Lock()
	defer r.Unlock()

	r.nextCalls++
	for _, tx := range r.sorted() {
		if tx.CommitTimeMs >= commitTimeMs {
			return tx.CommitTimeMs, nil
		}
	}
	return -1, nil
}

// fakeRangeRepository knows the commit time interval of node id ranges.
type fakeRangeRepository struct {
	*fakeRepository
}

func (r *fakeRangeRepository) CommitTimeInterval(ctx context.Context,
	shard string, startID, endID int64,
) (int64, int64, error) {
	r.Lock()
	defer r.Unlock()

	first, last := int64(-1), int64(-1)
	for _, tx := range r.sorted() {
		for _, n := range r.nodes[tx.ID] {
			if n.ID < startID || n.ID >= endID {
				continue
			}
			if first == -1 {
				first = tx.CommitTimeMs
			}
			last = tx.CommitTimeMs
		}
	}
	return first, last, nil
}

type fakeIndex struct {
	sync.Mutex
	nodes        map[int64]txn.Node
	transactions map[int64]txn.Transaction
	// docCounts overrides the number of records of a transaction
	docCounts map[int64]int
	queries   []string
	ops       []string

	failNodes        error
	failTransactions error
	failDeletes      error
	indexCap         int64
	capped           []int64
	readers          int
	cleared          bool
	lookups          int
	afterTransaction func(id int64)
	afterNodes       func()
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		nodes:        map[int64]txn.Node{},
		transactions: map[int64]txn.Transaction{},
		docCounts:    map[int64]int{},
		indexCap:     -1,
	}
}

func (i *fakeIndex) IndexNode(ctx context.Context, node txn.Node, reindex bool) error {
	return i.IndexNodes(ctx, []txn.Node{node}, reindex)
}

func (i *fakeIndex) IndexNodes(ctx context.Context, nodes []txn.Node, reindex bool) error {
	i.Lock()
	if i.failNodes != nil {
		i.Unlock()
		return i.failNodes
	}
	for _, n := range nodes {
		i.nodes[n.ID] = n
		i.ops = append(i.ops, fmt.Sprintf("node %d", n.ID))
	}
	hook := i.afterNodes
	i.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (i *fakeIndex) IndexTransaction(ctx context.Context, tx txn.Transaction, reindex bool) error {
	i.Lock()
	if i.failTransactions != nil {
		i.Unlock()
		return i.failTransactions
	}
	i.transactions[tx.ID] = tx
	i.ops = append(i.ops, fmt.Sprintf("txn %d", tx.ID))
	hook := i.afterTransaction
	i.Unlock()

	if hook != nil {
		hook(tx.ID)
	}
	return nil
}

func (i *fakeIndex) DeleteByTransactionID(ctx context.Context, id int64) error {
	i.Lock()
	defer i.Unlock()

	if i.failDeletes != nil {
		return i.failDeletes
	}
	delete(i.transactions, id)
	for nodeID, n := range i.nodes {
		if n.TxnID == id {
			delete(i.nodes, nodeID)
		}
	}
	i.ops = append(i.ops, fmt.Sprintf("delete txn %d", id))
	return nil
}

func (i *fakeIndex) DeleteByNodeID(ctx context.Context, id int64) error {
	i.Lock()
	defer i.Unlock()

	if i.failDeletes != nil {
		return i.failDeletes
	}
	delete(i.nodes, id)
	i.ops = append(i.ops, fmt.Sprintf("delete node %d", id))
	return nil
}

func (i *fakeIndex) ReindexByQuery(ctx context.Context, query string) error {
	i.Lock()
	defer i.Unlock()

	i.queries = append(i.queries, query)
	i.ops = append(i.ops, fmt.Sprintf("query %s", query))
	return nil
}

func (i *fakeIndex) IsTransactionIndexed(ctx context.Context, id int64, exact bool) (bool, error) {
	i.Lock()
	defer i.Unlock()

	i.lookups++
	_, ok := i.transactions[id]
	return ok, nil
}

func (i *fakeIndex) TransactionDocCount(ctx context.Context, id, commitTimeMs int64) (int, error) {
	i.Lock()
	defer i.Unlock()

	if count, ok := i.docCounts[id]; ok {
		return count, nil
	}
	if tx, ok := i.transactions[id]; ok && tx.CommitTimeMs == commitTimeMs {
		return 1, nil
	}
	return 0, nil
}

func (i *fakeIndex) MaxIndexedTransaction(ctx context.Context) (txn.Transaction, error) {
	i.Lock()
	defer i.Unlock()

	var last txn.Transaction
	for _, tx := range i.transactions {
		if tx.After(last.CommitTimeMs, last.ID) {
			last = tx
		}
	}
	return last, nil
}

func (i *fakeIndex) IndexedTransactionIDs(ctx context.Context, fromID, toID int64) (*sroar.Bitmap, error) {
	i.Lock()
	defer i.Unlock()

	ids := sroar.NewBitmap()
	for id := range i.transactions {
		if id >= fromID && id <= toID {
			ids.Set(uint64(id))
		}
	}
	return ids, nil
}

func (i *fakeIndex) RegisteredReaderCount() int {
	i.Lock()
	defer i.Unlock()
	return i.readers
}

func (i *fakeIndex) IndexCap(ctx context.Context) (int64, error) {
	i.Lock()
	defer i.Unlock()
	return i.indexCap, nil
}

func (i *fakeIndex) CapIndex(ctx context.Context, end int64) error {
	i.Lock()
	defer i.Unlock()

	i.indexCap = end
	i.capped = append(i.capped, end)
	return nil
}

func (i *fakeIndex) NodeIDStats(ctx context.Context, startID, endID int64) (sharding.NodeIDStats, error) {
	i.Lock()
	defer i.Unlock()

	var stats sharding.NodeIDStats
	for id := range i.nodes {
		if id < startID || id >= endID {
			continue
		}
		if stats.NodeCount == 0 || id < stats.MinID {
			stats.MinID = id
		}
		stats.MaxID = max(stats.MaxID, id)
		stats.NodeCount++
	}
	return stats, nil
}

func (i *fakeIndex) ClearProcessedTransactions() {
	i.Lock()
	defer i.Unlock()
	i.cleared = true
}

func (i *fakeIndex) hasTransaction(id int64) bool {
	i.Lock()
	defer i.Unlock()
	_, ok := i.transactions[id]
	return ok
}

func (i *fakeIndex) node(id int64) (txn.Node, bool) {
	i.Lock()
	defer i.Unlock()
	n, ok := i.nodes[id]
	return n, ok
}

func (i *fakeIndex) operations() []string {
	i.Lock()
	defer i.Unlock()
	return append([]string(nil), i.ops...)
}

type fakeStore struct {
	sync.Mutex
	states map[string]State
	loads  int
	saves  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: map[string]State{}}
}

func (s *fakeStore) LoadState(ctx context.Context, shard string) (State, error) {
	s.Lock()
	defer s.Unlock()
	s.loads++
	return s.states[shard], nil
}

func (s *fakeStore) loadCount() int {
	s.Lock()
	defer s.Unlock()
	return s.loads
}

func (s *fakeStore) SaveState(ctx context.Context, shard string, state State) error {
	s.Lock()
	defer s.Unlock()
	s.states[shard] = state
	s.saves++
	return nil
}

func (s *fakeStore) only(t *testing.T) State {
	t.Helper()
	s.Lock()
	defer s.Unlock()
	require.Len(t, s.states, 1)
	for _, state := range s.states {
		return state
	}
	return State{}
}

func testConfig() config.Tracker {
	cfg := config.DefaultTracker()
	cfg.Parallelism = 4
	cfg.NodeBatchSize = 2
	return cfg
}

type testEnv struct {
	tracker *Tracker
	repo    RepositoryClient
	index   *fakeIndex
	store   *fakeStore
	locks   *entsync.LockRegistry
	logs    *test.Hook
	metrics *monitoring.TrackerMetrics
}

func newTestEnv(t *testing.T, cfg config.Tracker, repo RepositoryClient, opts ...Option) *testEnv {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	env := &testEnv{
		repo:    repo,
		index:   newFakeIndex(),
		store:   newFakeStore(),
		locks:   entsync.NewLockRegistry(),
		logs:    hook,
		metrics: monitoring.NewTrackerMetrics(nil),
	}

	opts = append([]Option{
		WithClock(func() time.Time { return testNow }),
		WithBackOff(func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 5)
		}),
	}, opts...)

	tracker, err := New(cfg, Dependencies{
		Repository: repo,
		Index:      env.index,
		Store:      env.store,
		Locks:      env.locks,
		Metrics:    env.metrics,
		Logger:     logger,
	}, opts...)
	require.NoError(t, err)
	env.tracker = tracker
	return env
}

func (e *testEnv) hasLog(level logrus.Level, msg string) bool {
	for _, entry := range e.logs.AllEntries() {
		if entry.Level == level && entry.Message == msg {
			return true
		}
	}
	return false
}

func updated(id, aclID int64) txn.Node {
	return txn.Node{ID: id, AclID: aclID, Status: txn.StatusUpdated, NodeRef: fmt.Sprintf("workspace://SpacesStore/%d", id)}
}

func deleted(id, aclID int64) txn.Node {
	return txn.Node{ID: id, AclID: aclID, Status: txn.StatusDeleted, NodeRef: fmt.Sprintf("workspace://SpacesStore/%d", id)}
}
