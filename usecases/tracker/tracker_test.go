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
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaviate/tracker/entities/txn"
	"github.com/weaviate/tracker/usecases/sharding"
)

func TestTrackFreshIndex(t *testing.T) {
	repo := newFakeRepository()
	repo.commit(1, 1000, updated(10, 1), updated(11, 1))

	env := newTestEnv(t, testConfig(), repo)
	ctx := context.Background()

	require.NoError(t, env.tracker.Track(ctx))

	for _, id := range []int64{10, 11} {
		node, ok := env.index.node(id)
		require.True(t, ok, "node %d indexed", id)
		assert.Equal(t, txn.StatusUpdated, node.Status)
		assert.Equal(t, int64(1), node.TxnID)
	}
	assert.True(t, env.index.hasTransaction(1))

	state := env.store.only(t)
	assert.Equal(t, int64(1000), state.LastIndexedTxCommitTime)
	assert.Equal(t, int64(1), state.LastIndexedTxID)
	assert.Equal(t, int64(1000), state.LastGoodTxCommitTimeInIndex)
	assert.Equal(t, int64(1000), state.LastTxCommitTimeOnServer)
	assert.Equal(t, int64(1), state.LastTxIDOnServer)
	assert.Equal(t, int64(999_000), state.TimeToStopIndexing)
	assert.Equal(t, int64(1), state.TrackerCycles)
	assert.True(t, state.CheckedFirstTransactionTime)
	assert.True(t, state.CheckedLastTransactionTime)

	assert.Equal(t, PhaseIdle, env.tracker.Phase())
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.TransactionsIndexed.WithLabelValues(env.tracker.Shard())))
	assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.NodesIndexed.WithLabelValues(env.tracker.Shard(), "owned")))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.Cycles.WithLabelValues(env.tracker.Shard(), "ok")))
}

func TestTransactionRecordsFollowTheirNodes(t *testing.T) {
	repo := newFakeRepository()
	repo.commit(1, 1000, updated(10, 1), updated(11, 1), updated(12, 1))
	repo.commit(2, 2000, deleted(13, 1), updated(14, 1))

	env := newTestEnv(t, testConfig(), repo)
	require.NoError(t, env.tracker.Track(context.Background()))

	ops := env.index.operations()
	require.Len(t, ops, 7)
	for _, op := range ops[:5] {
		assert.True(t, strings.HasPrefix(op, "node "), op)
	}
	assert.Equal(t, []string{"txn 1", "txn 2"}, ops[5:])

	node, ok := env.index.node(13)
	require.True(t, ok)
	assert.Equal(t, txn.StatusDeleted, node.Status)
}

func TestUnchangedRepositoryWritesNothing(t *testing.T) {
	repo := newFakeRepository()
	repo.commit(1, 1000, updated(10, 1), updated(11, 1))

	env := newTestEnv(t, testConfig(), repo)
	ctx := context.Background()

	require.NoError(t, env.tracker.Track(ctx))
	ops := env.index.operations()
	require.Len(t, ops, 3)

	require.NoError(t, env.tracker.Track(ctx))
	assert.Equal(t, ops, env.index.operations())

	state := env.store.only(t)
	assert.Equal(t, int64(1000), state.LastIndexedTxCommitTime)
	assert.Equal(t, int64(1), state.LastIndexedTxID)
	assert.Equal(t, int64(2), state.TrackerCycles)
}

func TestNothingCommittedWithinLagIsIndexed(t *testing.T) {
	repo := newFakeRepository()
	repo.commit(1, 998_000, updated(10, 1))
	repo.commit(2, 999_500, updated(20, 1))

	now := testNow
	env := newTestEnv(t, testConfig(), repo, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, env.tracker.Track(ctx))
	assert.True(t, env.index.hasTransaction(1))
	assert.False(t, env.index.hasTransaction(2))
	_, ok := env.index.node(20)
	assert.False(t, ok)

	state := env.store.only(t)
	assert.Equal(t, int64(998_000), state.LastIndexedTxCommitTime)
	assert.Equal(t, int64(999_000), state.TimeToStopIndexing)

	now = now.Add(time.Second)
	require.NoError(t, env.tracker.Track(ctx))
	assert.True(t, env.index.hasTransaction(2))

	state = env.store.only(t)
	assert.Equal(t, int64(999_500), state.LastIndexedTxCommitTime)
	assert.Equal(t, int64(2), state.LastIndexedTxID)
}

func TestCursorNeverMovesBackwards(t *testing.T) {
	repo := newFakeRepository()
	env := newTestEnv(t, testConfig(), repo)
	ctx := context.Background()

	var prev State
	for i := int64(1); i <= 5; i++ {
		repo.commit(i, i*1000, updated(i*10, 1))
		// an unchanged repository in between
		for j := 0; j < 2; j++ {
			require.NoError(t, env.tracker.Track(ctx))

			state := env.store.only(t)
			next := txn.Transaction{ID: state.LastIndexedTxID, CommitTimeMs: state.LastIndexedTxCommitTime}
			assert.False(t, txn.Transaction{ID: prev.LastIndexedTxID, CommitTimeMs: prev.LastIndexedTxCommitTime}.
				After(next.CommitTimeMs, next.ID), "cursor moved from %s to %s", prev, state)
			assert.Equal(t, i, state.LastIndexedTxID)
			prev = state
		}
	}
}

func TestReplayIsIdempotent(t *testing.T) {
	repo := newFakeRepository()
	repo.commit(1, 1000, updated(10, 1), updated(11, 2))
	repo.commit(2, 2000, deleted(13, 1))
	repo.commit(3, 3000, updated(12, 3))

	env := newTestEnv(t, testConfig(), repo)
	ctx := context.Background()

	require.NoError(t, env.tracker.Track(ctx))
	nodes, transactions := copyIndex(env.index)

	// a rolled back index starts from scratch with the same content
	env.store.Lock()
	env.store.states = map[string]State{}
	env.store.Unlock()
	env.tracker.InvalidateState()

	require.NoError(t, env.tracker.Track(ctx))
	replayedNodes, replayedTransactions := copyIndex(env.index)
	assert.Equal(t, nodes, replayedNodes)
	assert.Equal(t, transactions, replayedTransactions)
	assert.True(t, env.index.cleared)
}

func copyIndex(i *fakeIndex) (map[int64]txn.Node, map[int64]txn.Transaction) {
	i.Lock()
	defer i.Unlock()

	nodes := make(map[int64]txn.Node, len(i.nodes))
	for k, v := range i.nodes {
		nodes[k] = v
	}
	transactions := make(map[int64]txn.Transaction, len(i.transactions))
	for k, v := range i.transactions {
		transactions[k] = v
	}
	return nodes, transactions
}

func TestOwnershipAndCascade(t *testing.T) {
	build := func(t *testing.T, cascade bool) *testEnv {
		repo := newFakeRepository()
		repo.commit(1, 1000,
			updated(10, 2),
			updated(11, 3),
			deleted(12, 5),
			deleted(13, 4),
		)

		cfg := testConfig()
		cfg.Shard = sharding.Config{Method: sharding.MethodModACLID, Count: 2, Instance: 0}
		cfg.CascadeTrackingEnabled = cascade
		env := newTestEnv(t, cfg, repo)
		require.NoError(t, env.tracker.Track(context.Background()))
		return env
	}

	t.Run("with cascade tracking", func(t *testing.T) {
		env := build(t, true)

		owned, ok := env.index.node(10)
		require.True(t, ok)
		assert.Equal(t, txn.StatusUpdated, owned.Status)

		cascaded, ok := env.index.node(11)
		require.True(t, ok)
		assert.Equal(t, txn.StatusNonShardUpdated, cascaded.Status)
		assert.Equal(t, int64(3), cascaded.AclID)

		cascaded, ok = env.index.node(12)
		require.True(t, ok)
		assert.Equal(t, txn.StatusNonShardDeleted, cascaded.Status)

		owned, ok = env.index.node(13)
		require.True(t, ok)
		assert.Equal(t, txn.StatusDeleted, owned.Status)

		shard := env.tracker.Shard()
		assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.NodesIndexed.WithLabelValues(shard, "owned")))
		assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.NodesIndexed.WithLabelValues(shard, "cascade_updated")))
		assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.NodesIndexed.WithLabelValues(shard, "cascade_deleted")))
	})

	t.Run("without cascade tracking", func(t *testing.T) {
		env := build(t, false)

		for id, indexed := range map[int64]bool{10: true, 11: false, 12: false, 13: true} {
			_, ok := env.index.node(id)
			assert.Equal(t, indexed, ok, "node %d", id)
		}
		assert.True(t, env.index.hasTransaction(1))
	})
}

func TestNodeFailureRequestsRollback(t *testing.T) {
	repo := newFakeRepository()
	repo.commit(1, 1000, updated(10, 1), updated(11, 1), updated(12, 1))

	env := newTestEnv(t, testConfig(), repo)
	errDiskFull := errors.New("disk full")
	env.index.failNodes = errDiskFull

	err := env.tracker.Track(context.Background())
	require.ErrorIs(t, err, errDiskFull)

	requested, cause := env.tracker.RollbackRequested()
	assert.True(t, requested)
	assert.ErrorIs(t, cause, errDiskFull)
	assert.False(t, env.index.hasTransaction(1))

	state := env.store.only(t)
	assert.Equal(t, int64(0), state.LastIndexedTxID)
	assert.Equal(t, int64(0), state.LastIndexedTxCommitTime)
	assert.Equal(t, int64(0), state.TrackerCycles)

	shard := env.tracker.Shard()
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.Rollbacks.WithLabelValues(shard)))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.Cycles.WithLabelValues(shard, "failed")))

	// the next cycle retries the same window
	env.tracker.ClearRollback()
	env.index.Lock()
	env.index.failNodes = nil
	env.index.Unlock()

	require.NoError(t, env.tracker.Track(context.Background()))
	requested, _ = env.tracker.RollbackRequested()
	assert.False(t, requested)
	assert.True(t, env.index.hasTransaction(1))
	assert.Equal(t, int64(1), env.store.only(t).LastIndexedTxID)
}

func TestTransactionRecordFailureRequestsRollback(t *testing.T) {
	repo := newFakeRepository()
	repo.commit(1, 1000, updated(10, 1))

	env := newTestEnv(t, testConfig(), repo)
	env.index.failTransactions = errors.New("commit failed")

	require.Error(t, env.tracker.Track(context.Background()))
	requested, _ := env.tracker.RollbackRequested()
	assert.True(t, requested)
	assert.Equal(t, int64(0), env.store.only(t).LastIndexedTxID)
}

func TestTransientRepositoryFailuresAreRetried(t *testing.T) {
	repo := newFakeRepository()
	repo.commit(1, 1000, updated(10, 1))
	repo.transientFailures = 2

	env := newTestEnv(t, testConfig(), repo)
	require.NoError(t, env.tracker.Track(context.Background()))
	assert.True(t, env.index.hasTransaction(1))

	retries := 0
	for _, entry := range env.logs.AllEntries() {
		if entry.Level == logrus.WarnLevel && strings.HasPrefix(entry.Message, "transient repository failure") {
			retries++
		}
	}
	assert.Equal(t, 2, retries)
}

func TestRepositoryFailureIsNotRetried(t *testing.T) {
	repo := newFakeRepository()
	repo.commit(1, 1000, updated(10, 1))
	errRefused := errors.New("connection refused")
	repo.err = errRefused

	env := newTestEnv(t, testConfig(), repo)
	err := env.tracker.Track(context.Background())
	require.ErrorIs(t, err, errRefused)
	assert.Len(t, repo.queriedTransactions(), 1)
	assert.Empty(t, env.store.states)
}

func TestShutdown(t *testing.T) {
	t.Run("before a cycle", func(t *testing.T) {
		repo := newFakeRepository()
		repo.commit(1, 1000, updated(10, 1))

		env := newTestEnv(t, testConfig(), repo)
		env.tracker.Shutdown()

		require.ErrorIs(t, env.tracker.Track(context.Background()), ErrShutdown)
		require.ErrorIs(t, env.tracker.Maintenance(context.Background()), ErrShutdown)
		assert.Empty(t, repo.queriedTransactions())
	})

	t.Run("cancelled context", func(t *testing.T) {
		repo := newFakeRepository()
		env := newTestEnv(t, testConfig(), repo)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := env.tracker.Track(ctx)
		require.ErrorIs(t, err, ErrShutdown)
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("between batches", func(t *testing.T) {
		repo := newFakeRepository()
		repo.commit(1, 1000, updated(10, 1), updated(11, 1))
		repo.commit(2, 2000, updated(20, 1), updated(21, 1))
		repo.commit(3, 3000, updated(30, 1), updated(31, 1))

		cfg := testConfig()
		cfg.TransactionDocsBatchSize = 1
		env := newTestEnv(t, cfg, repo)
		env.index.afterTransaction = func(id int64) {
			if id == 1 {
				env.tracker.Shutdown()
			}
		}

		err := env.tracker.Track(context.Background())
		require.ErrorIs(t, err, ErrShutdown)

		assert.True(t, env.index.hasTransaction(1))
		assert.False(t, env.index.hasTransaction(2))
		state := env.store.only(t)
		assert.Equal(t, int64(1), state.LastIndexedTxID)
		assert.Equal(t, int64(1000), state.LastIndexedTxCommitTime)
		assert.Equal(t, int64(0), state.TrackerCycles)
	})
}

func TestFirstTransactionMissingFromIndexIsFatal(t *testing.T) {
	repo := newFakeRepository()
	repo.commit(1, 1000, updated(10, 1))
	repo.commit(2, 2000, updated(20, 1))

	env := newTestEnv(t, testConfig(), repo)
	persisted := State{
		LastIndexedTxID:             2,
		LastIndexedTxCommitTime:     2000,
		LastGoodTxCommitTimeInIndex: 1000,
		CheckedFirstTransactionTime: true,
		CheckedLastTransactionTime:  true,
		TrackerCycles:               12,
	}
	env.store.states[env.tracker.Shard()] = persisted

	err := env.tracker.Track(context.Background())
	require.ErrorIs(t, err, ErrFatal)
	var cerr *ConsistencyError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "first_transaction", cerr.Check)
	assert.Equal(t, int64(1), cerr.TxnID)

	assert.Equal(t, PhaseFatal, env.tracker.Phase())
	assert.Equal(t, persisted, env.store.only(t))
	assert.Empty(t, env.index.operations())
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.ConsistencyFailures.WithLabelValues(env.tracker.Shard())))

	// fatal is latched until the state is invalidated
	queries := len(repo.queriedTransactions())
	require.ErrorIs(t, env.tracker.Track(context.Background()), ErrFatal)
	assert.Len(t, repo.queriedTransactions(), queries)

	require.NoError(t, env.index.IndexTransaction(context.Background(),
		txn.Transaction{ID: 1, CommitTimeMs: 1000, Updates: 1}, false))
	env.tracker.InvalidateState()
	assert.Equal(t, PhaseIdle, env.tracker.Phase())

	require.NoError(t, env.tracker.Track(context.Background()))
	state := env.store.only(t)
	assert.True(t, state.CheckedFirstTransactionTime)
	assert.True(t, state.CheckedLastTransactionTime)
	assert.Equal(t, int64(1), state.TrackerCycles)
}

func TestIndexAheadOfRepositoryIsFatal(t *testing.T) {
	repo := newFakeRepository()
	repo.commit(1, 1000, updated(10, 1))

	env := newTestEnv(t, testConfig(), repo)
	ctx := context.Background()
	require.NoError(t, env.index.IndexTransaction(ctx, txn.Transaction{ID: 1, CommitTimeMs: 1000}, false))
	require.NoError(t, env.index.IndexTransaction(ctx, txn.Transaction{ID: 9, CommitTimeMs: 50_000}, false))
	env.store.states[env.tracker.Shard()] = State{
		LastIndexedTxID:             9,
		LastIndexedTxCommitTime:     50_000,
		LastGoodTxCommitTimeInIndex: 1000,
		TrackerCycles:               3,
	}

	err := env.tracker.Track(ctx)
	var cerr *ConsistencyError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "last_transaction", cerr.Check)
	assert.Equal(t, int64(9), cerr.TxnID)
	assert.Equal(t, int64(50_000), cerr.CommitTimeMs)
	assert.Equal(t, int64(1000), cerr.RepoCommitTime)
	assert.Equal(t, PhaseFatal, env.tracker.Phase())
}

func TestDuplicateFirstTransactionIsNotFatal(t *testing.T) {
	repo := newFakeRepository()
	repo.commit(1, 1000, updated(10, 1))

	env := newTestEnv(t, testConfig(), repo)
	ctx := context.Background()
	require.NoError(t, env.index.IndexTransaction(ctx, txn.Transaction{ID: 1, CommitTimeMs: 1000}, false))
	env.index.docCounts[1] = 2
	env.store.states[env.tracker.Shard()] = State{
		LastIndexedTxID:             1,
		LastIndexedTxCommitTime:     1000,
		LastGoodTxCommitTimeInIndex: 1000,
		TrackerCycles:               3,
	}

	require.NoError(t, env.tracker.Track(ctx))
	assert.True(t, env.hasLog(logrus.WarnLevel, "duplicate initial transaction found in index"))

	state := env.store.only(t)
	assert.False(t, state.CheckedFirstTransactionTime)
	assert.True(t, state.CheckedLastTransactionTime)
}

func TestNextCommitTimeSkipsEmptyWindows(t *testing.T) {
	base := newFakeRepository()
	base.commit(1, 1000, updated(10, 1))
	base.commit(2, 100_000_000, updated(20, 1))
	repo := &fakeRepositoryWithNextCommitTime{fakeRepository: base}

	env := newTestEnv(t, testConfig(), repo,
		WithClock(func() time.Time { return time.UnixMilli(200_000_000) }))
	assert.True(t, env.tracker.Capabilities().NextCommitTime)

	require.NoError(t, env.tracker.Track(context.Background()))
	assert.True(t, env.index.hasTransaction(1))
	assert.True(t, env.index.hasTransaction(2))
	assert.Positive(t, repo.nextCalls)
	assert.Less(t, len(base.queriedTransactions()), 10)
	assert.Equal(t, int64(2), env.store.only(t).LastIndexedTxID)
}

func TestStepsOverEmptyWindowsWithoutNextCommitTime(t *testing.T) {
	base := newFakeRepository()
	base.commit(1, 1000, updated(10, 1))
	base.commit(2, 100_000_000, updated(20, 1))
	repo := &fakeRepositoryWithNextCommitTime{fakeRepository: base}

	env := newTestEnv(t, testConfig(), repo,
		WithClock(func() time.Time { return time.UnixMilli(200_000_000) }),
		WithCapabilities(Capabilities{}))
	assert.False(t, env.tracker.Capabilities().NextCommitTime)

	require.NoError(t, env.tracker.Track(context.Background()))
	assert.True(t, env.index.hasTransaction(2))
	assert.Zero(t, repo.nextCalls)
	assert.Greater(t, len(base.queriedTransactions()), 20)
}

func TestRangeShardWithoutNodesIndexesLatestTransactionOnly(t *testing.T) {
	base := newFakeRepository()
	base.commit(1, 1000, updated(500, 1), updated(501, 1))
	base.commit(2, 2000, updated(600, 1))
	repo := &fakeRangeRepository{fakeRepository: base}

	cfg := testConfig()
	cfg.Shard = sharding.Config{Method: sharding.MethodDBIDRange, RangeStart: 0, RangeEnd: 100}
	env := newTestEnv(t, cfg, repo)
	assert.True(t, env.tracker.Capabilities().CommitTimeInterval)

	require.NoError(t, env.tracker.Track(context.Background()))

	assert.Equal(t, []string{"txn 2"}, env.index.operations())
	state := env.store.only(t)
	assert.Equal(t, int64(2), state.LastIndexedTxID)
	assert.Equal(t, int64(2000), state.LastIndexedTxCommitTime)
}

func TestRangeShardSkipsHistoryBeforeRange(t *testing.T) {
	base := newFakeRepository()
	base.commit(1, 1000, updated(500, 1))
	base.commit(2, 5000, updated(50, 1))
	base.commit(3, 9000, updated(60, 1))
	repo := &fakeRangeRepository{fakeRepository: base}

	cfg := testConfig()
	cfg.Shard = sharding.Config{Method: sharding.MethodDBIDRange, RangeStart: 0, RangeEnd: 100}
	env := newTestEnv(t, cfg, repo)
	ctx := context.Background()

	require.NoError(t, env.tracker.Track(ctx))
	assert.False(t, env.index.hasTransaction(1))
	assert.True(t, env.index.hasTransaction(2))
	assert.True(t, env.index.hasTransaction(3))
	_, ok := env.index.node(500)
	assert.False(t, ok)

	// the first transaction check is narrowed to the range
	env.tracker.InvalidateState()
	require.NoError(t, env.tracker.Track(ctx))
	assert.True(t, env.store.only(t).CheckedFirstTransactionTime)
}

func TestRangeShardAdoptsIndexCap(t *testing.T) {
	cfg := testConfig()
	cfg.Shard = sharding.Config{Method: sharding.MethodDBIDRange, RangeStart: 0, RangeEnd: 100}
	env := newTestEnv(t, cfg, newFakeRepository())
	env.index.indexCap = 150

	require.NoError(t, env.tracker.Track(context.Background()))
	rg := env.tracker.rangeRouter.Range()
	assert.Equal(t, int64(150), rg.End)
	assert.True(t, rg.Expanded)
}

func TestNewRejectsIncompleteDependencies(t *testing.T) {
	repo := newFakeRepository()

	_, err := New(testConfig(), Dependencies{Repository: repo})
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Parallelism = 0
	_, err = New(cfg, Dependencies{})
	assert.Error(t, err)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "IDLE", PhaseIdle.String())
	assert.Equal(t, "MAINTENANCE_DRAIN", PhaseMaintenanceDrain.String())
	assert.Equal(t, "FATAL", PhaseFatal.String())
}

func TestTrackHoldsShardLock(t *testing.T) {
	t.Run("waits for the commit coordinator", func(t *testing.T) {
		repo := newFakeRepository()
		repo.commit(1, 1000, updated(10, 1))
		env := newTestEnv(t, testConfig(), repo)

		lock := env.locks.Get(env.tracker.Shard())
		require.NoError(t, lock.Lock(context.Background()))

		done := make(chan error, 1)
		go func() { done <- env.tracker.Track(context.Background()) }()

		assert.Never(t, func() bool {
			return len(done) > 0 || env.store.loadCount() > 0 || len(env.index.operations()) > 0
		}, 50*time.Millisecond, 5*time.Millisecond)

		lock.Unlock()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("tracking did not resume after the lock was released")
		}
		assert.True(t, env.index.hasTransaction(1))
	})

	t.Run("gives up when the context expires", func(t *testing.T) {
		repo := newFakeRepository()
		repo.commit(1, 1000, updated(10, 1))
		env := newTestEnv(t, testConfig(), repo)

		lock := env.locks.Get(env.tracker.Shard())
		require.NoError(t, lock.Lock(context.Background()))
		defer lock.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		require.ErrorIs(t, env.tracker.Track(ctx), ErrShutdown)
		assert.Zero(t, env.store.loadCount())
		assert.Empty(t, env.index.operations())
	})

	t.Run("is held while indexing", func(t *testing.T) {
		repo := newFakeRepository()
		repo.commit(1, 1000, updated(10, 1))
		repo.commit(2, 2000, updated(11, 1))
		env := newTestEnv(t, testConfig(), repo)

		lock := env.locks.Get(env.tracker.Shard())
		var acquired []int64
		env.index.afterTransaction = func(id int64) {
			if lock.TryLock() {
				acquired = append(acquired, id)
				lock.Unlock()
			}
		}

		require.NoError(t, env.tracker.Track(context.Background()))
		assert.True(t, env.index.hasTransaction(2))
		assert.Empty(t, acquired, "the lock was free while transactions were indexed")

		require.True(t, lock.TryLock(), "the lock is released after the cycle")
		lock.Unlock()
	})
}
