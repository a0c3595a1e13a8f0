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
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	entsync "github.com/weaviate/tracker/entities/sync"
	"github.com/weaviate/tracker/usecases/config"
	"github.com/weaviate/tracker/usecases/monitoring"
	"github.com/weaviate/tracker/usecases/sharding"
)

const trackerLogAction = "metadata_tracker"

// Phase is the step a tracker is currently in.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseConsistencyCheck
	PhaseFetching
	PhaseFiltering
	PhaseIndexing
	PhaseAdvancingCursor
	PhaseMaintenanceDrain
	// PhaseFatal is terminal until the state is invalidated
	PhaseFatal
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseConsistencyCheck:
		return "CONSISTENCY_CHECK"
	case PhaseFetching:
		return "FETCHING"
	case PhaseFiltering:
		return "FILTERING"
	case PhaseIndexing:
		return "INDEXING"
	case PhaseAdvancingCursor:
		return "ADVANCING_CURSOR"
	case PhaseMaintenanceDrain:
		return "MAINTENANCE_DRAIN"
	case PhaseFatal:
		return "FATAL"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

// Dependencies are the collaborators of a tracker. Locks must be the
// registry shared with the commit coordinator of the index.
type Dependencies struct {
	Repository RepositoryClient
	Index      IndexWriter
	Store      StateStore
	Locks      *entsync.LockRegistry
	Metrics    *monitoring.TrackerMetrics
	Logger     logrus.FieldLogger
}

type Option func(t *Tracker)

// WithClock replaces the wall clock used for the indexing time boundary.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithBackOff replaces the retry policy of repository calls.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(t *Tracker) {
		t.newBackOff = newBackOff
	}
}

// WithCapabilities overrides the negotiated repository capabilities, a
// capability can only be disabled this way.
func WithCapabilities(caps Capabilities) Option {
	return func(t *Tracker) {
		t.caps.NextCommitTime = t.caps.NextCommitTime && caps.NextCommitTime
		t.caps.CommitTimeInterval = t.caps.CommitTimeInterval && caps.CommitTimeInterval
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return backoff.WithMaxRetries(b, 5)
}

// Tracker keeps the index of one shard in sync with the committed
// transactions of the repository.
type Tracker struct {
	*MaintenanceQueues

	shard  string
	config config.Tracker
	logger logrus.FieldLogger

	repo    RepositoryClient
	index   IndexWriter
	store   StateStore
	locks   *entsync.LockRegistry
	lock    *entsync.FairLock
	metrics *monitoring.TrackerMetrics

	router      sharding.Router
	rangeRouter *sharding.RangeRouter
	caps        Capabilities

	initialFromID int64
	initialToID   int64

	now        func() time.Time
	newBackOff func() backoff.BackOff

	phase    atomic.Int32
	fatal    atomic.Bool
	shutdown atomic.Bool
	// reverify resets the verification flags of the next loaded state
	reverify atomic.Bool

	rollbackLock  sync.Mutex
	rollback      bool
	rollbackCause error
}

func New(cfg config.Tracker, deps Dependencies, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, pkgerrors.Wrap(err, "invalid tracker config")
	}
	if deps.Repository == nil || deps.Index == nil || deps.Store == nil {
		return nil, errors.New("tracker requires a repository, an index and a state store")
	}
	if deps.Locks == nil {
		return nil, errors.New("tracker requires the lock registry shared with the commit coordinator")
	}

	router, err := sharding.NewRouter(cfg.Shard)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "build shard router")
	}
	initialFrom, initialTo, err := cfg.InitialRange()
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}

	shard := cfg.ShardName()
	t := &Tracker{
		MaintenanceQueues: NewMaintenanceQueues(),
		shard:             shard,
		config:            cfg,
		logger:            logger.WithFields(logrus.Fields{"action": trackerLogAction, "shard": shard}),
		repo:              deps.Repository,
		index:             deps.Index,
		store:             deps.Store,
		locks:             deps.Locks,
		lock:              deps.Locks.Get(shard),
		metrics:           deps.Metrics,
		router:            router,
		caps:              NegotiateCapabilities(deps.Repository),
		initialFromID:     initialFrom,
		initialToID:       initialTo,
		now:               time.Now,
		newBackOff:        defaultBackOff,
	}
	if rr, ok := router.(*sharding.RangeRouter); ok {
		t.rangeRouter = rr
	}
	for _, opt := range opts {
		opt(t)
	}

	// a state loaded by a new tracker has not been verified by this process
	t.reverify.Store(true)

	t.logger.WithFields(logrus.Fields{
		"next_commit_time":     t.caps.NextCommitTime,
		"commit_time_interval": t.caps.CommitTimeInterval,
	}).Debug("negotiated repository capabilities")

	return t, nil
}

func (t *Tracker) Shard() string {
	return t.shard
}

func (t *Tracker) Capabilities() Capabilities {
	return t.caps
}

func (t *Tracker) Phase() Phase {
	return Phase(t.phase.Load())
}

func (t *Tracker) setPhase(p Phase) {
	t.phase.Store(int32(p))
}

func (t *Tracker) leavePhase() {
	if !t.fatal.Load() {
		t.setPhase(PhaseIdle)
	}
}

// Shutdown makes every running and future cycle stop at the next unit of
// work. It does not wait.
func (t *Tracker) Shutdown() {
	t.shutdown.Store(true)
}

// Close shuts the tracker down and drops the write lock of its shard from
// the registry. The tracker must not be used afterwards.
func (t *Tracker) Close() {
	t.Shutdown()
	t.locks.Remove(t.shard)
}

func (t *Tracker) checkShutdown(ctx context.Context) error {
	if t.shutdown.Load() {
		return ErrShutdown
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrShutdown, err)
	}
	return nil
}

// InvalidateState is the operator intervention after a fatal
// inconsistency: the next cycle verifies the index again.
func (t *Tracker) InvalidateState() {
	t.reverify.Store(true)
	t.fatal.Store(false)
	t.setPhase(PhaseIdle)

	if c, ok := t.index.(processedTransactionsClearer); ok {
		c.ClearProcessedTransactions()
	}
	t.logger.Info("tracker state invalidated")
}

// RollbackRequested reports whether a batch failed since the flag was last
// cleared. The commit coordinator rolls the index back when it is set.
func (t *Tracker) RollbackRequested() (bool, error) {
	t.rollbackLock.Lock()
	defer t.rollbackLock.Unlock()

	return t.rollback, t.rollbackCause
}

func (t *Tracker) ClearRollback() {
	t.rollbackLock.Lock()
	defer t.rollbackLock.Unlock()

	t.rollback = false
	t.rollbackCause = nil
}

func (t *Tracker) requestRollback(cause error) {
	t.rollbackLock.Lock()
	defer t.rollbackLock.Unlock()

	if !t.rollback {
		t.metrics.RollbackRequested(t.shard)
	}
	t.rollback = true
	t.rollbackCause = cause
}

func (t *Tracker) nowMs() int64 {
	return t.now().UnixMilli()
}

func (t *Tracker) loadState(ctx context.Context) (State, error) {
	state, err := t.store.LoadState(ctx, t.shard)
	if err != nil {
		return State{}, pkgerrors.Wrap(err, "load tracker state")
	}
	if t.reverify.Load() {
		state.ResetVerification()
	}
	return state, nil
}

func (t *Tracker) saveState(ctx context.Context, state State) error {
	// the state has to be written even if the cycle is being cancelled
	if err := t.store.SaveState(context.WithoutCancel(ctx), t.shard, state); err != nil {
		return pkgerrors.Wrap(err, "save tracker state")
	}
	return nil
}

// State returns the persisted cursor of the shard.
func (t *Tracker) State(ctx context.Context) (State, error) {
	return t.store.LoadState(ctx, t.shard)
}

// Track runs tracking iterations until the repository has nothing new up to
// the indexing time boundary.
func (t *Tracker) Track(ctx context.Context) error {
	if t.fatal.Load() {
		return ErrFatal
	}
	if err := t.checkShutdown(ctx); err != nil {
		return err
	}

	logger := t.logger.WithField("iteration", uuid.NewString())
	defer t.leavePhase()

	err := t.track(ctx, logger)
	switch {
	case err == nil:
		t.metrics.CycleDone(t.shard, "ok")
	case errors.Is(err, ErrShutdown):
		t.metrics.CycleDone(t.shard, "shutdown")
	case errors.Is(err, ErrFatal):
		t.metrics.CycleDone(t.shard, "fatal")
	default:
		t.metrics.CycleDone(t.shard, "failed")
	}
	return err
}

func (t *Tracker) track(ctx context.Context, logger logrus.FieldLogger) error {
	if err := t.verify(ctx, logger); err != nil {
		var cerr *ConsistencyError
		if errors.As(err, &cerr) {
			t.fatal.Store(true)
			t.setPhase(PhaseFatal)
			t.metrics.ConsistencyFailed(t.shard)
			logger.WithError(err).WithField("check", cerr.Check).
				Error("index and repository do not match, rebuild the index if the repository was rebuilt")
		}
		return err
	}

	if err := t.adoptIndexCap(ctx, logger); err != nil {
		return err
	}

	if err := t.checkShutdown(ctx); err != nil {
		return err
	}

	docs, err := t.trackTransactions(ctx, logger)
	if err != nil {
		return err
	}

	if err := t.updateState(ctx, func(s *State) { s.TrackerCycles++ }); err != nil {
		return err
	}

	logger.WithField("docs", docs).Info("tracked transactions")
	return nil
}

// verify runs the consistency checks for a state no cycle has completed on.
func (t *Tracker) verify(ctx context.Context, logger logrus.FieldLogger) error {
	if err := t.lock.Lock(ctx); err != nil {
		return fmt.Errorf("%w: acquire write lock: %w", ErrShutdown, err)
	}
	defer t.lock.Unlock()

	state, err := t.loadState(ctx)
	if err != nil {
		return err
	}
	if state.TrackerCycles != 0 {
		return nil
	}

	t.setPhase(PhaseConsistencyCheck)
	if err := t.checkConsistency(ctx, &state, logger); err != nil {
		return err
	}
	if err := t.saveState(ctx, state); err != nil {
		return err
	}
	t.reverify.Store(false)
	return nil
}

func (t *Tracker) adoptIndexCap(ctx context.Context, logger logrus.FieldLogger) error {
	if t.rangeRouter == nil {
		return nil
	}

	indexCap, err := t.index.IndexCap(ctx)
	if err != nil {
		return pkgerrors.Wrap(err, "read index cap")
	}
	if t.rangeRouter.AdoptIndexCap(indexCap) {
		logger.WithField("end", indexCap).Info("adopted expanded node id range")
	}
	return nil
}

func (t *Tracker) updateState(ctx context.Context, update func(s *State)) error {
	if err := t.lock.Lock(ctx); err != nil {
		return fmt.Errorf("%w: acquire write lock: %w", ErrShutdown, err)
	}
	defer t.lock.Unlock()

	state, err := t.loadState(ctx)
	if err != nil {
		return err
	}
	update(&state)
	return t.saveState(ctx, state)
}
