package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/internal/metrics"
	"github.com/BaSui01/stateflow/persistence"
	"github.com/BaSui01/stateflow/types"
)

// resolverAuthor is the author recorded on versions written by conflict
// resolution and snapshot restore.
const resolverAuthor = "state-manager"

// KV key layout. The version list and the active state are separate keys;
// Write orders them (versions first, active pointer last) so the active
// state can never reference a version absent from history.
func stateKey(workflowID string) string    { return "workflow:" + workflowID + ":state" }
func versionsKey(workflowID string) string { return "workflow:" + workflowID + ":versions" }
func snapshotKey(workflowID, snapshotID string) string {
	return "snapshot:" + workflowID + ":" + snapshotID
}
func conflictKey(conflictID string) string { return "conflict:" + conflictID }

// Metrics is a point-in-time copy of the store's running counters.
type Metrics struct {
	VersionsCreated      int64   `json:"versionsCreated"`
	ConflictsDetected    int64   `json:"conflictsDetected"`
	ConflictsResolved    int64   `json:"conflictsResolved"`
	SnapshotsCreated     int64   `json:"snapshotsCreated"`
	VersionsArchived     int64   `json:"versionsArchived"`
	AveragePersistMillis float64 `json:"averagePersistMillis"`
}

// VersionedStore owns workflow states and their version histories on top
// of a durable KV store. Optional collaborators: cold object storage for
// archiving and snapshot mirroring, a Notifier for change fan-out, and a
// metrics collector.
type VersionedStore struct {
	kv        persistence.KVStore
	cold      persistence.ObjectStore
	notifier  *Notifier
	collector *metrics.Collector
	logger    *zap.Logger
	tracer    trace.Tracer

	policy   ArchivePolicy
	strategy types.ResolutionStrategy

	// Per-workflow write serialization. The map itself is guarded by mu;
	// each workflow's lock is held only for the compose-and-persist
	// critical section.
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// Pending conflict queue, cached in memory in front of the KV store.
	conflictMu sync.RWMutex
	pending    map[string]*types.StateConflict

	counters struct {
		sync.Mutex
		Metrics
		persistSamples int64
	}
}

// Option configures a VersionedStore.
type Option func(*VersionedStore)

// WithColdStorage attaches cold object storage for archiving and snapshot
// mirroring. Without it, those paths degrade gracefully.
func WithColdStorage(cold persistence.ObjectStore) Option {
	return func(s *VersionedStore) { s.cold = cold }
}

// WithNotifier attaches a change notifier triggered on every accepted write.
func WithNotifier(n *Notifier) Option {
	return func(s *VersionedStore) { s.notifier = n }
}

// WithCollector attaches a prometheus collector.
func WithCollector(c *metrics.Collector) Option {
	return func(s *VersionedStore) { s.collector = c }
}

// WithArchivePolicy sets the archive policy.
func WithArchivePolicy(p ArchivePolicy) Option {
	return func(s *VersionedStore) { s.policy = p }
}

// WithResolutionStrategy sets the strategy recorded on detected conflicts.
func WithResolutionStrategy(strategy types.ResolutionStrategy) Option {
	return func(s *VersionedStore) { s.strategy = strategy }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *VersionedStore) { s.logger = logger }
}

// NewVersionedStore creates a versioned state store over kv.
func NewVersionedStore(kv persistence.KVStore, opts ...Option) *VersionedStore {
	s := &VersionedStore{
		kv:       kv,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("github.com/BaSui01/stateflow/state"),
		policy:   DefaultArchivePolicy(),
		strategy: types.ResolveLastWriteWins,
		locks:    make(map[string]*sync.Mutex),
		pending:  make(map[string]*types.StateConflict),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "versioned_store"))

	// Conflicts queued before a restart are still pending.
	if err := s.restorePendingConflicts(context.Background()); err != nil {
		s.logger.Warn("failed to restore pending conflicts", zap.Error(err))
	}
	return s
}

// workflowLock returns the mutex serializing writes for one workflow.
func (s *VersionedStore) workflowLock(workflowID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[workflowID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[workflowID] = lock
	}
	return lock
}

// Write validates, versions, and durably persists a workflow state.
//
// If the currently active state is newer than the incoming state's
// UpdatedAt, a conflict is queued for later resolution, but the write
// still proceeds and becomes the new head: conflict detection is an
// advisory audit trail, not a lock.
func (s *VersionedStore) Write(ctx context.Context, workflowID string, st *types.WorkflowState, author, description string) (*types.StateVersion, error) {
	ctx, span := s.tracer.Start(ctx, "state.Write",
		trace.WithAttributes(attribute.String("workflow.id", workflowID)))
	defer span.End()

	started := time.Now()

	if workflowID == "" {
		s.collector.RecordStateWrite("rejected", time.Since(started))
		return nil, types.NewError(types.ErrValidation, "workflow id is required")
	}
	if st != nil && st.ID != workflowID {
		s.collector.RecordStateWrite("rejected", time.Since(started))
		return nil, types.NewErrorf(types.ErrValidation, "state id %q does not match workflow id %q", st.ID, workflowID)
	}
	if err := st.Validate(); err != nil {
		s.collector.RecordStateWrite("rejected", time.Since(started))
		return nil, err
	}

	lock := s.workflowLock(workflowID)
	lock.Lock()
	defer lock.Unlock()

	// Advisory conflict detection against the active state.
	active, err := s.loadActive(ctx, workflowID)
	if err != nil && !types.IsCode(err, types.ErrNotFound) {
		return nil, err
	}
	stale := active != nil && active.UpdatedAt.After(st.UpdatedAt)

	version, err := s.appendVersion(ctx, workflowID, st, author, description)
	if err != nil {
		s.collector.RecordStateWrite("rejected", time.Since(started))
		return nil, err
	}

	// Queued only once the version has landed: a rejected write must not
	// leave a conflict referencing a state that never became a version.
	if stale {
		if err := s.queueConflict(ctx, workflowID, active, st, author); err != nil {
			// The conflict record is an audit artifact; failing to
			// persist it is logged, not fatal to the write.
			s.logger.Error("failed to queue conflict", zap.String("workflow_id", workflowID), zap.Error(err))
		}
	}

	elapsed := time.Since(started)
	s.recordPersist(elapsed)
	s.collector.RecordStateWrite("accepted", elapsed)
	span.SetAttributes(attribute.Int64("state.version", version.Version))

	s.logger.Debug("state written",
		zap.String("workflow_id", workflowID),
		zap.Int64("version", version.Version),
		zap.String("author", author),
	)

	s.notifyChange(ctx, workflowID, version)

	return version, nil
}

// appendVersion persists st as the next version and active state of the
// workflow. Callers must hold the workflow lock. The version list is
// written before the active state; if the active-state write fails, the
// version list is rolled back so both sides stay consistent.
func (s *VersionedStore) appendVersion(ctx context.Context, workflowID string, st *types.WorkflowState, author, description string) (*types.StateVersion, error) {
	checksum, err := Digest(st)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to compute state digest").WithCause(err)
	}

	previous, err := s.loadVersions(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	var number int64 = 1
	var parentID string
	if len(previous) > 0 {
		head := previous[len(previous)-1]
		number = head.Version + 1
		parentID = head.ID
	}

	version := &types.StateVersion{
		ID:          uuid.New().String(),
		WorkflowID:  workflowID,
		Version:     number,
		State:       st.Clone(),
		Timestamp:   time.Now(),
		Author:      author,
		ParentID:    parentID,
		Description: description,
		Checksum:    checksum,
	}

	updated := append(previous, version)
	versionsData, err := json.Marshal(updated)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to encode version list").WithCause(err)
	}
	stateData, err := json.Marshal(version.State)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to encode state").WithCause(err)
	}

	var previousData []byte
	if len(previous) > 0 {
		previousData, err = json.Marshal(previous)
		if err != nil {
			return nil, types.NewError(types.ErrInternalError, "failed to encode version list").WithCause(err)
		}
	}

	if err := s.kv.Put(ctx, versionsKey(workflowID), versionsData); err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to persist version list").WithCause(err)
	}
	if err := s.kv.Put(ctx, stateKey(workflowID), stateData); err != nil {
		// Roll the version list back so history and the active pointer
		// fail together.
		if previousData != nil {
			if rbErr := s.kv.Put(ctx, versionsKey(workflowID), previousData); rbErr != nil {
				s.logger.Error("version list rollback failed", zap.String("workflow_id", workflowID), zap.Error(rbErr))
			}
		} else {
			if rbErr := s.kv.Delete(ctx, versionsKey(workflowID)); rbErr != nil {
				s.logger.Error("version list rollback failed", zap.String("workflow_id", workflowID), zap.Error(rbErr))
			}
		}
		return nil, types.NewError(types.ErrInternalError, "failed to persist active state").WithCause(err)
	}

	s.counters.Lock()
	s.counters.VersionsCreated++
	s.counters.Unlock()

	return version, nil
}

// notifyChange fans the accepted version out to subscribers. Best effort:
// delivery problems are the notifier's to handle.
func (s *VersionedStore) notifyChange(ctx context.Context, workflowID string, version *types.StateVersion) {
	if s.notifier == nil {
		return
	}
	s.notifier.Broadcast(ctx, workflowID, map[string]any{
		"event":       "state-written",
		"workflowId":  workflowID,
		"version":     version.Version,
		"versionId":   version.ID,
		"author":      version.Author,
		"description": version.Description,
		"checksum":    version.Checksum,
	})
}

// Read returns the current active state of a workflow.
func (s *VersionedStore) Read(ctx context.Context, workflowID string) (*types.WorkflowState, error) {
	ctx, span := s.tracer.Start(ctx, "state.Read",
		trace.WithAttributes(attribute.String("workflow.id", workflowID)))
	defer span.End()

	return s.loadActive(ctx, workflowID)
}

// ReadVersion returns the state recorded at an exact version number.
func (s *VersionedStore) ReadVersion(ctx context.Context, workflowID string, version int64) (*types.WorkflowState, error) {
	versions, err := s.loadVersions(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.Version == version {
			return s.verifiedState(v)
		}
	}
	return nil, types.NewErrorf(types.ErrNotFound, "workflow %s has no version %d", workflowID, version)
}

// ReadVersionByID returns the state recorded under an opaque version id.
func (s *VersionedStore) ReadVersionByID(ctx context.Context, workflowID, versionID string) (*types.WorkflowState, error) {
	versions, err := s.loadVersions(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.ID == versionID {
			return s.verifiedState(v)
		}
	}
	return nil, types.NewErrorf(types.ErrNotFound, "workflow %s has no version %s", workflowID, versionID)
}

// verifiedState checks a version's checksum before handing out its state.
func (s *VersionedStore) verifiedState(v *types.StateVersion) (*types.WorkflowState, error) {
	ok, err := VerifyDigest(v.State, v.Checksum)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to recompute digest").WithCause(err)
	}
	if !ok {
		return nil, types.NewErrorf(types.ErrIntegrity, "checksum mismatch on version %d of workflow %s", v.Version, v.WorkflowID)
	}
	return v.State.Clone(), nil
}

// History returns the version history of a workflow, newest first.
// Pure read: no side effects, safe to retry.
func (s *VersionedStore) History(ctx context.Context, workflowID string) ([]*types.StateVersion, error) {
	versions, err := s.loadVersions(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, types.NewErrorf(types.ErrNotFound, "workflow %s has no history", workflowID)
	}

	out := make([]*types.StateVersion, len(versions))
	copy(out, versions)
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

// Workflows lists the ids of all workflows with persisted state.
func (s *VersionedStore) Workflows(ctx context.Context) ([]string, error) {
	keys, err := s.kv.List(ctx, "workflow:")
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to list workflows").WithCause(err)
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, ":state") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(key, "workflow:"), ":state")
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Metrics returns a copy of the store's running counters.
func (s *VersionedStore) Metrics() Metrics {
	s.counters.Lock()
	defer s.counters.Unlock()
	return s.counters.Metrics
}

func (s *VersionedStore) recordPersist(elapsed time.Duration) {
	s.counters.Lock()
	defer s.counters.Unlock()
	s.counters.persistSamples++
	n := float64(s.counters.persistSamples)
	ms := float64(elapsed.Microseconds()) / 1000.0
	s.counters.AveragePersistMillis += (ms - s.counters.AveragePersistMillis) / n
}

// loadActive loads the active state for a workflow.
func (s *VersionedStore) loadActive(ctx context.Context, workflowID string) (*types.WorkflowState, error) {
	data, err := s.kv.Get(ctx, stateKey(workflowID))
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, types.NewErrorf(types.ErrNotFound, "workflow %s not found", workflowID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to load active state").WithCause(err)
	}

	var st types.WorkflowState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, types.NewError(types.ErrInternalError, fmt.Sprintf("corrupt active state for workflow %s", workflowID)).WithCause(err)
	}
	return &st, nil
}

// loadVersions loads the live version list for a workflow, oldest first.
// A workflow with no history yields an empty slice, not an error.
func (s *VersionedStore) loadVersions(ctx context.Context, workflowID string) ([]*types.StateVersion, error) {
	data, err := s.kv.Get(ctx, versionsKey(workflowID))
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to load version list").WithCause(err)
	}

	var versions []*types.StateVersion
	if err := json.Unmarshal(data, &versions); err != nil {
		return nil, types.NewError(types.ErrInternalError, fmt.Sprintf("corrupt version list for workflow %s", workflowID)).WithCause(err)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	return versions, nil
}

// storeVersions persists the live version list. Callers must hold the
// workflow lock.
func (s *VersionedStore) storeVersions(ctx context.Context, workflowID string, versions []*types.StateVersion) error {
	data, err := json.Marshal(versions)
	if err != nil {
		return types.NewError(types.ErrInternalError, "failed to encode version list").WithCause(err)
	}
	if err := s.kv.Put(ctx, versionsKey(workflowID), data); err != nil {
		return types.NewError(types.ErrInternalError, "failed to persist version list").WithCause(err)
	}
	return nil
}
