package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/types"
)

// queueConflict records a stale write as a pending conflict: old is the
// state that was active at detection time, incoming the write whose base
// was stale. Callers hold the workflow lock.
func (s *VersionedStore) queueConflict(ctx context.Context, workflowID string, active, incoming *types.WorkflowState, author string) error {
	conflict := &types.StateConflict{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Changes: []types.ConflictingChange{
			{
				OldState:  active.Clone(),
				NewState:  incoming.Clone(),
				Timestamp: incoming.UpdatedAt,
				Author:    author,
			},
		},
		DetectedAt: time.Now(),
		Strategy:   s.strategy,
		Status:     types.ConflictPending,
	}

	if err := s.persistConflict(ctx, conflict); err != nil {
		return err
	}

	s.conflictMu.Lock()
	s.pending[conflict.ID] = conflict
	s.conflictMu.Unlock()

	s.counters.Lock()
	s.counters.ConflictsDetected++
	s.counters.Unlock()
	s.collector.RecordConflict("detected")

	s.logger.Warn("stale write detected, conflict queued",
		zap.String("workflow_id", workflowID),
		zap.String("conflict_id", conflict.ID),
		zap.String("author", author),
		zap.Time("active_updated_at", active.UpdatedAt),
		zap.Time("incoming_updated_at", incoming.UpdatedAt),
	)
	return nil
}

func (s *VersionedStore) persistConflict(ctx context.Context, conflict *types.StateConflict) error {
	data, err := json.Marshal(conflict)
	if err != nil {
		return types.NewError(types.ErrInternalError, "failed to encode conflict").WithCause(err)
	}
	if err := s.kv.Put(ctx, conflictKey(conflict.ID), data); err != nil {
		return types.NewError(types.ErrInternalError, "failed to persist conflict").WithCause(err)
	}
	return nil
}

// restorePendingConflicts rebuilds the in-memory conflict queue from the
// KV store. Resolved records stay persisted as audit history and are
// skipped; unreadable records are logged and skipped so one corrupt entry
// cannot block the rest.
func (s *VersionedStore) restorePendingConflicts(ctx context.Context) error {
	keys, err := s.kv.List(ctx, "conflict:")
	if err != nil {
		return err
	}

	restored := 0
	for _, key := range keys {
		data, err := s.kv.Get(ctx, key)
		if err != nil {
			s.logger.Warn("failed to read persisted conflict", zap.String("key", key), zap.Error(err))
			continue
		}
		var conflict types.StateConflict
		if err := json.Unmarshal(data, &conflict); err != nil {
			s.logger.Warn("skipping corrupt conflict record", zap.String("key", key), zap.Error(err))
			continue
		}
		if conflict.Status != types.ConflictPending {
			continue
		}
		s.pending[conflict.ID] = &conflict
		restored++
	}

	if restored > 0 {
		s.logger.Info("restored pending conflicts", zap.Int("count", restored))
	}
	return nil
}

// PendingConflicts returns the queued conflicts for a workflow, oldest
// first. An empty workflowID returns every pending conflict.
func (s *VersionedStore) PendingConflicts(workflowID string) []*types.StateConflict {
	s.conflictMu.RLock()
	defer s.conflictMu.RUnlock()

	out := make([]*types.StateConflict, 0)
	for _, c := range s.pending {
		if workflowID == "" || c.WorkflowID == workflowID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out
}

// ResolveConflict resolves a queued conflict with its recorded strategy
// and writes the resolved state as a new version authored by the state
// manager. The resolved write bypasses conflict detection: resolution
// must not cascade into further conflicts.
func (s *VersionedStore) ResolveConflict(ctx context.Context, conflictID string) (*types.WorkflowState, error) {
	s.conflictMu.RLock()
	conflict, ok := s.pending[conflictID]
	s.conflictMu.RUnlock()
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "conflict %s not found", conflictID)
	}

	resolved, err := resolveChanges(conflict)
	if err != nil {
		return nil, err
	}

	lock := s.workflowLock(conflict.WorkflowID)
	lock.Lock()
	version, err := s.appendVersion(ctx, conflict.WorkflowID, resolved, resolverAuthor,
		fmt.Sprintf("resolved conflict %s (%s)", conflict.ID, conflict.Strategy))
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	conflict.Status = types.ConflictResolved
	if err := s.persistConflict(ctx, conflict); err != nil {
		s.logger.Error("failed to persist resolved conflict", zap.String("conflict_id", conflictID), zap.Error(err))
	}

	s.conflictMu.Lock()
	delete(s.pending, conflictID)
	s.conflictMu.Unlock()

	s.counters.Lock()
	s.counters.ConflictsResolved++
	s.counters.Unlock()
	s.collector.RecordConflict("resolved")

	s.logger.Info("conflict resolved",
		zap.String("workflow_id", conflict.WorkflowID),
		zap.String("conflict_id", conflictID),
		zap.String("strategy", string(conflict.Strategy)),
		zap.Int64("version", version.Version),
	)

	s.notifyChange(ctx, conflict.WorkflowID, version)

	return resolved, nil
}

// resolveChanges computes the resolved state for a conflict.
func resolveChanges(conflict *types.StateConflict) (*types.WorkflowState, error) {
	if len(conflict.Changes) == 0 {
		return nil, types.NewErrorf(types.ErrInternalError, "conflict %s has no changes", conflict.ID)
	}

	switch conflict.Strategy {
	case types.ResolveLastWriteWins:
		latest := conflict.Changes[0]
		for _, change := range conflict.Changes[1:] {
			if change.Timestamp.After(latest.Timestamp) {
				latest = change
			}
		}
		// The recorded old state competes on its own timestamp: a stale
		// write loses to the state that superseded it.
		if latest.OldState != nil && latest.OldState.UpdatedAt.After(latest.Timestamp) {
			return latest.OldState.Clone(), nil
		}
		return latest.NewState.Clone(), nil

	case types.ResolveMerge:
		base := conflict.Changes[0].OldState.Clone()
		ordered := make([]types.ConflictingChange, len(conflict.Changes))
		copy(ordered, conflict.Changes)
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].Timestamp.Before(ordered[j].Timestamp) })
		for _, change := range ordered {
			base = mergeStates(base, change.NewState)
		}
		return base, nil

	case types.ResolveManual:
		return nil, types.NewErrorf(types.ErrUnsupportedOperation, "conflict %s requires manual resolution", conflict.ID)

	default:
		return nil, types.NewErrorf(types.ErrUnsupportedOperation, "unknown resolution strategy %q", conflict.Strategy)
	}
}

// mergeStates shallow-merges update over base. Scalar fields take the
// update's value; the tasks, agents, and context maps merge key-by-key
// with the update winning per key.
func mergeStates(base, update *types.WorkflowState) *types.WorkflowState {
	if update == nil {
		return base
	}
	out := base.Clone()
	upd := update.Clone()

	out.Name = upd.Name
	out.Status = upd.Status
	out.CreatedAt = upd.CreatedAt
	out.UpdatedAt = upd.UpdatedAt
	out.Progress = upd.Progress

	if out.Tasks == nil {
		out.Tasks = make(map[string]*types.Task)
	}
	for k, v := range upd.Tasks {
		out.Tasks[k] = v
	}
	if upd.Agents != nil {
		if out.Agents == nil {
			out.Agents = make(map[string]*types.AgentAssignment)
		}
		for k, v := range upd.Agents {
			out.Agents[k] = v
		}
	}
	if upd.Context != nil {
		if out.Context == nil {
			out.Context = make(map[string]string)
		}
		for k, v := range upd.Context {
			out.Context[k] = v
		}
	}
	return out
}
