package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/persistence"
	"github.com/BaSui01/stateflow/types"
)

// coldSnapshotPath is the cold-storage location of a mirrored snapshot.
func coldSnapshotPath(workflowID, snapshotID string) string {
	return fmt.Sprintf("snapshots/%s/%s", workflowID, snapshotID)
}

// Snapshot creates a point-in-time, checksummed copy of a workflow's
// active state, independent of the version chain. When cold storage is
// configured the snapshot is mirrored there best-effort: a mirror failure
// is logged, never returned.
func (s *VersionedStore) Snapshot(ctx context.Context, workflowID, description string) (*types.StateSnapshot, error) {
	started := time.Now()

	active, err := s.loadActive(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	checksum, err := Digest(active)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to compute snapshot digest").WithCause(err)
	}

	stateData, err := json.Marshal(active)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to encode snapshot state").WithCause(err)
	}

	snapshot := &types.StateSnapshot{
		ID:          uuid.New().String(),
		WorkflowID:  workflowID,
		State:       active,
		CreatedAt:   time.Now(),
		Description: description,
		SizeBytes:   int64(len(stateData)),
		Checksum:    checksum,
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to encode snapshot").WithCause(err)
	}
	if err := s.kv.Put(ctx, snapshotKey(workflowID, snapshot.ID), data); err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to persist snapshot").WithCause(err)
	}

	if s.cold != nil {
		meta := map[string]string{
			"workflowId": workflowID,
			"snapshotId": snapshot.ID,
			"checksum":   checksum,
		}
		if err := s.cold.Put(ctx, coldSnapshotPath(workflowID, snapshot.ID), data, meta); err != nil {
			s.logger.Warn("snapshot cold-storage mirror failed",
				zap.String("workflow_id", workflowID),
				zap.String("snapshot_id", snapshot.ID),
				zap.Error(err),
			)
		}
	}

	s.counters.Lock()
	s.counters.SnapshotsCreated++
	s.counters.Unlock()
	s.collector.RecordSnapshot("create", time.Since(started))

	s.logger.Info("snapshot created",
		zap.String("workflow_id", workflowID),
		zap.String("snapshot_id", snapshot.ID),
		zap.Int64("size_bytes", snapshot.SizeBytes),
	)

	return snapshot, nil
}

// Restore writes a snapshot's state back as a new version, preserving the
// audit trail, and notifies subscribers. The snapshot's checksum is
// recomputed first; a mismatch aborts the restore with an integrity error.
func (s *VersionedStore) Restore(ctx context.Context, workflowID, snapshotID string) (*types.StateVersion, error) {
	started := time.Now()

	snapshot, err := s.loadSnapshot(ctx, workflowID, snapshotID)
	if err != nil {
		return nil, err
	}

	ok, err := VerifyDigest(snapshot.State, snapshot.Checksum)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to recompute snapshot digest").WithCause(err)
	}
	if !ok {
		return nil, types.NewErrorf(types.ErrIntegrity, "snapshot %s failed integrity verification", snapshotID)
	}

	lock := s.workflowLock(workflowID)
	lock.Lock()
	version, err := s.appendVersion(ctx, workflowID, snapshot.State, resolverAuthor,
		fmt.Sprintf("restored from snapshot %s", snapshotID))
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	s.collector.RecordSnapshot("restore", time.Since(started))

	s.logger.Info("snapshot restored",
		zap.String("workflow_id", workflowID),
		zap.String("snapshot_id", snapshotID),
		zap.Int64("version", version.Version),
	)

	s.notifyChange(ctx, workflowID, version)

	return version, nil
}

// loadSnapshot looks a snapshot up locally first, then in cold storage.
func (s *VersionedStore) loadSnapshot(ctx context.Context, workflowID, snapshotID string) (*types.StateSnapshot, error) {
	data, err := s.kv.Get(ctx, snapshotKey(workflowID, snapshotID))
	if err == nil {
		var snapshot types.StateSnapshot
		if err := json.Unmarshal(data, &snapshot); err != nil {
			return nil, types.NewError(types.ErrInternalError, fmt.Sprintf("corrupt snapshot %s", snapshotID)).WithCause(err)
		}
		return &snapshot, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return nil, types.NewError(types.ErrInternalError, "failed to load snapshot").WithCause(err)
	}

	if s.cold != nil {
		obj, coldErr := s.cold.Get(ctx, coldSnapshotPath(workflowID, snapshotID))
		if coldErr == nil {
			var snapshot types.StateSnapshot
			if err := json.Unmarshal(obj.Data, &snapshot); err != nil {
				return nil, types.NewError(types.ErrInternalError, fmt.Sprintf("corrupt cold snapshot %s", snapshotID)).WithCause(err)
			}
			return &snapshot, nil
		}
		if !errors.Is(coldErr, persistence.ErrNotFound) {
			s.logger.Warn("cold-storage snapshot lookup failed",
				zap.String("snapshot_id", snapshotID),
				zap.Error(coldErr),
			)
		}
	}

	return nil, types.NewErrorf(types.ErrNotFound, "snapshot %s not found for workflow %s", snapshotID, workflowID)
}

// Snapshots lists a workflow's locally held snapshots, newest first.
func (s *VersionedStore) Snapshots(ctx context.Context, workflowID string) ([]*types.StateSnapshot, error) {
	keys, err := s.kv.List(ctx, "snapshot:"+workflowID+":")
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to list snapshots").WithCause(err)
	}

	out := make([]*types.StateSnapshot, 0, len(keys))
	for _, key := range keys {
		data, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var snapshot types.StateSnapshot
		if err := json.Unmarshal(data, &snapshot); err != nil {
			s.logger.Warn("skipping corrupt snapshot record", zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteSnapshot removes a locally held snapshot. Cold-storage mirrors
// are retained.
func (s *VersionedStore) DeleteSnapshot(ctx context.Context, workflowID, snapshotID string) error {
	key := snapshotKey(workflowID, snapshotID)
	if _, err := s.kv.Get(ctx, key); errors.Is(err, persistence.ErrNotFound) {
		return types.NewErrorf(types.ErrNotFound, "snapshot %s not found for workflow %s", snapshotID, workflowID)
	} else if err != nil {
		return types.NewError(types.ErrInternalError, "failed to load snapshot").WithCause(err)
	}
	if err := s.kv.Delete(ctx, key); err != nil {
		return types.NewError(types.ErrInternalError, "failed to delete snapshot").WithCause(err)
	}
	return nil
}
