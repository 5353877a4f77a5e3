package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/stateflow/types"
)

// ArchivePolicy controls which versions the archive pass migrates out of
// live history.
type ArchivePolicy struct {
	// MaxVersions is the number of live versions retained per workflow
	// before older ones become eligible for archiving regardless of age.
	MaxVersions int `json:"max_versions" yaml:"max_versions"`

	// RetentionDays is the age threshold; versions older than this are
	// eligible for archiving.
	RetentionDays int `json:"retention_days" yaml:"retention_days"`

	// ColdStorageEnabled controls whether eligible versions are copied
	// to cold storage before removal. When false, eligible versions are
	// retained (dropping history without a copy would lose data).
	ColdStorageEnabled bool `json:"cold_storage_enabled" yaml:"cold_storage_enabled"`
}

// DefaultArchivePolicy returns the default archive policy.
func DefaultArchivePolicy() ArchivePolicy {
	return ArchivePolicy{
		MaxVersions:        100,
		RetentionDays:      30,
		ColdStorageEnabled: false,
	}
}

// archiveConcurrency bounds how many workflows an archive pass works on
// at once.
const archiveConcurrency = 4

// coldVersionPath is the cold-storage location of an archived version.
func coldVersionPath(workflowID string, version int64) string {
	return fmt.Sprintf("archive/%s/v%d", workflowID, version)
}

// Archive migrates old versions to cold storage across all workflows and
// returns how many versions were archived. Each workflow is processed
// atomically; partial progress across workflows is fine, and the pass is
// idempotent to re-run. The head version of a workflow is never archived,
// no matter how old it is: the active state must always have its version
// in live history.
func (s *VersionedStore) Archive(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "state.Archive")
	defer span.End()

	started := time.Now()

	workflows, err := s.Workflows(ctx)
	if err != nil {
		return 0, err
	}

	var archived atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(archiveConcurrency)
	for _, workflowID := range workflows {
		workflowID := workflowID
		g.Go(func() error {
			count, err := s.archiveWorkflow(gctx, workflowID)
			if err != nil {
				// One workflow failing does not abort the pass.
				s.logger.Error("archive pass failed for workflow",
					zap.String("workflow_id", workflowID),
					zap.Error(err),
				)
				return nil
			}
			archived.Add(int64(count))
			return nil
		})
	}
	_ = g.Wait()

	total := int(archived.Load())

	s.counters.Lock()
	s.counters.VersionsArchived += int64(total)
	s.counters.Unlock()
	s.collector.RecordArchivedVersions(total)

	s.logger.Info("archive pass completed",
		zap.Int("workflows", len(workflows)),
		zap.Int("versions_archived", total),
		zap.Duration("elapsed", time.Since(started)),
	)

	return total, nil
}

// archiveWorkflow archives one workflow's eligible versions. Either every
// eligible version is copied out and the trimmed list persisted, or the
// live history is left untouched.
func (s *VersionedStore) archiveWorkflow(ctx context.Context, workflowID string) (int, error) {
	lock := s.workflowLock(workflowID)
	lock.Lock()
	defer lock.Unlock()

	versions, err := s.loadVersions(ctx, workflowID)
	if err != nil {
		return 0, err
	}
	if len(versions) <= 1 {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -s.policy.RetentionDays)
	overflow := len(versions) - s.policy.MaxVersions

	eligible := make([]*types.StateVersion, 0)
	retained := make([]*types.StateVersion, 0, len(versions))
	for i, v := range versions {
		// The newest version is the head the active state points at.
		isHead := i == len(versions)-1
		tooOld := v.Timestamp.Before(cutoff)
		beyondCap := s.policy.MaxVersions > 0 && i < overflow
		if !isHead && (tooOld || beyondCap) {
			eligible = append(eligible, v)
		} else {
			retained = append(retained, v)
		}
	}
	if len(eligible) == 0 {
		return 0, nil
	}

	if !s.policy.ColdStorageEnabled || s.cold == nil {
		// Nowhere to copy to: keep history rather than drop it.
		s.logger.Debug("cold storage unavailable, retaining eligible versions",
			zap.String("workflow_id", workflowID),
			zap.Int("eligible", len(eligible)),
		)
		return 0, nil
	}

	for _, v := range eligible {
		data, err := json.Marshal(v)
		if err != nil {
			return 0, types.NewError(types.ErrInternalError, "failed to encode version for archiving").WithCause(err)
		}
		meta := map[string]string{
			"workflowId": workflowID,
			"versionId":  v.ID,
			"version":    fmt.Sprintf("%d", v.Version),
			"checksum":   v.Checksum,
		}
		if err := s.cold.Put(ctx, coldVersionPath(workflowID, v.Version), data, meta); err != nil {
			return 0, types.NewError(types.ErrInternalError, "failed to copy version to cold storage").WithCause(err)
		}
	}

	if err := s.storeVersions(ctx, workflowID, retained); err != nil {
		return 0, err
	}

	s.logger.Info("workflow versions archived",
		zap.String("workflow_id", workflowID),
		zap.Int("archived", len(eligible)),
		zap.Int("retained", len(retained)),
	)

	return len(eligible), nil
}

// ArchivedVersion fetches a previously archived version from cold storage.
func (s *VersionedStore) ArchivedVersion(ctx context.Context, workflowID string, version int64) (*types.StateVersion, error) {
	if s.cold == nil {
		return nil, types.NewError(types.ErrNotFound, "cold storage not configured")
	}

	obj, err := s.cold.Get(ctx, coldVersionPath(workflowID, version))
	if err != nil {
		return nil, types.NewErrorf(types.ErrNotFound, "archived version %d of workflow %s not found", version, workflowID)
	}

	var v types.StateVersion
	if err := json.Unmarshal(obj.Data, &v); err != nil {
		return nil, types.NewError(types.ErrInternalError, "corrupt archived version").WithCause(err)
	}
	return &v, nil
}
