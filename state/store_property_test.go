package state

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/BaSui01/stateflow/persistence"
	"github.com/BaSui01/stateflow/types"
)

func TestProperty_VersionHistoryMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("version numbers are sequential with no gaps and parents chain", prop.ForAll(
		func(workflowID string, writeCount int) bool {
			ctx := context.Background()
			kv := persistence.NewMemoryKVStore()
			defer kv.Close()
			store := NewVersionedStore(kv)

			base := time.Now()
			for i := 0; i < writeCount; i++ {
				st := testState(workflowID, base.Add(time.Duration(i)*time.Second))
				if _, err := store.Write(ctx, workflowID, st, "agent-1", ""); err != nil {
					t.Logf("Write failed: %v", err)
					return false
				}
			}

			history, err := store.History(ctx, workflowID)
			if err != nil {
				t.Logf("History failed: %v", err)
				return false
			}
			if len(history) != writeCount {
				t.Logf("Expected %d versions, got %d", writeCount, len(history))
				return false
			}

			// History is newest first; versions count down from writeCount
			// to 1 without gaps.
			for i, v := range history {
				expected := int64(writeCount - i)
				if v.Version != expected {
					t.Logf("Version mismatch at index %d: expected %d, got %d", i, expected, v.Version)
					return false
				}
			}

			// Each version's parent is the ID of the previous version; the
			// first version has no parent.
			for i := 0; i < len(history)-1; i++ {
				if history[i].ParentID != history[i+1].ID {
					t.Logf("Parent chain broken at version %d", history[i].Version)
					return false
				}
			}
			if history[len(history)-1].ParentID != "" {
				t.Logf("First version has unexpected parent %s", history[len(history)-1].ParentID)
				return false
			}

			return true
		},
		gen.Identifier(),    // workflowID
		gen.IntRange(1, 10), // writeCount
	))

	properties.TestingRun(t)
}

func TestProperty_ReadMatchesNewestVersion(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("read returns the state of the newest version with a valid checksum", prop.ForAll(
		func(workflowID string, writeCount int, progress int) bool {
			ctx := context.Background()
			kv := persistence.NewMemoryKVStore()
			defer kv.Close()
			store := NewVersionedStore(kv)

			base := time.Now()
			var last *types.WorkflowState
			for i := 0; i < writeCount; i++ {
				st := testState(workflowID, base.Add(time.Duration(i)*time.Second))
				st.Progress.CompletedTasks = progress
				if _, err := store.Write(ctx, workflowID, st, "agent-1", ""); err != nil {
					t.Logf("Write failed: %v", err)
					return false
				}
				last = st
			}

			got, err := store.Read(ctx, workflowID)
			if err != nil {
				t.Logf("Read failed: %v", err)
				return false
			}
			if got.UpdatedAt.UnixNano() != last.UpdatedAt.UnixNano() {
				t.Logf("Read returned stale state: %v vs %v", got.UpdatedAt, last.UpdatedAt)
				return false
			}
			if got.Progress.CompletedTasks != progress {
				t.Logf("Progress mismatch: expected %d, got %d", progress, got.Progress.CompletedTasks)
				return false
			}

			// The newest version's checksum verifies against its state.
			history, err := store.History(ctx, workflowID)
			if err != nil {
				t.Logf("History failed: %v", err)
				return false
			}
			head := history[0]
			digest, err := Digest(head.State)
			if err != nil {
				t.Logf("Digest failed: %v", err)
				return false
			}
			if digest != head.Checksum {
				t.Logf("Checksum mismatch on head version %d", head.Version)
				return false
			}

			return true
		},
		gen.Identifier(),    // workflowID
		gen.IntRange(1, 8),  // writeCount
		gen.IntRange(0, 50), // progress
	))

	properties.TestingRun(t)
}
