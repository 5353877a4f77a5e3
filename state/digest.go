package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/BaSui01/stateflow/types"
)

// Digest computes the SHA-256 checksum of a workflow state's canonical
// JSON serialization. The state is normalized through a generic round
// trip before hashing: a task payload holding a struct value marshals in
// field-declaration order, but once it crosses the KV store it comes back
// as a map and marshals in sorted-key order. Hashing the normalized form
// makes the digest recomputable at read time for both shapes.
func Digest(s *types.WorkflowState) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	data, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyDigest recomputes the digest of state and compares it to want.
func VerifyDigest(s *types.WorkflowState, want string) (bool, error) {
	got, err := Digest(s)
	if err != nil {
		return false, err
	}
	return got == want, nil
}
