package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// HierarchyHash fingerprints the node set of a hierarchy. A stored reconciler
// choice is only meaningful for the hierarchy it was selected on.
type HierarchyHash Hash

func (h HierarchyHash) String() string { return Hash(h).String() }

// ComputeHierarchyHash hashes the node paths independent of their order.
func ComputeHierarchyHash(paths []string) HierarchyHash {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	return HierarchyHash(NewHash([]byte(strings.Join(sorted, "\n"))))
}
