package util

import (
	"crypto/sha256"
	"fmt"
	"sort"
)

// maxRawKey bounds storage keys that are passed through verbatim.
const maxRawKey = 128

// StorageKey returns prefix:id, replacing id with a short hash when it is too long
// to hand to a provider as is. Callers that hash must keep the full id alongside the
// value to detect collisions.
func StorageKey(prefix, id string) string {
	if len(id) <= maxRawKey {
		return prefix + ":" + id
	}
	sum := sha256.Sum256([]byte(id))
	return fmt.Sprintf("%s:#%x", prefix, sum[:8]) // prefix + ":#" + first 16 hex chars
}

// SortedSet returns members sorted ascending with duplicates removed.
// The input slice is not modified.
func SortedSet(members []string) []string {
	if len(members) == 0 {
		return nil
	}
	s := make([]string, len(members))
	copy(s, members)
	sort.Strings(s)
	out := s[:1]
	for _, m := range s[1:] {
		if m != out[len(out)-1] {
			out = append(out, m)
		}
	}
	return out
}
