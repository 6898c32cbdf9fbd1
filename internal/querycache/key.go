package querycache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Key derives the deterministic cache key for a query shape. Filter
// parameters are serialized in sorted key order, so two logically identical
// queries produce the same key regardless of insertion order.
func Key(queryName string, filters map[string]string) string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(queryName))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(filters[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}
