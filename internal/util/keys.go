// Package util holds key helpers shared by the root package and the hooks.
package util

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Digest returns the first 16 hex chars of the SHA-256 of s.
func Digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// SetKey returns prefix + ":" + Digest of the deduplicated, sorted members, so
// the same set yields the same key in any order.
func SetKey(prefix string, members []string) string {
	s := make([]string, len(members))
	copy(s, members)
	sort.Strings(s)
	uniq := s[:0]
	for i, m := range s {
		if i == 0 || m != s[i-1] {
			uniq = append(uniq, m)
		}
	}
	// NUL-separated so {"a,b"} and {"a", "b"} differ.
	return prefix + ":" + Digest(strings.Join(uniq, "\x00"))
}
