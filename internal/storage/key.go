package storage

import (
	"fmt"
	"strings"

	"github.com/guardant/sentinel/internal/domain/nest"
)

const defaultKeySegment = "default"

// IsolationKey computes nest:<nestId>:<dataType>:<key-or-"default">, the
// sole cross-tenant partitioning key.
func IsolationKey(nestID nest.ID, dt DataType, key string) string {
	if key == "" {
		key = defaultKeySegment
	}
	return fmt.Sprintf("nest:%s:%s:%s", nestID, dt, key)
}

// Prefix computes the pattern-query prefix nest:<nestId>:<dataType>:
// used by GetByType.
func Prefix(nestID nest.ID, dt DataType) string {
	return fmt.Sprintf("nest:%s:%s:", nestID, dt)
}

// NestOf extracts the nest id embedded in an isolation key.
func NestOf(isolationKey string) (nest.ID, bool) {
	parts := strings.SplitN(isolationKey, ":", 4)
	if len(parts) < 2 || parts[0] != "nest" {
		return "", false
	}
	return nest.ID(parts[1]), true
}

// MatchesNest reports whether isolationKey belongs to nestID. The
// adapter does not call it: it builds every key from the caller's nest
// id, and Codec.Unwrap refuses a payload bound to another nest.
func MatchesNest(isolationKey string, nestID nest.ID) bool {
	got, ok := NestOf(isolationKey)
	return ok && got == nestID
}
