package shared

import (
	"regexp"
	"strings"
)

var entityIDPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// IsEntityID reports whether value is a shard.realm.num entity ID such as an
// account, token or topic ID. Checksummed forms are not accepted.
func IsEntityID(value string) bool {
	return entityIDPattern.MatchString(strings.TrimSpace(value))
}
