package session

import (
	"fmt"
	"strings"
)

// uniqueName returns base when free, otherwise base with the lowest unused
// numeric suffix: "probe", "probe 2", "probe 3".
func uniqueName(base string, taken func(string) bool) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = "session"
	}
	if !taken(base) {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s %d", base, n)
		if !taken(candidate) {
			return candidate
		}
	}
}
