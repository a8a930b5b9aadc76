package backend

import (
	"regexp"
	"strings"
)

// The backend emits suggestions as newline-separated "FOLLOWUPn: <text>"
// lines. The format is a boundary contract and is preserved byte-for-byte;
// keep all parsing of it behind ParseFollowups.
var followupPattern = regexp.MustCompile(`(?m)FOLLOWUP\d: (.+)$`)

// ParseFollowups extracts every suggestion line from raw text, trimmed and
// in order of appearance. Zero matches is a valid outcome and yields an
// empty slice.
func ParseFollowups(raw string) []string {
	matches := followupPattern.FindAllStringSubmatch(raw, -1)
	followups := make([]string, 0, len(matches))
	for _, m := range matches {
		if text := strings.TrimSpace(m[1]); text != "" {
			followups = append(followups, text)
		}
	}
	return followups
}
