package policy

import (
	"regexp"
	"strings"
)

var (
	uuidSegment = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	hexSegment  = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)
	numSegment  = regexp.MustCompile(`^[0-9]+$`)
)

// Rewrites identifier-shaped path segments (integers, 24-hex ids,
// UUIDs) to ":id" so that /users/42 and /users/507f1f77bcf86cd799439011
// both resolve to the /users/:id policy. Idempotent.
func NormalizePath(path string) string {
	if path == "" || path == "/" {
		return path
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if numSegment.MatchString(seg) || hexSegment.MatchString(seg) || uuidSegment.MatchString(seg) {
			segments[i] = ":id"
		}
	}

	return strings.Join(segments, "/")
}
