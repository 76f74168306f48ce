package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	separatorRe = regexp.MustCompile(`[\s\-]+`)
	headerRe    = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	folder      = cases.Fold()
)

// Status canonicalizes a job status read from the wire.
// Comparison is case-insensitive and tolerant to space or hyphen separators:
//
//	"COMPLETED"                 -> "completed"
//	" Completed With Warnings " -> "completed_with_warnings"
//	"in-progress"               -> "in_progress"
func Status(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return separatorRe.ReplaceAllString(s, "_")
}

// Header folds a source column header into a comparable key.
// Unicode compatibility forms are composed first (NFKC), then the string is
// case-folded and every run of non letter/digit characters becomes a single underscore.
func Header(s string) string {
	s = norm.NFKC.String(strings.TrimSpace(s))
	s = folder.String(s)
	s = headerRe.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}
