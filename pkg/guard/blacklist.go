// Package guard implements the Semantic Guard (spec.md §4.3): rejecting
// outputs that parsed cleanly as JSON but are semantically vacuous — a
// verdict with no supporting substance, a summary that says nothing.
//
// The compiled-pattern-table style is grounded on pkg/masking/pattern.go's
// CompiledPattern + named-entry list, adapted from secret redaction to
// vacuous-phrase rejection.
package guard

import "regexp"

// blacklistEntry names one vacuous-phrase pattern, English or Korean
// equivalent, per spec.md §4.3 "plus the Korean equivalents".
type blacklistEntry struct {
	Name  string
	Regex *regexp.Regexp
}

var blacklist = compileBlacklist([]struct {
	name    string
	pattern string
}{
	{"reviewed_en", `(?i)i\s+have\s+reviewed`},
	{"looks_good_en", `(?i)looks?\s+good`},
	{"no_issues_en", `(?i)no\s+issues?`},
	{"seems_fine_en", `(?i)seems?\s+fine`},
	{"reviewed_ko", `검토\s*했습니다`},
	{"looks_good_ko", `괜찮습니다|좋아\s*보입니다`},
	{"no_issues_ko", `문제\s*없습니다`},
	{"seems_fine_ko", `괜찮은\s*것\s*같습니다`},
})

func compileBlacklist(entries []struct {
	name    string
	pattern string
}) []blacklistEntry {
	out := make([]blacklistEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, blacklistEntry{Name: e.name, Regex: regexp.MustCompile(e.pattern)})
	}
	return out
}

// MatchBlacklist reports whether content contains a vacuous-phrase pattern,
// returning the matched entry's name for diagnostics/logging.
func MatchBlacklist(content string) (name string, matched bool) {
	for _, entry := range blacklist {
		if entry.Regex.MatchString(content) {
			return entry.Name, true
		}
	}
	return "", false
}
