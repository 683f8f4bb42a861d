package guard

import "strings"

// verbTokens and subjectTokens give the Coder.summary minimum-substance rule
// (spec.md §4.3 "contains at least one verb token and one subject token") a
// concrete implementation. spec.md leaves "verb token"/"subject token"
// undefined; DESIGN.md records the resolution: a small closed vocabulary of
// common code-change verbs and subjects, checked as whole words. This
// accepts real summaries ("fixed the race in the worker pool") and rejects
// vacuous ones ("done") without needing a POS tagger dependency nowhere
// present in the retrieved pack.
var verbTokens = []string{
	"fix", "fixed", "fixes", "add", "added", "adds", "remove", "removed", "removes",
	"update", "updated", "updates", "refactor", "refactored", "refactors",
	"implement", "implemented", "implements", "rewrite", "rewrote", "rewritten",
	"resolve", "resolved", "resolves", "change", "changed", "changes",
	"introduce", "introduced", "introduces", "migrate", "migrated", "migrates",
	"replace", "replaced", "replaces", "handle", "handled", "handles",
}

var subjectTokens = []string{
	"function", "method", "test", "tests", "bug", "race", "endpoint", "handler",
	"parser", "worker", "pool", "query", "index", "migration", "schema",
	"config", "client", "server", "module", "package", "struct", "interface",
	"file", "files", "error", "errors", "validation", "cache", "queue", "job",
	"pipeline", "route", "adapter", "loop", "lock", "mutex", "connection",
}

func containsAnyToken(text string, tokens []string) bool {
	lower := strings.ToLower(text)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	for _, tok := range tokens {
		if set[tok] {
			return true
		}
	}
	return false
}

// hasVerbToken reports whether text contains at least one recognized
// action-verb token.
func hasVerbToken(text string) bool { return containsAnyToken(text, verbTokens) }

// hasSubjectToken reports whether text contains at least one recognized
// code-change subject token.
func hasSubjectToken(text string) bool { return containsAnyToken(text, subjectTokens) }
