// Package filter decides whether a post is eligible for deletion.
//
// A post is kept only when every enabled criterion passes: the day
// cutoff, the inclusive after/before range, reply and reblog exclusion,
// and at least one of the configured patterns. Literal patterns are
// case-sensitive substrings compared after NFC normalisation; regex
// patterns use RE2 search semantics, so (?i) opts into case folding.
//
// Evaluation is pure. The preview and execute passes build identical
// matchers and therefore reach identical verdicts.
package filter
