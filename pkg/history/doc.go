// Package history keeps a short record of past runs per instance.
//
// It does not resume anything: every run rescans the whole account. The
// record only answers "when did this last run and what did it do", which
// the history command and the scheduler print.
//
// History files live under the per-user data directory:
//   - $XDG_DATA_HOME/mastogone/history/ when XDG_DATA_HOME is set
//   - ~/.local/share/mastogone/history/ otherwise
//
// Files are rewritten atomically and are readable by the owner only.
package history
