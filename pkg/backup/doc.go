// Package backup keeps a local copy of everything the tool deletes.
//
// Sink appends one JSON object per deleted post to an owner-only JSONL
// file; each record carries the post id, creation and deletion times,
// flags, the plain text and the raw status. Write failures are returned to
// the caller, which logs them as warnings and deletes anyway.
//
// ActivityLog writes the human readable list of matched posts used in
// both preview and delete runs.
package backup
