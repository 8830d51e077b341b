// Package storage holds the file helpers shared by the backup sink, the
// activity log and the run history.
//
// Everything written here may contain post content, so files are created
// 0600 and directories 0700. WriteAtomic replaces a file via a temporary
// file and rename so readers never observe a partial write.
package storage
