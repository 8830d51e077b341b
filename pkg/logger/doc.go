// Package logger provides structured logging for mastogone.
//
// It wraps zerolog behind the Logger interface so that components can be
// handed a TestLogger in tests. Verbosity maps onto levels:
//
//	quiet   -> error (the summary and progress line are printed by package ui)
//	normal  -> info, one line per processed status
//	verbose -> debug, including request/response detail
//
// Fields named token, access_token or authorization are always redacted.
//
//	log := logger.GetLogger().WithField("status_id", id)
//	log.WithError(err).Warn("delete failed")
package logger
