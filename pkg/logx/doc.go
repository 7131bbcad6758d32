// Package logx configures remindbot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An in-memory audience feed (admin vs public rings) for the HTTP layer
//
// The public audience is a deliberately restricted view: callers tag lines
// with Public() and must phrase them without raw error detail.
package logx
