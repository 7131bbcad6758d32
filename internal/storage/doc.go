// Package storage persists the audit trail: admin mutations and dispatch
// outcomes. Two drivers are provided, a dependency-free JSONL file backend
// and an optional SQLite backend behind the "sqlite" build tag.
package storage
