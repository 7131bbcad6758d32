package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures audit storage.
//
// Driver values:
//   - "file": dependency-free JSONL backend
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Well-known audit actions.
const (
	ActionScheduleSet    = "schedule.set"
	ActionOverrideAdd    = "override.add"
	ActionOverrideRemove = "override.remove"
	ActionCalendarSet    = "calendar.set"
	ActionRunDispatched  = "run.dispatched"
	ActionRunSkipped     = "run.skipped"
	ActionRunFailed      = "run.failed"
)

// AuditEntry records one admin mutation or dispatch outcome.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	Actor    string    `json:"actor"`
	Action   string    `json:"action"`
	Target   string    `json:"target,omitempty"` // date key, weekday key, ...
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms,omitempty"`
	MetaJSON string    `json:"meta,omitempty"`
}
