package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"remindbot/pkg/logx"
)

func TestFileStoreAppendAndRecent(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "audit.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	ctx := context.Background()
	for i, action := range []string{ActionScheduleSet, ActionOverrideAdd, ActionRunDispatched} {
		e := AuditEntry{
			At:     time.Now().Add(time.Duration(i) * time.Second),
			Actor:  "alice",
			Action: action,
			OK:     true,
		}
		if err := st.AppendAudit(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := st.RecentAudit(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// Newest first.
	if got[0].Action != ActionRunDispatched || got[1].Action != ActionOverrideAdd {
		t.Fatalf("order = %s, %s", got[0].Action, got[1].Action)
	}
}

func TestFileStoreSkipsTornLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.db")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.AppendAudit(ctx, AuditEntry{Actor: "alice", Action: ActionCalendarSet, OK: true}); err != nil {
		t.Fatal(err)
	}

	// Simulate a torn write.
	f, err := os.OpenFile(filepath.Join(dir, "audit.audit.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"actor":"bob","act`); err != nil {
		t.Fatal(err)
	}
	f.Close()

	got, err := st.RecentAudit(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Actor != "alice" {
		t.Fatalf("entries = %+v", got)
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	st, err := Open(Config{Driver: ""}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("disabled storage should be (nil, nil), got (%v, %v)", st, err)
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver must error")
	}
}
