package ledger

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestNewID_Format(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	id := NewID("Main Display", now)

	if !strings.HasPrefix(id, "session-main-display-20260314T0926Z-") {
		t.Errorf("id = %q, want prefix session-main-display-20260314T0926Z-", id)
	}
	suffix := id[strings.LastIndex(id, "-")+1:]
	if len(suffix) != 4 {
		t.Errorf("random suffix = %q, want 4 hex chars", suffix)
	}
}

func TestNewID_EmptyNameDefaults(t *testing.T) {
	t.Parallel()

	id := NewID("", time.Now())
	if !strings.HasPrefix(id, "session-capture-") {
		t.Errorf("id = %q, want prefix session-capture-", id)
	}
}

func TestNewID_Unique(t *testing.T) {
	t.Parallel()

	now := time.Now()
	seen := make(map[string]struct{}, 100)
	for range 100 {
		id := NewID("display", now)
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestMemoryLedger_AppendAndRecent(t *testing.T) {
	t.Parallel()

	l := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i := range 3 {
		rec := Record{
			ID:        NewID("display", base.Add(time.Duration(i)*time.Minute)),
			Location:  "/var/spool/capstan/s" + string(rune('a'+i)),
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			EndedAt:   base.Add(time.Duration(i)*time.Minute + 30*time.Second),
		}
		if err := l.Append(ctx, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recent, err := l.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len(recent) = %d, want 2", len(recent))
	}
	if !recent[0].StartedAt.After(recent[1].StartedAt) {
		t.Errorf("records not newest-first: %v then %v", recent[0].StartedAt, recent[1].StartedAt)
	}
}

func TestMemoryLedger_RejectsDuplicateID(t *testing.T) {
	t.Parallel()

	l := NewMemory()
	ctx := context.Background()
	rec := Record{ID: "session-x", StartedAt: time.Now(), EndedAt: time.Now()}

	if err := l.Append(ctx, rec); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	if err := l.Append(ctx, rec); err == nil {
		t.Error("second Append with same ID succeeded, want error")
	}
}

func TestMemoryLedger_RecentEmpty(t *testing.T) {
	t.Parallel()

	l := NewMemory()
	recent, err := l.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("len(recent) = %d, want 0", len(recent))
	}
}
