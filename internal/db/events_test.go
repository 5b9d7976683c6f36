package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Dicklesworthstone/codex_account_manager/internal/account"
)

func TestDB_RecordAndStats(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	events := []account.Event{
		{Timestamp: base, Type: account.EventAdd, AccountID: "acc", Alias: "work", Details: map[string]any{"rank": 0}},
		{Timestamp: base.Add(time.Minute), Type: account.EventSwitch, AccountID: "acc", Alias: "work"},
		{Timestamp: base.Add(2 * time.Minute), Type: account.EventSyncActivate, AccountID: "acc", Alias: "work"},
		{Timestamp: base.Add(3 * time.Minute), Type: account.EventSwitch, AccountID: "acc", Alias: "work"},
		{Timestamp: base.Add(4 * time.Minute), Type: account.EventMigrate, Details: map[string]any{"credentials_moved": 2}},
	}
	for _, ev := range events {
		if err := d.Record(ctx, ev); err != nil {
			t.Fatalf("Record(%s) error = %v", ev.Type, err)
		}
	}

	stats, err := d.Stats(ctx, "acc")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats == nil {
		t.Fatal("Stats() = nil")
	}
	if stats.TotalSwitches != 2 || stats.TotalSyncs != 1 {
		t.Errorf("stats = %+v, want 2 switches 1 sync", stats)
	}
	if !stats.LastActive.Equal(base.Add(3 * time.Minute)) {
		t.Errorf("LastActive = %v, want %v", stats.LastActive, base.Add(3*time.Minute))
	}

	none, err := d.Stats(ctx, "unknown")
	if err != nil || none != nil {
		t.Errorf("Stats(unknown) = %+v, %v; want nil, nil", none, err)
	}

	got, err := d.Events(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("Events() returned %d, want %d", len(got), len(events))
	}
	if got[0].Type != account.EventMigrate || got[0].AccountID != "" {
		t.Errorf("newest event = %+v, want migrate", got[0])
	}
	if v, ok := got[0].Details["credentials_moved"].(float64); !ok || v != 2 {
		t.Errorf("details = %v", got[0].Details)
	}
	if got[len(got)-1].Type != account.EventAdd {
		t.Errorf("oldest event = %+v, want add", got[len(got)-1])
	}
}

func TestDB_EventsFilter(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "a", "a"} {
		if err := d.LogEvent(ctx, Event{Timestamp: base.Add(time.Duration(i) * time.Hour), Type: account.EventSwitch, AccountID: id}); err != nil {
			t.Fatal(err)
		}
	}

	byAccount, err := d.Events(ctx, EventFilter{AccountID: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byAccount) != 3 {
		t.Errorf("AccountID filter returned %d, want 3", len(byAccount))
	}

	since, err := d.Events(ctx, EventFilter{Since: base.Add(90 * time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if len(since) != 2 {
		t.Errorf("Since filter returned %d, want 2", len(since))
	}

	limited, err := d.Events(ctx, EventFilter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || !limited[0].Timestamp.Equal(base.Add(3*time.Hour)) {
		t.Errorf("Limit 1 returned %+v", limited)
	}

	typed, err := d.Events(ctx, EventFilter{Type: account.EventRemove})
	if err != nil {
		t.Fatal(err)
	}
	if len(typed) != 0 {
		t.Errorf("Type filter returned %d, want 0", len(typed))
	}
}

func TestDB_LogEventValidation(t *testing.T) {
	d := openTestDB(t)
	if err := d.LogEvent(context.Background(), Event{Type: "  "}); err == nil {
		t.Error("LogEvent without type should fail")
	}
}

func TestDB_Prune(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for _, age := range []int{200, 100, 10, 1} {
		if err := d.LogEvent(ctx, Event{Timestamp: now.AddDate(0, 0, -age), Type: account.EventSwitch, AccountID: "x"}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := d.PruneRetention(ctx, 0, now)
	if err != nil || n != 0 {
		t.Errorf("PruneRetention(0) = %d, %v; want no-op", n, err)
	}

	n, err = d.PruneRetention(ctx, 90, now)
	if err != nil {
		t.Fatalf("PruneRetention() error = %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d, want 2", n)
	}
	left, _ := d.Events(ctx, EventFilter{})
	if len(left) != 2 {
		t.Errorf("remaining events = %d, want 2", len(left))
	}
}

func TestDB_ForgetAccount(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	if err := d.LogEvent(ctx, Event{Type: account.EventSwitch, AccountID: "gone"}); err != nil {
		t.Fatal(err)
	}
	if err := d.ForgetAccount(ctx, "gone"); err != nil {
		t.Fatalf("ForgetAccount() error = %v", err)
	}
	if s, _ := d.Stats(ctx, "gone"); s != nil {
		t.Errorf("stats survived ForgetAccount: %+v", s)
	}
	if evs, _ := d.Events(ctx, EventFilter{AccountID: "gone"}); len(evs) != 1 {
		t.Errorf("history rows = %d, want 1", len(evs))
	}
}

func TestDB_ConcurrentRecord(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Record(ctx, account.Event{Type: account.EventSyncActivate, AccountID: "acc"}); err != nil {
				t.Errorf("Record() error = %v", err)
			}
		}()
	}
	wg.Wait()

	stats, err := d.Stats(ctx, "acc")
	if err != nil || stats == nil {
		t.Fatalf("Stats() = %v, %v", stats, err)
	}
	if stats.TotalSyncs != 20 {
		t.Errorf("TotalSyncs = %d, want 20", stats.TotalSyncs)
	}
}
