package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBind_ConflictsAndRebind(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	first := Binding{AccountRef: "acc-a", SessionID: "s1", CreatedAt: "2025-05-01T00:00:00Z", FilePath: "/sessions/s1.jsonl", BoundAt: now}
	if err := d.Bind(ctx, first); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	sameSession := first
	sameSession.AccountRef = "acc-b"
	if err := d.Bind(ctx, sameSession); !errors.Is(err, ErrBindingConflict) {
		t.Errorf("binding a session to a second account: err = %v, want ErrBindingConflict", err)
	}

	sameFile := Binding{AccountRef: "acc-b", SessionID: "s2", FilePath: "/sessions/s1.jsonl", BoundAt: now}
	if err := d.Bind(ctx, sameFile); !errors.Is(err, ErrBindingConflict) {
		t.Errorf("binding a file to a second account: err = %v, want ErrBindingConflict", err)
	}

	moved := first
	moved.FilePath = "/sessions/archive/s1.jsonl"
	moved.BoundAt = now.Add(time.Hour)
	if err := d.Bind(ctx, moved); err != nil {
		t.Fatalf("re-Bind() error = %v", err)
	}

	got, err := d.Bindings(ctx, "acc-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].FilePath != moved.FilePath || !got[0].BoundAt.Equal(moved.BoundAt) {
		t.Errorf("Bindings() = %+v, want the updated binding", got)
	}
}

func TestBind_Validation(t *testing.T) {
	d := openTestDB(t)
	for _, b := range []Binding{
		{SessionID: "s", FilePath: "/f"},
		{AccountRef: "a", FilePath: "/f"},
		{AccountRef: "a", SessionID: "s"},
	} {
		if err := d.Bind(context.Background(), b); err == nil {
			t.Errorf("Bind(%+v) should fail", b)
		}
	}
}

func TestBind_CapsPerAccount(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	total := MaxBindingsPerAccount + 5
	for i := 0; i < total; i++ {
		b := Binding{
			AccountRef: "acc",
			SessionID:  fmt.Sprintf("s%03d", i),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
			FilePath:   fmt.Sprintf("/sessions/%03d.jsonl", i),
			BoundAt:    base,
		}
		if err := d.Bind(ctx, b); err != nil {
			t.Fatalf("Bind(%d) error = %v", i, err)
		}
	}

	got, err := d.Bindings(ctx, "acc")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != MaxBindingsPerAccount {
		t.Fatalf("kept %d bindings, want %d", len(got), MaxBindingsPerAccount)
	}
	if got[0].SessionID != fmt.Sprintf("s%03d", total-1) {
		t.Errorf("newest = %s", got[0].SessionID)
	}
	if got[len(got)-1].SessionID != "s005" {
		t.Errorf("oldest kept = %s, want s005", got[len(got)-1].SessionID)
	}
}

func TestLatestBoundSession(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	dir := t.TempDir()

	older := filepath.Join(dir, "older.jsonl")
	newer := filepath.Join(dir, "newer.jsonl")
	for _, p := range []string{older, newer} {
		if err := os.WriteFile(p, []byte("{}\n"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatal(err)
	}

	for i, p := range []string{newer, older, filepath.Join(dir, "deleted.jsonl")} {
		b := Binding{AccountRef: "acc", SessionID: fmt.Sprintf("s%d", i), CreatedAt: fmt.Sprintf("2025-0%d", i+1), FilePath: p}
		if err := d.Bind(ctx, b); err != nil {
			t.Fatal(err)
		}
	}

	got, err := d.LatestBoundSession(ctx, "acc")
	if err != nil {
		t.Fatalf("LatestBoundSession() error = %v", err)
	}
	if got.FilePath != newer {
		t.Errorf("LatestBoundSession() = %s, want %s", got.FilePath, newer)
	}

	if _, err := d.LatestBoundSession(ctx, "nobody"); !errors.Is(err, ErrNoBinding) {
		t.Errorf("LatestBoundSession(nobody) err = %v, want ErrNoBinding", err)
	}
}
