package store

import (
	"context"
	"testing"
	"time"

	"github.com/clinvia/assist/internal/protocol"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	rec := protocol.SessionRecord{
		ID:           "sess-1",
		UserID:       "u1",
		State:        protocol.StateConnected,
		Context:      map[string]any{"patient_id": "pat-9", "page": "schedule"},
		MessageCount: 7,
		CreatedAt:    created,
		LastActivity: created.Add(5 * time.Minute),
	}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Load(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("session not found after save")
	}
	if got.UserID != "u1" || got.State != protocol.StateConnected || got.MessageCount != 7 {
		t.Errorf("loaded record = %+v", got)
	}
	if got.Context["patient_id"] != "pat-9" {
		t.Errorf("Context = %v", got.Context)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if !got.ExpiresAt.IsZero() {
		t.Errorf("ExpiresAt = %v, want zero", got.ExpiresAt)
	}
}

func TestSaveReplacesExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := protocol.SessionRecord{
		ID: "sess-1", UserID: "u1", State: protocol.StateConnected,
		CreatedAt: time.Now(), LastActivity: time.Now(),
	}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}

	rec.MessageCount = 3
	rec.State = protocol.StateDisconnected
	if err := s.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Load(ctx, "sess-1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.MessageCount != 3 || got.State != protocol.StateDisconnected {
		t.Errorf("loaded record = %+v", got)
	}
}

func TestLoadMissingSession(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.Load(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("missing session reported as found")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := protocol.SessionRecord{
		ID: "sess-1", UserID: "u1", State: protocol.StateConnected,
		CreatedAt: time.Now(), LastActivity: time.Now(),
	}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "sess-1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Load(ctx, "sess-1"); ok {
		t.Fatal("session survived delete")
	}
	if err := s.Delete(ctx, "sess-1"); err != nil {
		t.Errorf("second delete errored: %v", err)
	}
}

func TestDeleteExpired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	old := protocol.SessionRecord{
		ID: "old", UserID: "u1", State: protocol.StateDisconnected,
		CreatedAt: now.Add(-2 * time.Hour), LastActivity: now.Add(-2 * time.Hour),
	}
	fresh := protocol.SessionRecord{
		ID: "fresh", UserID: "u1", State: protocol.StateConnected,
		CreatedAt: now, LastActivity: now,
	}
	for _, rec := range []protocol.SessionRecord{old, fresh} {
		if err := s.Save(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.DeleteExpired(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted %d sessions, want 1", n)
	}
	if _, ok, _ := s.Load(ctx, "old"); ok {
		t.Error("stale session survived the sweep")
	}
	if _, ok, _ := s.Load(ctx, "fresh"); !ok {
		t.Error("fresh session was swept")
	}
}
