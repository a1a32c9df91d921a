package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/carebridge/carebridge/internal/platform/auth"
)

type fakeStore struct {
	mu      sync.Mutex
	entries []*Entry
	err     error
}

func (f *fakeStore) Append(ctx context.Context, entry *Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeStore) Search(ctx context.Context, q Query) (*Page, error) {
	return &Page{}, nil
}

func (f *fakeStore) written() []*Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries
}

func TestRecorder_SuccessEntry(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store)

	actor := &auth.Actor{ID: "u-1", Role: auth.RoleProvider, Category: auth.CategoryServiceProvider}
	scope := r.Begin(actor, "client.read", "Client")
	scope.SetResourceID("c-1")
	scope.SetPHIAccessed()
	scope.SetRequest("req-1", "10.0.0.9")
	scope.Complete(OutcomeSuccess, "")

	entries := store.written()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ActorID != "u-1" || e.ActorRole != "provider" {
		t.Errorf("actor fields = %q/%q", e.ActorID, e.ActorRole)
	}
	if e.Action != "client.read" || e.ResourceType != "Client" || e.ResourceID != "c-1" {
		t.Errorf("operation fields = %q/%q/%q", e.Action, e.ResourceType, e.ResourceID)
	}
	if !e.PHIAccessed {
		t.Error("PHIAccessed not set")
	}
	if e.Outcome != OutcomeSuccess || e.FailureReason != "" {
		t.Errorf("outcome = %q/%q", e.Outcome, e.FailureReason)
	}
	if e.RequestID != "req-1" || e.SourceIP != "10.0.0.9" {
		t.Errorf("request fields = %q/%q", e.RequestID, e.SourceIP)
	}
	if e.RetentionExpiry.Before(e.OccurredAt.AddDate(7, 0, 0)) {
		t.Error("retention expiry is under seven years")
	}
}

func TestRecorder_NilActorIsAnonymous(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store)

	r.Begin(nil, "client.read", "Client").Complete(OutcomeFailure, "AUTHENTICATION_ERROR: authentication required")

	entries := store.written()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ActorID != "anonymous" {
		t.Errorf("ActorID = %q, want anonymous", entries[0].ActorID)
	}
	if entries[0].Outcome != OutcomeFailure {
		t.Errorf("Outcome = %q", entries[0].Outcome)
	}
}

func TestScope_CompleteIsIdempotent(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store)

	scope := r.Begin(nil, "client.read", "Client")
	scope.Complete(OutcomeFailure, "AUTHORIZATION_ERROR: access denied")
	scope.Complete(OutcomeSuccess, "")

	entries := store.written()
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 entry, got %d", len(entries))
	}
	// The first completion wins.
	if entries[0].Outcome != OutcomeFailure {
		t.Errorf("Outcome = %q, want failure", entries[0].Outcome)
	}
}

func TestScope_SnapshotIsRedacted(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store)

	scope := r.Begin(nil, "client.create", "Client")
	scope.SetSnapshot(map[string]any{"ssn": "123-45-6789", "first_name": "Jane"})
	scope.Complete(OutcomeSuccess, "")

	snap := store.written()[0].Snapshot
	if snap["ssn"] != redactedPlaceholder {
		t.Errorf("ssn = %v, want placeholder", snap["ssn"])
	}
	if snap["first_name"] != "Jane" {
		t.Errorf("first_name = %v", snap["first_name"])
	}
}

func TestRecorder_StoreFailureDoesNotPanic(t *testing.T) {
	r := NewRecorder(&fakeStore{err: errors.New("store down")})

	// A failed write is logged and dropped; Complete must return normally.
	r.Begin(nil, "client.read", "Client").Complete(OutcomeSuccess, "")
}

func TestMarker(t *testing.T) {
	bare := context.Background()
	if MarkRecorded(bare) {
		t.Error("marking without a marker should report false")
	}
	if AlreadyRecorded(bare) {
		t.Error("bare context should not read as recorded")
	}

	ctx := ContextWithMarker(context.Background())
	if AlreadyRecorded(ctx) {
		t.Error("fresh marker should not read as recorded")
	}
	if !MarkRecorded(ctx) {
		t.Error("marking an armed context should succeed")
	}
	if !AlreadyRecorded(ctx) {
		t.Error("marked context should read as recorded")
	}
}
