package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirosfoundation/go-as4-gateway/internal/storage"
	"github.com/sirosfoundation/go-as4-gateway/pkg/reliability"
)

func TestStore_DeliveryLogLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	log := &storage.DeliveryLog{
		ID:        "log-1",
		MessageID: "msg-1",
		MshRole:   reliability.RoleSending,
		Status:    reliability.StatusSendEnqueued,
		Received:  time.Now(),
	}
	if err := s.CreateDeliveryLog(ctx, log); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Same messageId and role is a conflict.
	dup := *log
	dup.ID = "log-2"
	if err := s.CreateDeliveryLog(ctx, &dup); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	// Same messageId in the other role is fine.
	other := *log
	other.ID = "log-3"
	other.MshRole = reliability.RoleReceiving
	if err := s.CreateDeliveryLog(ctx, &other); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	got, err := s.GetDeliveryLog(ctx, "msg-1", reliability.RoleSending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "log-1" {
		t.Errorf("expected log-1, got %s", got.ID)
	}

	got.Status = reliability.StatusWaitingForReceipt
	if err := s.UpdateDeliveryLog(ctx, got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	status, err := s.GetStatus(ctx, "msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != reliability.StatusWaitingForReceipt && status != reliability.StatusSendEnqueued {
		// Either role's status is acceptable for the role-agnostic lookup,
		// but it must not be NOT_FOUND.
		t.Errorf("unexpected status %s", status)
	}

	if status, _ := s.GetStatus(ctx, "ghost"); status != reliability.StatusNotFound {
		t.Errorf("expected NOT_FOUND for unknown id, got %s", status)
	}
}

func TestStore_FindRetryDue(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Now()

	mk := func(id string, status reliability.MessageStatus, next time.Time) *storage.DeliveryLog {
		return &storage.DeliveryLog{
			ID:          id,
			MessageID:   id,
			MshRole:     reliability.RoleSending,
			Status:      status,
			NextAttempt: &next,
			Received:    now.Add(-time.Hour),
		}
	}

	due1 := mk("due-1", reliability.StatusWaitingForRetry, now.Add(-2*time.Minute))
	due2 := mk("due-2", reliability.StatusWaitingForReceipt, now.Add(-time.Minute))
	notYet := mk("later", reliability.StatusWaitingForRetry, now.Add(time.Hour))
	terminal := mk("done", reliability.StatusAcknowledged, now.Add(-time.Minute))
	for _, l := range []*storage.DeliveryLog{due1, due2, notYet, terminal} {
		if err := s.CreateDeliveryLog(ctx, l); err != nil {
			t.Fatal(err)
		}
	}

	due, err := s.FindRetryDue(ctx, now, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due, got %d", len(due))
	}
	// Oldest deadline first.
	if due[0].ID != "due-1" || due[1].ID != "due-2" {
		t.Errorf("unexpected order: %s, %s", due[0].ID, due[1].ID)
	}

	limited, err := s.FindRetryDue(ctx, now, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 with limit, got %d", len(limited))
	}
}

func TestStore_TryClaim_ExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	lock := &storage.DeliveryLock{
		ID:              "lock-1",
		MessageID:       "msg-1",
		Mpc:             "urn:mpc:test",
		StaledAt:        time.Now().Add(time.Hour),
		SendAttemptsMax: 4,
	}
	if err := s.CreateLock(ctx, lock); err != nil {
		t.Fatal(err)
	}

	const claimants = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.TryClaim(ctx, "lock-1")
			if err == nil && claimed != nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one winning claim, got %d", wins)
	}
}

func TestStore_NextLockID(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	locks := []*storage.DeliveryLock{
		{ID: "l1", MessageID: "m1", Mpc: "urn:mpc:a", InitiatorParty: "red_gw", StaledAt: time.Now()},
		{ID: "l2", MessageID: "m2", Mpc: "urn:mpc:a", InitiatorParty: "red_gw", StaledAt: time.Now()},
		{ID: "l3", MessageID: "m3", Mpc: "urn:mpc:b", InitiatorParty: "green_gw", StaledAt: time.Now()},
	}
	for _, l := range locks {
		if err := s.CreateLock(ctx, l); err != nil {
			t.Fatal(err)
		}
	}

	// Oldest registration wins.
	id, err := s.NextLockID(ctx, "urn:mpc:a", "red_gw")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "l1" {
		t.Errorf("expected l1, got %s", id)
	}

	// Initiator filter.
	if _, err := s.NextLockID(ctx, "urn:mpc:a", "green_gw"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// Empty initiator matches any.
	id, err = s.NextLockID(ctx, "urn:mpc:b", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "l3" {
		t.Errorf("expected l3, got %s", id)
	}

	if err := s.DeleteLockByMessageID(ctx, "m1"); err != nil {
		t.Fatal(err)
	}
	id, _ = s.NextLockID(ctx, "urn:mpc:a", "red_gw")
	if id != "l2" {
		t.Errorf("expected l2 after delete, got %s", id)
	}
}

func TestStore_RawEnvelopes(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	env := &storage.RawEnvelope{
		MessageID: "msg-1",
		Envelope:  []byte("<Envelope/>"),
		CreatedAt: time.Now(),
	}
	if err := s.StoreRawEnvelope(ctx, env); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRawEnvelope(ctx, "msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got.Envelope) != "<Envelope/>" {
		t.Errorf("unexpected envelope %q", got.Envelope)
	}

	// The returned copy is detached from the stored one.
	got.Envelope[0] = 'X'
	again, _ := s.GetRawEnvelope(ctx, "msg-1")
	if string(again.Envelope) != "<Envelope/>" {
		t.Error("stored envelope was mutated through the returned copy")
	}

	if err := s.DeleteRawEnvelope(ctx, "msg-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetRawEnvelope(ctx, "msg-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
