// Package memory provides an in-memory Store implementation for tests and
// examples. It honors the same claim semantics as the database backends:
// TryClaim removes the lock under the store mutex, so concurrent claimants
// observe it exactly once.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirosfoundation/go-as4-gateway/internal/storage"
	"github.com/sirosfoundation/go-as4-gateway/pkg/reliability"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu sync.Mutex

	logs      map[string]*storage.DeliveryLog // keyed by ID
	locks     map[string]*storage.DeliveryLock
	envelopes map[string]*storage.RawEnvelope

	lockSeq int64 // monotonic insertion order for NextLockID
	lockOrd map[string]int64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		logs:      make(map[string]*storage.DeliveryLog),
		locks:     make(map[string]*storage.DeliveryLock),
		envelopes: make(map[string]*storage.RawEnvelope),
		lockOrd:   make(map[string]int64),
	}
}

func (s *Store) CreateDeliveryLog(_ context.Context, log *storage.DeliveryLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.logs {
		if existing.MessageID == log.MessageID && existing.MshRole == log.MshRole {
			return storage.ErrAlreadyExists
		}
	}
	cp := *log
	s.logs[log.ID] = &cp
	return nil
}

func (s *Store) GetDeliveryLog(_ context.Context, messageID string, role reliability.MshRole) (*storage.DeliveryLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, log := range s.logs {
		if log.MessageID == messageID && log.MshRole == role {
			cp := *log
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) UpdateDeliveryLog(_ context.Context, log *storage.DeliveryLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.logs[log.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *log
	s.logs[log.ID] = &cp
	return nil
}

func (s *Store) DeleteDeliveryLog(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.logs, id)
	return nil
}

func (s *Store) GetStatus(_ context.Context, messageID string) (reliability.MessageStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, log := range s.logs {
		if log.MessageID == messageID {
			return log.Status, nil
		}
	}
	return reliability.StatusNotFound, nil
}

func (s *Store) FindRetryDue(_ context.Context, now time.Time, limit int) ([]*storage.DeliveryLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*storage.DeliveryLog
	for _, log := range s.logs {
		if log.MshRole != reliability.RoleSending {
			continue
		}
		if log.Status != reliability.StatusWaitingForRetry && log.Status != reliability.StatusWaitingForReceipt {
			continue
		}
		if log.NextAttempt == nil || log.NextAttempt.After(now) {
			continue
		}
		cp := *log
		due = append(due, &cp)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttempt.Before(*due[j].NextAttempt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) CreateLock(_ context.Context, lock *storage.DeliveryLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.locks {
		if existing.MessageID == lock.MessageID {
			return storage.ErrAlreadyExists
		}
	}
	cp := *lock
	s.locks[lock.ID] = &cp
	s.lockSeq++
	s.lockOrd[lock.ID] = s.lockSeq
	return nil
}

func (s *Store) TryClaim(_ context.Context, lockID string) (*storage.DeliveryLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[lockID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	delete(s.locks, lockID)
	delete(s.lockOrd, lockID)
	cp := *lock
	return &cp, nil
}

func (s *Store) NextLockID(_ context.Context, mpc, initiatorParty string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		bestID  string
		bestOrd int64
	)
	for id, lock := range s.locks {
		if lock.Mpc != mpc {
			continue
		}
		if initiatorParty != "" && lock.InitiatorParty != initiatorParty {
			continue
		}
		if bestID == "" || s.lockOrd[id] < bestOrd {
			bestID, bestOrd = id, s.lockOrd[id]
		}
	}
	if bestID == "" {
		return "", storage.ErrNotFound
	}
	return bestID, nil
}

func (s *Store) DeleteLockByMessageID(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, lock := range s.locks {
		if lock.MessageID == messageID {
			delete(s.locks, id)
			delete(s.lockOrd, id)
		}
	}
	return nil
}

func (s *Store) StoreRawEnvelope(_ context.Context, env *storage.RawEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *env
	cp.Envelope = append([]byte(nil), env.Envelope...)
	s.envelopes[env.MessageID] = &cp
	return nil
}

func (s *Store) GetRawEnvelope(_ context.Context, messageID string) (*storage.RawEnvelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, ok := s.envelopes[messageID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *env
	cp.Envelope = append([]byte(nil), env.Envelope...)
	return &cp, nil
}

func (s *Store) DeleteRawEnvelope(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.envelopes, messageID)
	return nil
}

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Ping(context.Context) error { return nil }
