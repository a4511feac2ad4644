package core

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryProfileStore is a process-local ProfileStore with the same version
// check as the SQL store.
type MemoryProfileStore struct {
	mu      sync.Mutex
	records map[string]ProfileRecord
	nowFn   func() time.Time
}

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{
		records: map[string]ProfileRecord{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryProfileStore) ReadByUserID(_ context.Context, userID string) (ProfileRecord, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ProfileRecord{}, false, ErrUserIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[userID]
	return record, ok, nil
}

func (s *MemoryProfileStore) Upsert(_ context.Context, record ProfileRecord) (ProfileRecord, error) {
	record.UserID = strings.TrimSpace(record.UserID)
	if err := record.Validate(); err != nil {
		return ProfileRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.records[record.UserID]
	if exists && current.Version != record.Version {
		return ProfileRecord{}, ErrProfileVersionConflict
	}
	if !exists && record.Version != 0 {
		return ProfileRecord{}, ErrProfileVersionConflict
	}
	record.Version++
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = s.nowFn()
	}
	s.records[record.UserID] = record
	return record, nil
}
