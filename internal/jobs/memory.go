package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yourusername/pdf-squeeze/internal/progress"
)

// MemoryStore は Redis を使わない構成でのジョブ記録です。プロセス再起動で消えます。
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	claims  map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		claims:  make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Claim はジョブIDを占有します。期限切れの占有は無視します。
func (s *MemoryStore) Claim(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expires, ok := s.claims[jobID]; ok && (s.ttl <= 0 || now.Before(expires)) {
		return false, nil
	}
	s.claims[jobID] = now.Add(s.ttl)
	return true, nil
}

// Release はジョブIDの占有を解除します。
func (s *MemoryStore) Release(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, jobID)
	return nil
}

// Get はジョブ情報のコピーを返します。存在しなければ nil を返します。
func (s *MemoryStore) Get(_ context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.liveLocked(jobID)
	if !ok {
		return nil, nil
	}
	copied := *record
	copied.Files = append([]progress.FileTask(nil), record.Files...)
	return &copied, nil
}

// Upsert はジョブ情報を保存します。
func (s *MemoryStore) Upsert(_ context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stampLocked(record)
	copied := *record
	s.records[record.JobID] = &copied
	return nil
}

// Record はスナップショットを記録します。
func (s *MemoryStore) Record(_ context.Context, snapshot progress.JobSnapshot) error {
	return s.update(snapshot.JobID, true, func(record *Record) {
		applySnapshot(record, snapshot)
	})
}

// MarkDone はジョブ完了時の情報を保存します。
func (s *MemoryStore) MarkDone(_ context.Context, jobID, downloadURL string) error {
	return s.update(jobID, false, func(record *Record) {
		markDone(record, downloadURL)
	})
}

// MarkFailed はジョブ失敗時の情報を保存します。
func (s *MemoryStore) MarkFailed(_ context.Context, jobID string, errInfo *ErrorInfo) error {
	return s.update(jobID, false, func(record *Record) {
		markFailed(record, errInfo)
	})
}

func (s *MemoryStore) update(jobID string, create bool, mutate func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.liveLocked(jobID)
	if !ok {
		if !create {
			return fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		s.sweepLocked()
		record = &Record{JobID: jobID}
		s.records[jobID] = record
	}
	mutate(record)
	s.stampLocked(record)
	return nil
}

// liveLocked は期限切れの記録を削除してから検索します。
func (s *MemoryStore) liveLocked(jobID string) (*Record, bool) {
	record, ok := s.records[jobID]
	if !ok {
		return nil, false
	}
	if !record.ExpiresAt.IsZero() && !s.now().Before(record.ExpiresAt) {
		delete(s.records, jobID)
		return nil, false
	}
	return record, true
}

func (s *MemoryStore) sweepLocked() {
	now := s.now()
	for id, record := range s.records {
		if !record.ExpiresAt.IsZero() && !now.Before(record.ExpiresAt) {
			delete(s.records, id)
		}
	}
	for id, expires := range s.claims {
		if s.ttl > 0 && !now.Before(expires) {
			delete(s.claims, id)
		}
	}
}

func (s *MemoryStore) stampLocked(record *Record) {
	now := s.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.ExpiresAt.IsZero() && s.ttl > 0 {
		record.ExpiresAt = record.CreatedAt.Add(s.ttl)
	}
}
