package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourusername/pdf-squeeze/internal/progress"
)

const (
	jobKeyPrefix   = "job:"
	claimKeySuffix = ":claim"
	maxTxRetries   = 10
)

// ErrNotFound は更新対象のジョブ記録が存在しないことを表します。
var ErrNotFound = errors.New("job not found")

// RedisStore はジョブ状態を Redis に保存します。
type RedisStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
	now func() time.Time
}

// NewRedisStore は RedisStore を作成します。
func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		ttl: ttl,
		now: time.Now,
	}
}

// Claim は SET NX でジョブIDを占有します。占有はバッチ終了時か TTL で解放されます。
func (s *RedisStore) Claim(ctx context.Context, jobID string) (bool, error) {
	return s.rdb.SetNX(ctx, claimKey(jobID), s.now().UTC().Format(time.RFC3339Nano), s.ttl).Result()
}

// Release はジョブIDの占有を解除します。
func (s *RedisStore) Release(ctx context.Context, jobID string) error {
	return s.rdb.Del(ctx, claimKey(jobID)).Err()
}

// Get はジョブ情報を取得します。存在しなければ nil を返します。
func (s *RedisStore) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert はジョブ情報を保存します（存在しない場合は作成）。
func (s *RedisStore) Upsert(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	s.stamp(record)
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, jobKey(record.JobID), payload, s.ttl).Err()
}

// Record はスナップショットを記録します。記録が無ければ作成します。
func (s *RedisStore) Record(ctx context.Context, snapshot progress.JobSnapshot) error {
	return s.update(ctx, snapshot.JobID, true, func(record *Record) {
		applySnapshot(record, snapshot)
	})
}

// MarkDone はジョブ完了時の情報を保存します。
func (s *RedisStore) MarkDone(ctx context.Context, jobID, downloadURL string) error {
	return s.update(ctx, jobID, false, func(record *Record) {
		markDone(record, downloadURL)
	})
}

// MarkFailed はジョブ失敗時の情報を保存します。
func (s *RedisStore) MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error {
	return s.update(ctx, jobID, false, func(record *Record) {
		markFailed(record, errInfo)
	})
}

// update は WATCH で楽観ロックを取りながら記録を書き換えます。
func (s *RedisStore) update(ctx context.Context, jobID string, create bool, mutate func(*Record)) error {
	key := jobKey(jobID)
	txf := func(tx *redis.Tx) error {
		record := Record{JobID: jobID}
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if !create {
				return fmt.Errorf("%w: %s", ErrNotFound, jobID)
			}
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
		}

		mutate(&record)
		s.stamp(&record)
		payload, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("job %s: too many concurrent updates", jobID)
}

func (s *RedisStore) stamp(record *Record) {
	now := s.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.ExpiresAt.IsZero() && s.ttl > 0 {
		record.ExpiresAt = record.CreatedAt.Add(s.ttl)
	}
}

func markDone(record *Record, downloadURL string) {
	record.Status = StatusSucceeded
	record.Progress.Percent = 100
	record.Progress.Stage = string(progress.StatusCompleted)
	record.DownloadURL = downloadURL
	record.Error = nil
}

func markFailed(record *Record, errInfo *ErrorInfo) {
	record.Status = StatusFailed
	record.Progress.Stage = string(progress.StatusFailed)
	if errInfo != nil {
		record.Error = errInfo
	}
}

func fmtFailed(failed, total int) string {
	return fmt.Sprintf("%d/%d 件のファイルが失敗しました", failed, total)
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func claimKey(id string) string {
	return jobKeyPrefix + id + claimKeySuffix
}
