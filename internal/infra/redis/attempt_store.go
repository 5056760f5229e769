package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"exam-deployment-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// AttemptStore keeps in-progress attempts in Redis so every instance sees
// the same counters. One hash per attempt:
//
//	HSET attempt:{deploymentID}:{submitterID} started_at {unix nanos}
//	                                          cheating_count {n}
//	                                          completed 1
//	                                          answer:{questionID} {answer envelope}
type AttemptStore struct {
	client *redis.Client
	ttl    time.Duration
}

const (
	fieldStartedAt     = "started_at"
	fieldCheatingCount = "cheating_count"
	fieldCompleted     = "completed"
	answerPrefix       = "answer:"

	maxMergeRetries = 5
)

// The scripts refuse to recreate an expired or missing hash. Every write
// pushes the expiry out by the store's TTL (ARGV[2], milliseconds; 0 keeps it).
var (
	incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
if tonumber(ARGV[2]) > 0 then redis.call('PEXPIRE', KEYS[1], ARGV[2]) end
return n`)

	claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
local ok = redis.call('HSETNX', KEYS[1], ARGV[1], '1')
if tonumber(ARGV[2]) > 0 then redis.call('PEXPIRE', KEYS[1], ARGV[2]) end
return ok`)
)

func NewAttemptStore(client *redis.Client, ttl time.Duration) *AttemptStore {
	return &AttemptStore{client: client, ttl: ttl}
}

func (s *AttemptStore) Get(ctx context.Context, deploymentID, submitterID string) (domain.Attempt, error) {
	fields, err := s.client.HGetAll(ctx, s.key(deploymentID, submitterID)).Result()
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("load attempt: %w", err)
	}
	if len(fields) == 0 {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return decodeAttempt(deploymentID, submitterID, fields)
}

func (s *AttemptStore) Put(ctx context.Context, a domain.Attempt) error {
	key := s.key(a.DeploymentID, a.SubmitterID)
	values := map[string]interface{}{
		fieldStartedAt:     strconv.FormatInt(a.StartedAt.UnixNano(), 10),
		fieldCheatingCount: a.CheatingCount,
	}
	if a.Completed {
		values[fieldCompleted] = "1"
	}
	for id, answer := range a.Answers {
		if answer == nil {
			continue
		}
		raw, err := domain.MarshalAnswer(answer)
		if err != nil {
			return err
		}
		values[answerPrefix+id] = string(raw)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store attempt: %w", err)
	}
	return nil
}

// MergeAnswers applies drafts optimistically: the write is dropped and
// retried if the attempt changed between the check and the update.
func (s *AttemptStore) MergeAnswers(ctx context.Context, deploymentID, submitterID string, answers domain.AnswerSheet) (domain.Attempt, error) {
	key := s.key(deploymentID, submitterID)
	set := make(map[string]interface{})
	var del []string
	for id, answer := range answers {
		if answer == nil {
			del = append(del, answerPrefix+id)
			continue
		}
		raw, err := domain.MarshalAnswer(answer)
		if err != nil {
			return domain.Attempt{}, err
		}
		set[answerPrefix+id] = string(raw)
	}

	var merged domain.Attempt
	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return domain.ErrAttemptNotFound
		}
		if fields[fieldCompleted] != "" {
			return domain.ErrAttemptCompleted
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(set) > 0 {
				pipe.HSet(ctx, key, set)
			}
			if len(del) > 0 {
				pipe.HDel(ctx, key, del...)
			}
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for f, v := range set {
			fields[f] = v.(string)
		}
		for _, f := range del {
			delete(fields, f)
		}
		merged, err = decodeAttempt(deploymentID, submitterID, fields)
		return err
	}

	for i := 0; i < maxMergeRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return domain.Attempt{}, err
		}
		return merged, nil
	}
	return domain.Attempt{}, fmt.Errorf("merge answers: attempt kept changing after %d tries", maxMergeRetries)
}

func (s *AttemptStore) IncrementCheating(ctx context.Context, deploymentID, submitterID string) (int, error) {
	n, err := incrementScript.Run(ctx, s.client, []string{s.key(deploymentID, submitterID)}, fieldCheatingCount, s.ttl.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("increment cheating count: %w", err)
	}
	if n < 0 {
		return 0, domain.ErrAttemptNotFound
	}
	return n, nil
}

func (s *AttemptStore) MarkCompleted(ctx context.Context, deploymentID, submitterID string) (bool, error) {
	n, err := claimScript.Run(ctx, s.client, []string{s.key(deploymentID, submitterID)}, fieldCompleted, s.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("mark attempt completed: %w", err)
	}
	return n == 1, nil
}

func (s *AttemptStore) UnmarkCompleted(ctx context.Context, deploymentID, submitterID string) error {
	return s.client.HDel(ctx, s.key(deploymentID, submitterID), fieldCompleted).Err()
}

func (s *AttemptStore) key(deploymentID, submitterID string) string {
	return "attempt:" + deploymentID + ":" + submitterID
}

func decodeAttempt(deploymentID, submitterID string, fields map[string]string) (domain.Attempt, error) {
	a := domain.Attempt{
		DeploymentID: deploymentID,
		SubmitterID:  submitterID,
		Completed:    fields[fieldCompleted] != "",
		Answers:      domain.AnswerSheet{},
	}
	started, err := strconv.ParseInt(fields[fieldStartedAt], 10, 64)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("decode attempt started_at: %w", err)
	}
	a.StartedAt = time.Unix(0, started).UTC()
	if v := fields[fieldCheatingCount]; v != "" {
		if a.CheatingCount, err = strconv.Atoi(v); err != nil {
			return domain.Attempt{}, fmt.Errorf("decode attempt cheating_count: %w", err)
		}
	}
	for f, v := range fields {
		id, ok := strings.CutPrefix(f, answerPrefix)
		if !ok {
			continue
		}
		answer, err := domain.UnmarshalAnswer([]byte(v))
		if err != nil {
			return domain.Attempt{}, fmt.Errorf("decode answer %s: %w", id, err)
		}
		a.Answers[id] = answer
	}
	return a, nil
}
