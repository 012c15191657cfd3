// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/herald/internal/models"
)

// projectScript performs the marker check, state or token write and marker
// set in one server-side step.
//
//	KEYS[1] marker    KEYS[2] state hash    KEYS[3] token zset
//	ARGV[1] marker ttl (ms)   ARGV[2] seq   ARGV[3] ts (us)   ARGV[4] "1" for tokens
//	ARGV[5] state json        ARGV[6] state ttl (ms)
//	ARGV[7] token member      ARGV[8] token buffer size       ARGV[9] token ttl (ms)
//
// Returns 0 (duplicate), 1 (applied) or 2 (stale).
var projectScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
local outcome = 1
local seq = tonumber(ARGV[2])
local ts = tonumber(ARGV[3])
if ARGV[4] == '1' then
  redis.call('ZADD', KEYS[3], seq, ARGV[7])
  local max = tonumber(ARGV[8])
  if max > 0 then
    redis.call('ZREMRANGEBYRANK', KEYS[3], 0, -(max + 1))
  end
  redis.call('PEXPIRE', KEYS[3], ARGV[9])
else
  local cur = redis.call('HMGET', KEYS[2], 'seq', 'ts')
  if cur[1] then
    local cseq = tonumber(cur[1])
    local cts = tonumber(cur[2]) or 0
    if seq < cseq or (seq == cseq and ts < cts) then
      outcome = 2
    end
  end
  if outcome == 1 then
    redis.call('HSET', KEYS[2], 'seq', ARGV[2], 'ts', ARGV[3], 'data', ARGV[5])
    redis.call('PEXPIRE', KEYS[2], ARGV[6])
  end
end
redis.call('SET', KEYS[1], '1', 'PX', ARGV[1])
return outcome
`)

// RedisStore implements Store on Redis. The projection runs as a Lua script,
// so concurrent replicas redelivering the same entry serialize on the server.
type RedisStore struct {
	rdb  redis.UniversalClient
	opts Options
}

// NewRedisStore creates a store over rdb. The client is owned by the caller.
func NewRedisStore(rdb redis.UniversalClient, opts Options) *RedisStore {
	return &RedisStore{rdb: rdb, opts: opts.withDefaults()}
}

// Project implements Store.
func (s *RedisStore) Project(ctx context.Context, entry *models.LogEntry) (Outcome, error) {
	isToken := "0"
	var stateJSON, tokenMember []byte
	var err error
	if entry.Kind.IsToken() {
		isToken = "1"
		tokenMember, err = json.Marshal(entry.Envelope())
	} else {
		stateJSON, err = json.Marshal(models.StateFromEntry(entry))
	}
	if err != nil {
		return 0, fmt.Errorf("encode projection: %w", err)
	}

	keys := []string{
		s.opts.markerKey(entry.JobID, entry.ID),
		s.opts.stateKey(entry.JobID),
		s.opts.tokensKey(entry.JobID),
	}
	args := []any{
		s.opts.MarkerTTL.Milliseconds(),
		entry.Seq,
		entry.Timestamp.UnixMicro(),
		isToken,
		stateJSON,
		s.opts.stateTTL(entry).Milliseconds(),
		tokenMember,
		s.opts.TokenBufferSize,
		s.opts.TokenTTL.Milliseconds(),
	}

	res, err := projectScript.Run(ctx, s.rdb, keys, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("project %s/%s: %w", entry.JobID, entry.ID, err)
	}
	switch res {
	case 0:
		return OutcomeDuplicate, nil
	case 1:
		return OutcomeApplied, nil
	case 2:
		return OutcomeStale, nil
	default:
		return 0, fmt.Errorf("project %s/%s: unexpected script result %d", entry.JobID, entry.ID, res)
	}
}

// Snapshot implements Store.
func (s *RedisStore) Snapshot(ctx context.Context, jobID string) (*models.JobState, error) {
	data, err := s.rdb.HGet(ctx, s.opts.stateKey(jobID), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", jobID, err)
	}
	var st models.JobState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", jobID, err)
	}
	return &st, nil
}

// TokensSince implements Store.
func (s *RedisStore) TokensSince(ctx context.Context, jobID string, afterSeq int64) ([]*models.Envelope, error) {
	members, err := s.rdb.ZRangeByScore(ctx, s.opts.tokensKey(jobID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(afterSeq, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read tokens %s: %w", jobID, err)
	}
	out := make([]*models.Envelope, 0, len(members))
	for _, m := range members {
		env, err := models.UnmarshalEnvelope([]byte(m))
		if err != nil {
			return nil, fmt.Errorf("decode token %s: %w", jobID, err)
		}
		out = append(out, env)
	}
	return out, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close is a no-op; the client is owned by the caller.
func (s *RedisStore) Close() error {
	return nil
}
