package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/contentflow/pkg/api"
)

// RedisRunStore is a RunStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>run:<id>             => JSON-encoded api.Run
//	<prefix>idx:runs             => ZSET of all run IDs scored by insertion sequence
//	<prefix>idx:inst:<instance>  => ZSET of run IDs for a given instance
//	<prefix>seq:runs             => insertion counter
//
// Status filters are applied to the decoded payloads, so the indexes never
// need to follow status changes.
type RedisRunStore struct {
	client *redis.Client
	prefix string
}

var _ RunStore = (*RedisRunStore)(nil)

// NewRedisRunStore creates a RedisRunStore.
// prefix is optional but recommended (e.g. "contentflow:").
func NewRedisRunStore(client *redis.Client, prefix string) *RedisRunStore {
	if prefix == "" {
		prefix = "contentflow:"
	}
	return &RedisRunStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisRunStore) keyRun(id string) string {
	return s.prefix + "run:" + id
}

func (s *RedisRunStore) keyAll() string {
	return s.prefix + "idx:runs"
}

func (s *RedisRunStore) keyInstance(id string) string {
	return s.prefix + "idx:inst:" + id
}

func (s *RedisRunStore) keySeq() string {
	return s.prefix + "seq:runs"
}

func (s *RedisRunStore) SaveRun(ctx context.Context, run *api.Run) error {
	data, err := EncodeValue(run)
	if err != nil {
		return err
	}

	seq, err := s.client.Incr(ctx, s.keySeq()).Result()
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keyRun(run.ID), data, 0)
	pipe.ZAdd(ctx, s.keyAll(), redis.Z{Score: float64(seq), Member: run.ID})
	pipe.ZAdd(ctx, s.keyInstance(run.InstanceID), redis.Z{Score: float64(seq), Member: run.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisRunStore) UpdateRun(ctx context.Context, run *api.Run) error {
	data, err := EncodeValue(run)
	if err != nil {
		return err
	}

	// SET XX only overwrites an existing run.
	ok, err := s.client.SetXX(ctx, s.keyRun(run.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrRunNotFound
	}
	return nil
}

func (s *RedisRunStore) GetRun(ctx context.Context, id string) (*api.Run, error) {
	data, err := s.client.Get(ctx, s.keyRun(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return DecodeValue[*api.Run](data)
}

func (s *RedisRunStore) ListRuns(ctx context.Context, filter RunFilter) ([]*api.Run, error) {
	index := s.keyAll()
	if filter.InstanceID != "" {
		index = s.keyInstance(filter.InstanceID)
	}

	ids, err := s.client.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keyRun(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var runs []*api.Run
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry without payload; skip.
			continue
		}
		run, err := DecodeValue[*api.Run]([]byte(raw))
		if err != nil {
			return nil, err
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		runs = append(runs, run)
		if filter.Limit > 0 && len(runs) == filter.Limit {
			break
		}
	}
	return runs, nil
}

// TransitionRun uses WATCH on the run key so that only one caller can move
// a run out of a given status.
func (s *RedisRunStore) TransitionRun(ctx context.Context, id string, from, to api.RunStatus, at time.Time) (bool, error) {
	key := s.keyRun(id)
	moved := false

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrRunNotFound
			}
			return err
		}
		run, err := DecodeValue[*api.Run](data)
		if err != nil {
			return err
		}
		if run.Status != from {
			return nil
		}

		run.Status = to
		if to == api.RunRunning {
			t := at
			run.StartedAt = &t
		}
		if to.Terminal() {
			t := at
			run.CompletedAt = &t
		}
		updated, err := EncodeValue(run)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		if err == nil {
			moved = true
		}
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Someone else changed the run first.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return moved, nil
}
