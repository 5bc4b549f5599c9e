package taskqueue

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps triggers in Redis. Due times live in a sorted set
// scored by unix nanoseconds; a trigger is claimed by the caller whose
// ZREM removes it.
type RedisQueue struct {
	client *redis.Client
	prefix string
	opts   options
}

// NewRedisQueue returns a queue using keys under prefix (e.g.
// "contentflow:").
func NewRedisQueue(client *redis.Client, prefix string, opts ...Option) *RedisQueue {
	if prefix == "" {
		prefix = "contentflow:"
	}
	return &RedisQueue{client: client, prefix: prefix, opts: defaultOptions(opts)}
}

// Ensure RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

func (q *RedisQueue) dueKey() string { return q.prefix + "triggers:due" }

func (q *RedisQueue) triggerKey(id string) string { return q.prefix + "trigger:" + id }

func (q *RedisQueue) ownerKey(hook, instanceID string) string {
	return q.prefix + "triggers:owner:" + hook + ":" + instanceID
}

func (q *RedisQueue) Schedule(ctx context.Context, t Trigger) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.EnqueuedAt = q.opts.now().UTC()

	data, err := EncodeTrigger(t)
	if err != nil {
		return err
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.triggerKey(t.ID), data, 0)
		pipe.SAdd(ctx, q.ownerKey(t.Hook, t.InstanceID), t.ID)
		pipe.ZAdd(ctx, q.dueKey(), redis.Z{
			Score:  float64(t.NextRunAt.UnixNano()),
			Member: t.ID,
		})
		return nil
	})
	return err
}

func (q *RedisQueue) Unschedule(ctx context.Context, hook, instanceID string) (int, error) {
	owner := q.ownerKey(hook, instanceID)
	ids, err := q.client.SMembers(ctx, owner).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	members := make([]any, len(ids))
	keys := make([]string, 0, len(ids)+1)
	for i, id := range ids {
		members[i] = id
		keys = append(keys, q.triggerKey(id))
	}
	keys = append(keys, owner)

	var removed *redis.IntCmd
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, q.dueKey(), members...)
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(removed.Val()), nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Trigger, error) {
	for {
		t, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if t != nil {
			return t, nil
		}
		if err := wait(ctx, q.opts.pollInterval); err != nil {
			return nil, err
		}
	}
}

func (q *RedisQueue) claim(ctx context.Context) (*Trigger, error) {
	until := strconv.FormatInt(q.opts.now().UnixNano(), 10)
	ids, err := q.client.ZRangeByScore(ctx, q.dueKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   until,
		Count: 8,
	}).Result()
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		n, err := q.client.ZRem(ctx, q.dueKey(), id).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// Claimed by another worker.
			continue
		}

		var get *redis.StringCmd
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			get = pipe.Get(ctx, q.triggerKey(id))
			pipe.Del(ctx, q.triggerKey(id))
			return nil
		})
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		data, err := get.Bytes()
		if err != nil {
			return nil, err
		}
		t, err := DecodeTrigger(data)
		if err != nil {
			return nil, err
		}
		if err := q.client.SRem(ctx, q.ownerKey(t.Hook, t.InstanceID), id).Err(); err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, nil
}

func (q *RedisQueue) List(ctx context.Context, instanceID string) ([]Trigger, error) {
	ids, err := q.client.ZRange(ctx, q.dueKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = q.triggerKey(id)
	}
	values, err := q.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var out []Trigger
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		t, err := DecodeTrigger([]byte(s))
		if err != nil {
			return nil, err
		}
		if instanceID == "" || t.InstanceID == instanceID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (q *RedisQueue) Len() int {
	n, err := q.client.ZCard(context.Background(), q.dueKey()).Result()
	if err != nil {
		return 0
	}
	return int(n)
}
