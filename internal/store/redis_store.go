package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/evyataryagoni/membermap/internal/models"
)

// DefaultRedisPrefix namespaces the member keys
const DefaultRedisPrefix = "members"

// RedisStore implements Store using Redis
//
// Key Format:
//
//	<prefix>:data   hash, field=id, value=JSON-encoded Member
//	<prefix>:index  sorted set, member=id, score=createdAt in microseconds
//
// The client is shared with other components and is not closed by the store.
type RedisStore struct {
	client   *redis.Client
	dataKey  string
	indexKey string
	now      func() time.Time
}

// NewRedisStore creates a store on an existing client and checks the connection
func NewRedisStore(ctx context.Context, client *redis.Client, prefix string) (*RedisStore, error) {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, eris.Wrap(err, "store: connect to Redis")
	}

	return &RedisStore{
		client:   client,
		dataKey:  prefix + ":data",
		indexKey: prefix + ":index",
		now:      time.Now,
	}, nil
}

// List reads the index newest first and fetches the rows in one HMGET
func (s *RedisStore) List(ctx context.Context) ([]models.Member, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey, 0, -1).Result()
	if err != nil {
		return nil, eris.Wrap(err, "store: redis list index")
	}
	if len(ids) == 0 {
		return []models.Member{}, nil
	}

	values, err := s.client.HMGet(ctx, s.dataKey, ids...).Result()
	if err != nil {
		return nil, eris.Wrap(err, "store: redis list members")
	}

	members := make([]models.Member, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// index entry without data; a delete raced this read
			continue
		}
		var m models.Member
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, eris.Wrapf(err, "store: decode member %s", ids[i])
		}
		members = append(members, m)
	}
	return members, nil
}

// Get looks up a member by id
func (s *RedisStore) Get(ctx context.Context, id string) (*models.Member, error) {
	return s.get(ctx, s.client, id)
}

// hashGetter is satisfied by both *redis.Client and *redis.Tx
type hashGetter interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c hashGetter, id string) (*models.Member, error) {
	raw, err := c.HGet(ctx, s.dataKey, id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "store: redis get member %s", id)
	}

	var m models.Member
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, eris.Wrapf(err, "store: decode member %s", id)
	}
	return &m, nil
}

// Create writes the row and its index entry in one transaction
func (s *RedisStore) Create(ctx context.Context, draft models.MemberDraft) (*models.Member, error) {
	m := newMember(uuid.NewString(), draft, s.now)
	data, err := json.Marshal(m)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode member")
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.dataKey, m.ID, data)
		pipe.ZAdd(ctx, s.indexKey, redis.Z{Score: float64(m.CreatedAt.UnixMicro()), Member: m.ID})
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "store: redis create member")
	}
	return &m, nil
}

// Update rewrites the row under WATCH so a concurrent delete is not resurrected
func (s *RedisStore) Update(ctx context.Context, id string, patch models.MemberPatch) (*models.Member, error) {
	var updated *models.Member

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}

		patch.Apply(current)
		current.UpdatedAt = s.now().UTC()
		data, err := json.Marshal(current)
		if err != nil {
			return eris.Wrap(err, "store: encode member")
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.dataKey, id, data)
			return nil
		})
		if err != nil {
			return err
		}
		updated = current
		return nil
	}, s.dataKey)

	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "store: redis update member %s", id)
	}
	return updated, nil
}

// Delete removes the row and its index entry
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, s.dataKey, id)
		pipe.ZRem(ctx, s.indexKey, id)
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "store: redis delete member %s", id)
	}
	if removed.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close does not close the shared client
func (s *RedisStore) Close() error {
	return nil
}
