package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"price-divergence/internal/config"
	"price-divergence/internal/sample"
)

// RedisStore keeps observations in redis: a hash per record plus a sorted set per asset scored by trade time.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisClient builds a client from runtime settings.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisStore wraps a client. An empty prefix falls back to "prices".
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "prices"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// Close shuts the client down.
func (s *RedisStore) Close() {
	if s == nil || s.rdb == nil {
		return
	}
	_ = s.rdb.Close()
}

// OpenSession verifies redis is reachable.
func (s *RedisStore) OpenSession(ctx context.Context) (Session, error) {
	if s == nil || s.rdb == nil {
		return nil, ErrNotConfigured
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return nil, unavailable("ping redis", err)
	}
	return &redisSession{store: s}, nil
}

func (s *RedisStore) seqKey() string {
	return s.prefix + ":seq"
}

func (s *RedisStore) recordKey(id int64) string {
	return fmt.Sprintf("%s:record:%d", s.prefix, id)
}

func (s *RedisStore) timelineKey(role sample.Role) string {
	return fmt.Sprintf("%s:%s", s.prefix, role)
}

type redisSession struct {
	store *RedisStore
}

func (r *redisSession) AppendObservation(ctx context.Context, obs sample.PairedObservation) (StoredRecord, error) {
	s := r.store
	id, err := s.rdb.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return StoredRecord{}, &WriteError{Op: "allocate record id", Err: err}
	}

	record := recordFromObservation(id, obs)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.recordKey(id),
			"reference_trade_time", record.ReferenceTradeTime.UnixMilli(),
			"reference_price", record.ReferencePrice,
			"tracked_trade_time", record.TrackedTradeTime.UnixMilli(),
			"tracked_price", record.TrackedPrice,
		)
		pipe.ZAdd(ctx, s.timelineKey(sample.RoleReference), redis.Z{
			Score:  float64(record.ReferenceTradeTime.UnixMilli()),
			Member: timelineMember(id, record.ReferencePrice),
		})
		pipe.ZAdd(ctx, s.timelineKey(sample.RoleTracked), redis.Z{
			Score:  float64(record.TrackedTradeTime.UnixMilli()),
			Member: timelineMember(id, record.TrackedPrice),
		})
		return nil
	})
	if err != nil {
		return StoredRecord{}, &WriteError{Op: "insert price", Err: err}
	}
	return record, nil
}

func (r *redisSession) AverageOverWindow(ctx context.Context, from, to time.Time) (WindowAverage, error) {
	ref, err := r.average(ctx, sample.RoleReference, from, to)
	if err != nil {
		return WindowAverage{}, err
	}
	tracked, err := r.average(ctx, sample.RoleTracked, from, to)
	if err != nil {
		return WindowAverage{}, err
	}
	return WindowAverage{Reference: ref, Tracked: tracked}, nil
}

func (r *redisSession) average(ctx context.Context, role sample.Role, from, to time.Time) (*float64, error) {
	s := r.store
	members, err := s.rdb.ZRangeByScore(ctx, s.timelineKey(role), &redis.ZRangeBy{
		Min: scoreBound(from),
		Max: scoreBound(to),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("average over window: %w", err)
	}

	var sum float64
	var n int
	for _, member := range members {
		price, ok := memberPrice(member)
		if !ok {
			continue
		}
		sum += price
		n++
	}
	if n == 0 {
		return nil, nil
	}
	avg := sum / float64(n)
	return &avg, nil
}

func (r *redisSession) Close() {}

// timelineMember keeps members unique per record so equal prices are not collapsed.
func timelineMember(id int64, price float64) string {
	return strconv.FormatInt(id, 10) + ":" + strconv.FormatFloat(price, 'f', -1, 64)
}

func memberPrice(member string) (float64, bool) {
	_, raw, found := strings.Cut(member, ":")
	if !found {
		return 0, false
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

func scoreBound(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/float64(time.Millisecond), 'f', -1, 64)
}

var _ Backend = (*RedisStore)(nil)
