package foreground

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSource keeps the event log in a sorted set scored by unix
// milliseconds, so an external agent can feed it directly with ZADD.
//
// Members recorded here are prefixed with a sequence number from
// <key>:seq so that events sharing a millisecond keep their arrival order.
// Plain JSON members from external agents are accepted as well.
type RedisSource struct {
	client    *redis.Client
	key       string
	retention time.Duration
}

// NewRedisSource creates a source over the sorted set at key.
func NewRedisSource(client *redis.Client, key string, retention time.Duration) *RedisSource {
	return &RedisSource{client: client, key: key, retention: retention}
}

// Record adds events and trims entries older than the retention window.
func (s *RedisSource) Record(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	last, err := s.client.IncrBy(ctx, s.seqKey(), int64(len(events))).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate event sequence: %w", err)
	}
	seq := last - int64(len(events))

	members := make([]redis.Z, 0, len(events))
	newest := events[0].Timestamp
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		seq++
		members = append(members, redis.Z{
			Score:  float64(ev.Timestamp.UnixMilli()),
			Member: fmt.Sprintf("%020d|%s", seq, data),
		})
		if ev.Timestamp.After(newest) {
			newest = ev.Timestamp
		}
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.key, members...)
	if s.retention > 0 {
		cutoff := newest.Add(-s.retention).UnixMilli()
		pipe.ZRemRangeByScore(ctx, s.key, "-inf", "("+strconv.FormatInt(cutoff, 10))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record events: %w", err)
	}
	return nil
}

// QueryEvents returns events with from <= timestamp <= to in score order.
func (s *RedisSource) QueryEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	raw, err := s.client.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: strconv.FormatInt(to.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	events := make([]Event, 0, len(raw))
	for _, member := range raw {
		ev, ok := decodeMember(member)
		if !ok {
			// Skip malformed members written by a foreign agent.
			continue
		}
		events = append(events, ev)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

func (s *RedisSource) seqKey() string {
	return s.key + ":seq"
}

func decodeMember(member string) (Event, bool) {
	if !strings.HasPrefix(member, "{") {
		_, data, ok := strings.Cut(member, "|")
		if !ok {
			return Event{}, false
		}
		member = data
	}
	var ev Event
	if err := json.Unmarshal([]byte(member), &ev); err != nil {
		return Event{}, false
	}
	return ev, true
}
