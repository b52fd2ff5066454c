package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SlotCache memoizes GetAvailableSlots results per therapist and calendar day.
//
// Version is read before slots are computed and handed back to Set; Set drops
// the write when an invalidation for that day or therapist happened in between.
type SlotCache interface {
	Get(ctx context.Context, therapistID uuid.UUID, day string, minutes int) ([]TimeSlot, bool, error)
	Version(ctx context.Context, therapistID uuid.UUID, day string) (string, error)
	Set(ctx context.Context, therapistID uuid.UUID, day string, minutes int, version string, slots []TimeSlot) error
	InvalidateDay(ctx context.Context, therapistID uuid.UUID, day string) error
	InvalidateTherapist(ctx context.Context, therapistID uuid.UUID) error
}

// RedisSlotCache stores one hash per therapist/day with a field per slot length,
// so a booking change clears every slot length for that day with a single DEL.
type RedisSlotCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisSlotCache creates a Redis-backed slot cache.
func NewRedisSlotCache(client *redis.Client, ttl time.Duration) *RedisSlotCache {
	if client == nil {
		panic("sessions: redis client required")
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisSlotCache{redis: client, ttl: ttl}
}

func (c *RedisSlotCache) dayKey(therapistID uuid.UUID, day string) string {
	return fmt.Sprintf("slots:%s:%s", therapistID, day)
}

func (c *RedisSlotCache) indexKey(therapistID uuid.UUID) string {
	return fmt.Sprintf("slots:%s:days", therapistID)
}

func (c *RedisSlotCache) dayGenKey(therapistID uuid.UUID, day string) string {
	return fmt.Sprintf("slots:%s:%s:gen", therapistID, day)
}

func (c *RedisSlotCache) therapistGenKey(therapistID uuid.UUID) string {
	return fmt.Sprintf("slots:%s:gen", therapistID)
}

// genTTL keeps generation counters alive well past any in-flight slot query.
const genTTL = 24 * time.Hour

func (c *RedisSlotCache) version(ctx context.Context, get func(ctx context.Context, key string) *redis.StringCmd, therapistID uuid.UUID, day string) (string, error) {
	therapistGen, err := genValue(get(ctx, c.therapistGenKey(therapistID)))
	if err != nil {
		return "", err
	}
	dayGen, err := genValue(get(ctx, c.dayGenKey(therapistID, day)))
	if err != nil {
		return "", err
	}
	return therapistGen + "." + dayGen, nil
}

func genValue(cmd *redis.StringCmd) (string, error) {
	v, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	if err != nil {
		return "", fmt.Errorf("sessions: slot cache version: %w", err)
	}
	return v, nil
}

// Version returns the current invalidation generation of a therapist's day.
func (c *RedisSlotCache) Version(ctx context.Context, therapistID uuid.UUID, day string) (string, error) {
	return c.version(ctx, c.redis.Get, therapistID, day)
}

func (c *RedisSlotCache) Get(ctx context.Context, therapistID uuid.UUID, day string, minutes int) ([]TimeSlot, bool, error) {
	data, err := c.redis.HGet(ctx, c.dayKey(therapistID, day), strconv.Itoa(minutes)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sessions: slot cache get: %w", err)
	}
	var slots []TimeSlot
	if err := json.Unmarshal(data, &slots); err != nil {
		return nil, false, fmt.Errorf("sessions: slot cache decode: %w", err)
	}
	return slots, true, nil
}

// Set stores slots unless the day or therapist was invalidated after version was read.
func (c *RedisSlotCache) Set(ctx context.Context, therapistID uuid.UUID, day string, minutes int, version string, slots []TimeSlot) error {
	if slots == nil {
		slots = []TimeSlot{}
	}
	data, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("sessions: slot cache encode: %w", err)
	}
	key := c.dayKey(therapistID, day)
	err = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := c.version(ctx, tx.Get, therapistID, day)
		if err != nil {
			return err
		}
		if current != version {
			return errStaleSlots
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, strconv.Itoa(minutes), data)
			pipe.Expire(ctx, key, c.ttl)
			pipe.SAdd(ctx, c.indexKey(therapistID), day)
			pipe.Expire(ctx, c.indexKey(therapistID), c.ttl)
			return nil
		})
		return err
	}, c.therapistGenKey(therapistID), c.dayGenKey(therapistID, day))
	if errors.Is(err, errStaleSlots) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sessions: slot cache set: %w", err)
	}
	return nil
}

var errStaleSlots = errors.New("sessions: slot cache generation moved")

func (c *RedisSlotCache) InvalidateDay(ctx context.Context, therapistID uuid.UUID, day string) error {
	genKey := c.dayGenKey(therapistID, day)
	pipe := c.redis.TxPipeline()
	pipe.Incr(ctx, genKey)
	pipe.Expire(ctx, genKey, genTTL)
	pipe.Del(ctx, c.dayKey(therapistID, day))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sessions: slot cache invalidate: %w", err)
	}
	return nil
}

func (c *RedisSlotCache) InvalidateTherapist(ctx context.Context, therapistID uuid.UUID) error {
	days, err := c.redis.SMembers(ctx, c.indexKey(therapistID)).Result()
	if err != nil {
		return fmt.Errorf("sessions: slot cache index: %w", err)
	}
	keys := make([]string, 0, len(days)+1)
	for _, day := range days {
		keys = append(keys, c.dayKey(therapistID, day))
	}
	keys = append(keys, c.indexKey(therapistID))
	genKey := c.therapistGenKey(therapistID)
	pipe := c.redis.TxPipeline()
	pipe.Incr(ctx, genKey)
	pipe.Expire(ctx, genKey, genTTL)
	pipe.Del(ctx, keys...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sessions: slot cache invalidate therapist: %w", err)
	}
	return nil
}
