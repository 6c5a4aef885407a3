package chat

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// TypingStore holds the ephemeral set of users composing in a chat. Entries
// that are not refreshed expire; nothing is ever persisted.
type TypingStore interface {
	SetTyping(ctx context.Context, chatID, userID uint, isTyping bool) error
	TypingUsers(ctx context.Context, chatID uint) ([]uint, error)
}

// RedisTypingStore keeps one sorted set per chat with the flag's deadline as
// score; expired members are pruned on read.
type RedisTypingStore struct {
	RDB *redis.Client
	TTL time.Duration
}

func (t *RedisTypingStore) ttl() time.Duration {
	if t.TTL <= 0 {
		return 6 * time.Second
	}
	return t.TTL
}

func typingKey(chatID uint) string { return fmt.Sprintf("typing:chat:%d", chatID) }

func (t *RedisTypingStore) SetTyping(ctx context.Context, chatID, userID uint, isTyping bool) error {
	key := typingKey(chatID)
	member := strconv.FormatUint(uint64(userID), 10)

	if !isTyping {
		return t.RDB.ZRem(ctx, key, member).Err()
	}

	deadline := float64(time.Now().Add(t.ttl()).UnixMilli())
	if err := t.RDB.ZAdd(ctx, key, redis.Z{Score: deadline, Member: member}).Err(); err != nil {
		return err
	}
	return t.RDB.Expire(ctx, key, 2*t.ttl()).Err()
}

func (t *RedisTypingStore) TypingUsers(ctx context.Context, chatID uint) ([]uint, error) {
	key := typingKey(chatID)
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	if err := t.RDB.ZRemRangeByScore(ctx, key, "-inf", "("+now).Err(); err != nil {
		return nil, err
	}
	raw, err := t.RDB.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	users := make([]uint, 0, len(raw))
	for _, m := range raw {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		users = append(users, uint(id))
	}
	return users, nil
}
