package events

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shopagent/shopagent/internal/models"
)

// Subscriber is the minimum a channel-authorization check needs to know
// about the connecting principal.
type Subscriber struct {
	UserID uint
	Role   string
}

// ChatOwnerLookup resolves the owning user of a chat id.
type ChatOwnerLookup func(ctx context.Context, chatID uint) (uint, error)

// CanSubscribe applies the same rule as sending into a chat: the chat owner
// or an admin. User channels admit only the user themselves.
func CanSubscribe(ctx context.Context, sub Subscriber, channel string, ownerOf ChatOwnerLookup) (bool, error) {
	if sub.Role == models.RoleAdmin {
		return true, nil
	}

	switch {
	case strings.HasPrefix(channel, "user."):
		id, err := strconv.ParseUint(strings.TrimPrefix(channel, "user."), 10, 64)
		if err != nil {
			return false, nil
		}
		return uint(id) == sub.UserID, nil

	case strings.HasPrefix(channel, "presence-chat."), strings.HasPrefix(channel, "chat."):
		raw := strings.TrimPrefix(strings.TrimPrefix(channel, "presence-"), "chat.")
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return false, nil
		}
		owner, err := ownerOf(ctx, uint(id))
		if err != nil {
			return false, err
		}
		return owner == sub.UserID, nil
	}

	return false, nil
}

// Presence tracks which members are currently connected to a presence
// channel. Entries expire so a crashed client drops off the roster.
type Presence struct {
	RDB *redis.Client
	TTL time.Duration
}

func (p *Presence) ttl() time.Duration {
	if p.TTL <= 0 {
		return 30 * time.Second
	}
	return p.TTL
}

func rosterKey(chatID uint) string { return fmt.Sprintf("presence:chat:%d", chatID) }

func (p *Presence) Join(ctx context.Context, chatID, userID uint) error {
	key := rosterKey(chatID)
	member := strconv.FormatUint(uint64(userID), 10)
	if err := p.RDB.SAdd(ctx, key, member).Err(); err != nil {
		return err
	}
	return p.RDB.Expire(ctx, key, p.ttl()).Err()
}

func (p *Presence) Leave(ctx context.Context, chatID, userID uint) error {
	return p.RDB.SRem(ctx, rosterKey(chatID), strconv.FormatUint(uint64(userID), 10)).Err()
}

func (p *Presence) Roster(ctx context.Context, chatID uint) ([]uint, error) {
	raw, err := p.RDB.SMembers(ctx, rosterKey(chatID)).Result()
	if err != nil {
		return nil, err
	}
	members := make([]uint, 0, len(raw))
	for _, m := range raw {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		members = append(members, uint(id))
	}
	return members, nil
}
