package registry

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"roomrelay/backend/internal/apperr"
	"roomrelay/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis is a Registry shared by every relay process.
//
// Layout (prefix defaults to "relay:"):
//
//	<prefix>conn:<connectionID>  string, JSON models.Connection, PX = ttl
//	<prefix>room:<roomID>        sorted set, member = connectionID, score = expiry (unix ms)
//	<prefix>rooms                set of room ids that may still have members
//
// Redis drops expired connection keys on its own; Reclaim trims the room sets.
type Redis struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

var _ Registry = (*Redis)(nil)

// NewRedis creates a registry on top of an existing client.
func NewRedis(rdb *redis.Client, opts ...Option) *Redis {
	o := buildOptions(opts)
	return &Redis{rdb: rdb, prefix: o.prefix, now: o.now}
}

func (r *Redis) connKey(connectionID string) string { return r.prefix + "conn:" + connectionID }
func (r *Redis) roomKey(roomID string) string       { return r.prefix + "room:" + roomID }
func (r *Redis) roomsKey() string                   { return r.prefix + "rooms" }

func (r *Redis) Register(ctx context.Context, connectionID, userID, roomID string, ttl time.Duration) (models.Connection, error) {
	if ttl <= 0 {
		return models.Connection{}, apperr.ErrInvalidArgument
	}

	c := models.Connection{
		ConnectionID: connectionID,
		UserID:       userID,
		RoomID:       roomID,
		ExpiresAt:    r.now().Add(ttl),
	}
	data, err := json.Marshal(c)
	if err != nil {
		return models.Connection{}, err
	}

	ok, err := r.rdb.SetNX(ctx, r.connKey(connectionID), data, ttl).Result()
	if err != nil {
		return models.Connection{}, apperr.StorageUnavailable("registry register", err)
	}
	if !ok {
		return models.Connection{}, apperr.ErrDuplicateConnection
	}

	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, r.roomKey(roomID), redis.Z{Score: float64(c.ExpiresAt.UnixMilli()), Member: connectionID})
		p.SAdd(ctx, r.roomsKey(), roomID)
		return nil
	})
	if err != nil {
		// the record without its room membership is useless; drop it so the id can be retried
		if delErr := r.rdb.Del(context.WithoutCancel(ctx), r.connKey(connectionID)).Err(); delErr != nil {
			log.Warn().Err(delErr).Str("connectionID", connectionID).Msg("registry: rollback of half-registered connection failed")
		}
		return models.Connection{}, apperr.StorageUnavailable("registry register", err)
	}

	return c, nil
}

func (r *Redis) Unregister(ctx context.Context, connectionID string) error {
	c, err := r.load(ctx, connectionID)
	if err != nil {
		return err
	}

	var del *redis.IntCmd
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, r.connKey(connectionID))
		p.ZRem(ctx, r.roomKey(c.RoomID), connectionID)
		return nil
	})
	if err != nil {
		return apperr.StorageUnavailable("registry unregister", err)
	}
	if del.Val() == 0 || c.Expired(r.now()) {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *Redis) Lookup(ctx context.Context, connectionID string) (models.Connection, error) {
	c, err := r.load(ctx, connectionID)
	if err != nil {
		return models.Connection{}, err
	}
	if c.Expired(r.now()) {
		return models.Connection{}, apperr.ErrNotFound
	}
	return c, nil
}

func (r *Redis) ListByRoom(ctx context.Context, roomID string) ([]models.Connection, error) {
	now := r.now()
	ids, err := r.rdb.ZRangeByScore(ctx, r.roomKey(roomID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, apperr.StorageUnavailable("registry list", err)
	}
	if len(ids) == 0 {
		return []models.Connection{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.connKey(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperr.StorageUnavailable("registry list", err)
	}

	out := make([]models.Connection, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// unregistered between the two reads
			continue
		}
		var c models.Connection
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			log.Warn().Err(err).Str("connectionID", ids[i]).Msg("registry: skipping undecodable entry")
			continue
		}
		if c.RoomID != roomID || c.Expired(now) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *Redis) Reclaim(ctx context.Context) ([]models.Connection, error) {
	rooms, err := r.rdb.SMembers(ctx, r.roomsKey()).Result()
	if err != nil {
		return nil, apperr.StorageUnavailable("registry reclaim", err)
	}

	now := r.now()
	cutoff := strconv.FormatInt(now.UnixMilli(), 10)
	var reclaimed []models.Connection

	for _, roomID := range rooms {
		expired, err := r.rdb.ZRangeByScoreWithScores(ctx, r.roomKey(roomID), &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
		if err != nil {
			return reclaimed, apperr.StorageUnavailable("registry reclaim", err)
		}

		for _, z := range expired {
			id, _ := z.Member.(string)
			c, err := r.load(ctx, id)
			switch {
			case errors.Is(err, apperr.ErrNotFound):
				c = models.Connection{ConnectionID: id, RoomID: roomID, ExpiresAt: time.UnixMilli(int64(z.Score))}
			case err != nil:
				return reclaimed, err
			case c.RoomID != roomID || !c.Expired(now):
				// the id was registered again elsewhere; only the stale membership goes
				if err := r.rdb.ZRem(ctx, r.roomKey(roomID), id).Err(); err != nil {
					return reclaimed, apperr.StorageUnavailable("registry reclaim", err)
				}
				continue
			default:
				if err := r.rdb.Del(ctx, r.connKey(id)).Err(); err != nil {
					return reclaimed, apperr.StorageUnavailable("registry reclaim", err)
				}
			}
			if err := r.rdb.ZRem(ctx, r.roomKey(roomID), id).Err(); err != nil {
				return reclaimed, apperr.StorageUnavailable("registry reclaim", err)
			}
			reclaimed = append(reclaimed, c)
		}

		left, err := r.rdb.ZCard(ctx, r.roomKey(roomID)).Result()
		if err != nil {
			return reclaimed, apperr.StorageUnavailable("registry reclaim", err)
		}
		if left == 0 {
			if err := r.rdb.SRem(ctx, r.roomsKey(), roomID).Err(); err != nil {
				return reclaimed, apperr.StorageUnavailable("registry reclaim", err)
			}
		}
	}
	return reclaimed, nil
}

// Rooms returns the ids of rooms that may still have members.
func (r *Redis) Rooms(ctx context.Context) ([]string, error) {
	rooms, err := r.rdb.SMembers(ctx, r.roomsKey()).Result()
	if err != nil {
		return nil, apperr.StorageUnavailable("registry rooms", err)
	}
	return rooms, nil
}

// load reads the raw record without applying expiry.
func (r *Redis) load(ctx context.Context, connectionID string) (models.Connection, error) {
	raw, err := r.rdb.Get(ctx, r.connKey(connectionID)).Result()
	if errors.Is(err, redis.Nil) {
		return models.Connection{}, apperr.ErrNotFound
	}
	if err != nil {
		return models.Connection{}, apperr.StorageUnavailable("registry lookup", err)
	}

	var c models.Connection
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return models.Connection{}, err
	}
	return c, nil
}
