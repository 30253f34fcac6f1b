package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps game documents as JSON strings, a per-user room index as sets
// and user ratings as hashes.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration // applied to finished games; 0 keeps them forever
}

// NewRedis dials and pings REDIS_URL.
func NewRedis(ctx context.Context, redisURL string, finishedTTL time.Duration) (*Redis, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	opts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{rdb: rdb, ttl: finishedTTL}, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(rdb *redis.Client, finishedTTL time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: finishedTTL}
}

func gameKey(roomID string) string    { return "chess:game:" + strings.TrimSpace(roomID) }
func idxUserKey(userID string) string { return "chess:index:user:" + strings.TrimSpace(userID) }
func userKey(userID string) string    { return "chess:user:" + strings.TrimSpace(userID) }

func (r *Redis) CreateGame(ctx context.Context, g *GameRecord) error {
	if g == nil || strings.TrimSpace(g.RoomID) == "" {
		return ErrGameNotFound
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetNX(ctx, gameKey(g.RoomID), raw, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrRoomExists
	}
	return r.indexParticipants(ctx, g)
}

func (r *Redis) FindGame(ctx context.Context, roomID string) (*GameRecord, error) {
	return r.get(ctx, r.rdb, roomID)
}

func (r *Redis) UpdateGame(ctx context.Context, g *GameRecord) error {
	if g == nil {
		return ErrGameNotFound
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetXX(ctx, gameKey(g.RoomID), raw, r.expiry(g)).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrGameNotFound
	}
	return r.indexParticipants(ctx, g)
}

func (r *Redis) DeleteGame(ctx context.Context, roomID string) error {
	g, err := r.get(ctx, r.rdb, roomID)
	if err != nil {
		return err
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, gameKey(roomID))
		for _, uid := range []string{g.WhitePlayerID, g.BlackPlayerID} {
			if uid != "" {
				pipe.SRem(ctx, idxUserKey(uid), roomID)
			}
		}
		return nil
	})
	return err
}

func (r *Redis) GamesByUser(ctx context.Context, userID string, finishedOnly bool) ([]*GameRecord, error) {
	ids, err := r.rdb.SMembers(ctx, idxUserKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	out := []*GameRecord{}
	for _, id := range ids {
		g, gerr := r.get(ctx, r.rdb, id)
		if errors.Is(gerr, ErrGameNotFound) {
			// expired document; drop the dangling index entry
			_ = r.rdb.SRem(ctx, idxUserKey(userID), id).Err()
			continue
		}
		if gerr != nil {
			return nil, gerr
		}
		if finishedOnly && g.IsOngoing {
			continue
		}
		out = append(out, g)
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *Redis) FindUser(ctx context.Context, userID string) (*User, error) {
	vals, err := r.rdb.HGetAll(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, ErrUserNotFound
	}
	u := &User{ID: strings.TrimSpace(userID), Name: vals["name"]}
	if u.Rating, err = strconv.Atoi(vals["rating"]); err != nil {
		return nil, fmt.Errorf("user %s rating: %w", userID, err)
	}
	if ts, perr := strconv.ParseInt(vals["updated_at"], 10, 64); perr == nil {
		u.UpdatedAt = time.UnixMilli(ts)
	}
	return u, nil
}

func (r *Redis) SaveUser(ctx context.Context, u *User) error {
	if u == nil || strings.TrimSpace(u.ID) == "" {
		return ErrUserNotFound
	}
	ts := u.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return r.rdb.HSet(ctx, userKey(u.ID), "name", u.Name, "rating", u.Rating, "updated_at", ts.UnixMilli()).Err()
}

// Settle writes the final record and both ratings in one MULTI block, guarded
// by WATCH on the game key so a concurrent settlement loses cleanly.
func (r *Redis) Settle(ctx context.Context, s Settlement) error {
	if err := validSettlement(s); err != nil {
		return err
	}
	g := s.Game
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	key := gameKey(g.RoomID)
	now := time.Now().UnixMilli()

	return r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := r.get(ctx, tx, g.RoomID)
		if err != nil {
			return err
		}
		if !cur.IsOngoing {
			return ErrAlreadyFinished
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, r.expiry(g))
			if g.WhitePlayerID != "" {
				pipe.HSet(ctx, userKey(g.WhitePlayerID), "rating", s.WhiteRating, "updated_at", now)
			}
			if g.BlackPlayerID != "" {
				pipe.HSet(ctx, userKey(g.BlackPlayerID), "rating", s.BlackRating, "updated_at", now)
			}
			return nil
		})
		return err
	}, key)
}

func (r *Redis) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}

// Ping reports backend reachability for health checks.
func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *Redis) expiry(g *GameRecord) time.Duration {
	if g.IsOngoing {
		return 0
	}
	return r.ttl
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *Redis) get(ctx context.Context, c getter, roomID string) (*GameRecord, error) {
	raw, err := c.Get(ctx, gameKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	var g GameRecord
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode game %s: %w", roomID, err)
	}
	return &g, nil
}

func (r *Redis) indexParticipants(ctx context.Context, g *GameRecord) error {
	for _, uid := range []string{g.WhitePlayerID, g.BlackPlayerID} {
		if uid == "" {
			continue
		}
		if err := r.rdb.SAdd(ctx, idxUserKey(uid), g.RoomID).Err(); err != nil {
			return err
		}
	}
	return nil
}

// ParseRedisURL accepts redis:// and rediss:// URLs with an optional /db path.
// rediss:// yields a TLS config.
func ParseRedisURL(raw string) (*redis.Options, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return opts, nil
}
