package store

import (
	"context"
	"encoding/json"
	"fmt"

	rd "github.com/redis/go-redis/v9"

	"live_auction/internal/engine"
	rediskey "live_auction/pkg/redis"
)

// luaCommitState：Redis 内原子「读版本 → 比对 → 写新状态并递增版本」。
// KEYS[1]=状态key，ARGV[1]=期望版本，ARGV[2]=新状态 JSON；
// 版本不匹配返回 -1，成功返回新版本号。key 不存在视作版本 0。
const luaCommitState = `
local key = KEYS[1]
local expected = tonumber(ARGV[1])
local payload = ARGV[2]
local current = tonumber(redis.call('HGET', key, 'version') or '0')
if current ~= expected then
  return -1
end
local next = expected + 1
redis.call('HSET', key, 'version', next, 'payload', payload)
return next
`

// RedisStore 把权威状态放在 Redis hash（version + payload）里，
// 提交走 Lua 脚本保证比对与写入原子。
type RedisStore struct {
	rdb *rd.Client
}

func NewRedisStore(rdb *rd.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Read(ctx context.Context, auctionID uint) (engine.AuctionState, error) {
	b, err := s.rdb.HGet(ctx, rediskey.StateKey(auctionID), "payload").Bytes()
	if err != nil {
		if err == rd.Nil {
			return engine.AuctionState{}, engine.ErrStateNotFound
		}
		return engine.AuctionState{}, err
	}
	var state engine.AuctionState
	if err := json.Unmarshal(b, &state); err != nil {
		return engine.AuctionState{}, fmt.Errorf("decode state: %w", err)
	}
	if state.ProxyBids == nil {
		state.ProxyBids = make(map[int64]*engine.ProxyBid)
	}
	return state, nil
}

func (s *RedisStore) Commit(ctx context.Context, auctionID uint, expectedVersion uint64, next engine.AuctionState) (engine.AuctionState, error) {
	committed := next.Clone()
	committed.Version = expectedVersion + 1

	payload, err := json.Marshal(committed)
	if err != nil {
		return engine.AuctionState{}, fmt.Errorf("encode state: %w", err)
	}

	n, err := s.rdb.Eval(ctx, luaCommitState,
		[]string{rediskey.StateKey(auctionID)}, expectedVersion, payload).Int64()
	if err != nil {
		return engine.AuctionState{}, err
	}
	if n < 0 {
		return engine.AuctionState{}, fmt.Errorf("%w: expected %d", engine.ErrVersionConflict, expectedVersion)
	}
	return committed, nil
}
