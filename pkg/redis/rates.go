package redis

import (
	"context"
	"encoding/json"
	"time"

	rd "github.com/redis/go-redis/v9"

	"live_auction/internal/money"
)

// PutRateSnapshot 缓存某拍卖的汇率快照并设置 TTL。
// 快照在拍卖创建时冻结，之后所有该拍卖的换算都走同一份。
func PutRateSnapshot(ctx context.Context, rdb *rd.Client, auctionID uint, snap money.RateSnapshot, ttl time.Duration) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, RateSnapshotKey(auctionID), b, ttl).Err()
}

// GetRateSnapshot 读取快照。found=false 表示 key 不存在（未预热或已过期）。
func GetRateSnapshot(ctx context.Context, rdb *rd.Client, auctionID uint) (money.RateSnapshot, bool, error) {
	b, err := rdb.Get(ctx, RateSnapshotKey(auctionID)).Bytes()
	if err != nil {
		if err == rd.Nil {
			return money.RateSnapshot{}, false, nil
		}
		return money.RateSnapshot{}, false, err
	}
	var snap money.RateSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return money.RateSnapshot{}, false, err
	}
	return snap, true, nil
}
