package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"live_auction/internal/engine"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedState() engine.AuctionState {
	state := engine.NewState(1, dec("100"), dec("10"))
	state.ProxyBids[1] = &engine.ProxyBid{
		BidderID:    1,
		MaxAmount:   dec("150"),
		SubmittedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	state.CurrentPrice = dec("100")
	state.WinnerID = 1
	return state
}

func TestMemoryStoreReadMissing(t *testing.T) {
	m := NewMemoryStore()
	_, err := m.Read(context.Background(), 42)
	check.True(t, errors.Is(err, engine.ErrStateNotFound))
}

func TestMemoryStoreCommitAndRead(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	// key 不存在时期望版本 0 才能首次提交
	committed, err := m.Commit(ctx, 1, 0, seedState())
	assert.Nil(t, err)
	check.Equal(t, uint64(1), committed.Version)

	got, err := m.Read(ctx, 1)
	assert.Nil(t, err)
	check.Equal(t, uint64(1), got.Version)
	check.Equal(t, int64(1), got.WinnerID)
	check.True(t, got.ProxyBids[1].MaxAmount.Equal(dec("150")))
}

func TestMemoryStoreCommitVersionConflict(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	_, err := m.Commit(ctx, 1, 0, seedState())
	assert.Nil(t, err)

	// 过期版本被拒，存储不动
	_, err = m.Commit(ctx, 1, 0, seedState())
	check.True(t, errors.Is(err, engine.ErrVersionConflict))
	_, err = m.Commit(ctx, 1, 2, seedState())
	check.True(t, errors.Is(err, engine.ErrVersionConflict))

	got, err := m.Read(ctx, 1)
	assert.Nil(t, err)
	check.Equal(t, uint64(1), got.Version)

	// 正确版本继续推进
	committed, err := m.Commit(ctx, 1, 1, got)
	assert.Nil(t, err)
	check.Equal(t, uint64(2), committed.Version)
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	next := seedState()
	committed, err := m.Commit(ctx, 1, 0, next)
	assert.Nil(t, err)

	// 提交后改动调用方手里的对象，不得影响存储内容
	next.ProxyBids[1].MaxAmount = dec("999")
	committed.ProxyBids[1].MaxAmount = dec("888")

	got, err := m.Read(ctx, 1)
	assert.Nil(t, err)
	check.True(t, got.ProxyBids[1].MaxAmount.Equal(dec("150")))

	// 读出的快照同样是独立副本
	got.ProxyBids[1].MaxAmount = dec("777")
	again, err := m.Read(ctx, 1)
	assert.Nil(t, err)
	check.True(t, again.ProxyBids[1].MaxAmount.Equal(dec("150")))
}

func TestMemoryStoreAuctionsIndependent(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	_, err := m.Commit(ctx, 1, 0, seedState())
	assert.Nil(t, err)

	// 另一场拍卖从版本 0 起步，互不干扰
	other := engine.NewState(2, dec("50"), dec("5"))
	committed, err := m.Commit(ctx, 2, 0, other)
	assert.Nil(t, err)
	check.Equal(t, uint64(1), committed.Version)
}
