package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"live_auction/internal/engine"
	"live_auction/internal/money"
	"live_auction/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func usdSnapshot(t *testing.T) money.RateSnapshot {
	t.Helper()
	snap, err := money.NewSnapshot("USD", map[string]string{"EUR": "0.92"}, time.Now())
	assert.Nil(t, err)
	return snap
}

// activeInfo 返回一个正在进行中的拍卖：起拍 100，步长 10。
func activeInfo(t *testing.T) engine.InfoFunc {
	snap := usdSnapshot(t)
	return func(ctx context.Context, auctionID uint) (engine.AuctionInfo, error) {
		now := time.Now()
		return engine.AuctionInfo{
			ID:            auctionID,
			StartTime:     now.Add(-time.Minute),
			EndTime:       now.Add(time.Hour),
			StartingPrice: dec("100"),
			BidIncrement:  dec("10"),
			Snapshot:      snap,
		}, nil
	}
}

func newTestSequencer(t *testing.T, st engine.Store) *engine.Sequencer {
	t.Helper()
	seq := engine.NewSequencer(st, activeInfo(t), 64, 2*time.Second, testLogger())
	t.Cleanup(seq.Close)
	return seq
}

func submit(t *testing.T, seq *engine.Sequencer, auctionID uint, bidderID int64, max string) (engine.Result, error) {
	t.Helper()
	return seq.Submit(context.Background(), engine.Request{
		RequestID: fmt.Sprintf("req-%d-%s", bidderID, max),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    dec(max),
		Currency:  "USD",
	})
}

func TestSubmitResolvesSerially(t *testing.T) {
	st := store.NewMemoryStore()
	seq := newTestSequencer(t, st)

	res, err := submit(t, seq, 1, 1, "150")
	assert.Nil(t, err)
	check.Equal(t, uint64(1), res.Version)
	check.True(t, res.CurrentPrice.Equal(dec("100")))

	res, err = submit(t, seq, 1, 2, "130")
	assert.Nil(t, err)
	check.Equal(t, uint64(2), res.Version)
	check.True(t, res.CurrentPrice.Equal(dec("140")))
	check.Equal(t, int64(1), res.WinnerID)

	res, err = submit(t, seq, 1, 2, "160")
	assert.Nil(t, err)
	check.Equal(t, uint64(3), res.Version)
	check.True(t, res.CurrentPrice.Equal(dec("160")))
	check.Equal(t, int64(2), res.WinnerID)
	check.Equal(t, []int64{1}, res.OutbidBidderIDs)
}

func TestSubmitNormalizesCurrencyBeforeResolve(t *testing.T) {
	seq := newTestSequencer(t, store.NewMemoryStore())

	// 101.20 EUR / 0.92 = 110.00 USD，恰好达到起拍价+步长
	res, err := seq.Submit(context.Background(), engine.Request{
		RequestID: "req-eur",
		AuctionID: 1,
		BidderID:  1,
		Amount:    dec("101.20"),
		Currency:  "EUR",
	})
	assert.Nil(t, err)
	check.True(t, res.MaxAmount.Equal(dec("110")))
	check.True(t, res.CurrentPrice.Equal(dec("100")))
}

func TestSubmitRejectsWhenNotActive(t *testing.T) {
	snap := usdSnapshot(t)
	mk := func(start, end time.Time) engine.InfoFunc {
		return func(ctx context.Context, auctionID uint) (engine.AuctionInfo, error) {
			return engine.AuctionInfo{
				ID: auctionID, StartTime: start, EndTime: end,
				StartingPrice: dec("100"), BidIncrement: dec("10"), Snapshot: snap,
			}, nil
		}
	}
	now := time.Now()

	// 未开拍
	seq := engine.NewSequencer(store.NewMemoryStore(), mk(now.Add(time.Hour), now.Add(2*time.Hour)), 4, time.Second, testLogger())
	defer seq.Close()
	_, err := submit(t, seq, 1, 1, "150")
	check.True(t, errors.Is(err, engine.ErrAuctionNotActive))

	// 已结束
	seq2 := engine.NewSequencer(store.NewMemoryStore(), mk(now.Add(-2*time.Hour), now.Add(-time.Hour)), 4, time.Second, testLogger())
	defer seq2.Close()
	_, err = submit(t, seq2, 1, 1, "150")
	check.True(t, errors.Is(err, engine.ErrAuctionNotActive))
}

func TestRejectedBidLeavesStateUntouched(t *testing.T) {
	st := store.NewMemoryStore()
	seq := newTestSequencer(t, st)

	_, err := submit(t, seq, 1, 1, "150")
	assert.Nil(t, err)

	_, err = submit(t, seq, 1, 1, "150")
	check.True(t, errors.Is(err, engine.ErrStaleBid))
	_, err = submit(t, seq, 1, 2, "105")
	check.True(t, errors.Is(err, engine.ErrBidTooLow))

	state, err := st.Read(context.Background(), 1)
	assert.Nil(t, err)
	check.Equal(t, uint64(1), state.Version)
	check.Equal(t, 1, len(state.ProxyBids))
}

// TestConcurrentSubmissionsSequenced 并发提交下的串行化性质：
// 无论到达顺序，版本号严格连续，胜者是最高封顶价的出价人，
// 成交价不超过其封顶价。
func TestConcurrentSubmissionsSequenced(t *testing.T) {
	st := store.NewMemoryStore()
	seq := newTestSequencer(t, st)

	const bidders = 16
	var mu sync.Mutex
	accepted := 0
	var wg sync.WaitGroup
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			max := fmt.Sprintf("%d", 120+idx*20)
			if _, err := submit(t, seq, 7, int64(idx+1), max); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else if !errors.Is(err, engine.ErrBidTooLow) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	state, err := st.Read(context.Background(), 7)
	assert.Nil(t, err)
	// 每次成功提交恰好产生一个新版本
	check.Equal(t, uint64(accepted), state.Version)
	check.True(t, accepted >= 1)
	// 最高封顶价 120+15*20=420 的出价人必定胜出
	check.Equal(t, int64(bidders), state.WinnerID)
	check.True(t, state.CurrentPrice.LessThanOrEqual(dec("420")))
	check.True(t, state.CurrentPrice.GreaterThanOrEqual(dec("100")))
}

// gatedStore 在 Read 上阻塞，直到 gate 被关闭，用来占住泳道。
type gatedStore struct {
	engine.Store
	gate chan struct{}
}

func (g *gatedStore) Read(ctx context.Context, auctionID uint) (engine.AuctionState, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return engine.AuctionState{}, ctx.Err()
	}
	return g.Store.Read(ctx, auctionID)
}

func TestSubmitQueueTimeout(t *testing.T) {
	gate := make(chan struct{})
	st := &gatedStore{Store: store.NewMemoryStore(), gate: gate}
	seq := engine.NewSequencer(st, activeInfo(t), 1, 100*time.Millisecond, testLogger())
	defer seq.Close()

	var wg sync.WaitGroup
	// 第一笔占住 worker，第二笔填满容量为 1 的队列
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = submit(t, seq, 1, id, "150")
		}(int64(i + 1))
	}
	time.Sleep(20 * time.Millisecond)

	// 第三笔挤不进队列，等满超时后被拒
	_, err := submit(t, seq, 1, 3, "150")
	check.True(t, errors.Is(err, engine.ErrQueueTimeout))

	close(gate)
	wg.Wait()
}

func TestSubmitterDisconnectDoesNotCancelResolution(t *testing.T) {
	gate := make(chan struct{})
	st := &gatedStore{Store: store.NewMemoryStore(), gate: gate}
	seq := engine.NewSequencer(st, activeInfo(t), 4, 2*time.Second, testLogger())
	defer seq.Close()

	committed := make(chan engine.Result, 1)
	seq.OnCommit(func(res engine.Result) { committed <- res })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := seq.Submit(ctx, engine.Request{
			RequestID: "req-gone", AuctionID: 1, BidderID: 1,
			Amount: dec("150"), Currency: "USD",
		})
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	// 提交者在解析期间断开：Submit 返回 ctx 错误，回合仍完成并触发钩子
	cancel()
	check.True(t, errors.Is(<-errCh, context.Canceled))

	close(gate)
	select {
	case res := <-committed:
		check.Equal(t, uint64(1), res.Version)
		check.Equal(t, int64(1), res.WinnerID)
	case <-time.After(2 * time.Second):
		t.Fatal("commit hook never fired after submitter disconnect")
	}
}

// conflictStore 让前 n 次 Commit 返回版本冲突，之后透传。
type conflictStore struct {
	engine.Store
	mu        sync.Mutex
	remaining int
	conflicts int
}

func (c *conflictStore) Commit(ctx context.Context, auctionID uint, expectedVersion uint64, next engine.AuctionState) (engine.AuctionState, error) {
	c.mu.Lock()
	if c.remaining > 0 {
		c.remaining--
		c.conflicts++
		c.mu.Unlock()
		return engine.AuctionState{}, engine.ErrVersionConflict
	}
	c.mu.Unlock()
	return c.Store.Commit(ctx, auctionID, expectedVersion, next)
}

func TestVersionConflictRetriedOnce(t *testing.T) {
	st := &conflictStore{Store: store.NewMemoryStore(), remaining: 1}
	seq := engine.NewSequencer(st, activeInfo(t), 4, time.Second, testLogger())
	defer seq.Close()

	res, err := submit(t, seq, 1, 1, "150")
	assert.Nil(t, err)
	check.Equal(t, uint64(1), res.Version)
	check.Equal(t, 1, st.conflicts)
}

func TestVersionConflictGivesUpAfterRetry(t *testing.T) {
	st := &conflictStore{Store: store.NewMemoryStore(), remaining: 2}
	seq := engine.NewSequencer(st, activeInfo(t), 4, time.Second, testLogger())
	defer seq.Close()

	_, err := submit(t, seq, 1, 1, "150")
	check.True(t, errors.Is(err, engine.ErrVersionConflict))
	check.Equal(t, 2, st.conflicts)
}

func TestCommitHooksRunInRegistrationOrder(t *testing.T) {
	seq := newTestSequencer(t, store.NewMemoryStore())

	var order []string
	seq.OnCommit(func(res engine.Result) { order = append(order, "broadcast") })
	seq.OnCommit(func(res engine.Result) { order = append(order, "outbox") })

	res, err := submit(t, seq, 1, 1, "150")
	assert.Nil(t, err)
	check.Equal(t, []string{"broadcast", "outbox"}, order)
	check.Equal(t, "req-1-150", res.RequestID)
	assert.Equal(t, 1, len(res.History))
	check.True(t, res.History[0].IsWinning)
}
