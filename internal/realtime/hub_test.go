package realtime

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"live_auction/internal/account"
	"live_auction/internal/engine"
	"live_auction/internal/money"
)

func discardLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func hubSnapshot(t *testing.T) money.RateSnapshot {
	t.Helper()
	snap, err := money.NewSnapshot("USD", map[string]string{"EUR": "0.92"}, time.Now())
	assert.Nil(t, err)
	return snap
}

func hubInfoFn(snap money.RateSnapshot, start, end time.Time) engine.InfoFunc {
	return func(ctx context.Context, auctionID uint) (engine.AuctionInfo, error) {
		return engine.AuctionInfo{
			ID:            auctionID,
			StartTime:     start,
			EndTime:       end,
			StartingPrice: dec("100"),
			BidIncrement:  dec("10"),
			Snapshot:      snap,
		}, nil
	}
}

func notFoundState(ctx context.Context, auctionID uint) (engine.AuctionState, error) {
	return engine.AuctionState{}, engine.ErrStateNotFound
}

func newHubSession(h *Hub) *Session {
	return &Session{
		hub:      h,
		accounts: account.NewStaticDirectory("USD", nil),
		logger:   discardLogger(),
		send:     make(chan Outbound, sendQueueSize),
		closed:   make(chan struct{}),
	}
}

// 广播与重新加入（切换显示货币）并发进行：会话身份的读写必须同步，
// -race 下跑这条用例验证。
func TestBroadcastDuringRejoin(t *testing.T) {
	snap := hubSnapshot(t)
	now := time.Now()
	h := NewHub(hubInfoFn(snap, now.Add(-time.Minute), now.Add(time.Hour)), notFoundState, discardLogger())
	s := newHubSession(h)

	// 持续排空发送队列，避免慢消费者被逐出
	stop := make(chan struct{})
	var drained sync.WaitGroup
	drained.Add(1)
	go func() {
		defer drained.Done()
		for {
			select {
			case <-s.send:
			case <-stop:
				return
			}
		}
	}()

	s.handleJoin(Inbound{Type: TypeJoinRoom, AuctionID: 1, BidderID: 1, Currency: "USD"})

	res := engine.Result{
		AuctionID:    1,
		Version:      1,
		CurrentPrice: dec("100"),
		WinnerID:     2,
		History:      []engine.HistoryEntry{{BidderID: 2, MaxAmount: dec("150"), CurrentAmount: dec("100"), IsWinning: true}},
		Snapshot:     snap,
	}

	currencies := []string{"USD", "EUR"}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			s.handleJoin(Inbound{Type: TypeJoinRoom, AuctionID: 1, BidderID: int64(i%3 + 1), Currency: currencies[i%2]})
		}
	}()
	for i := 0; i < 200; i++ {
		h.BroadcastFinal(res)
	}
	<-done
	close(stop)
	drained.Wait()

	cur, price := s.displayPrice(dec("100"), snap)
	check.True(t, cur == "USD" || cur == "EUR")
	check.True(t, price.IsPositive())
}

// 结束广播发出后房间退休，映射里不再保留空壳。
func TestEndedRoomRetired(t *testing.T) {
	snap := hubSnapshot(t)
	now := time.Now()
	h := NewHub(hubInfoFn(snap, now.Add(-2*time.Hour), now.Add(-time.Hour)), notFoundState, discardLogger())
	s := newHubSession(h)

	ctx := context.Background()
	assert.Nil(t, h.Join(ctx, s, 1))

	h.sweepEnded(ctx)

	// 缓冲里应先有入场快照，再有结束广播
	first := <-s.send
	check.Equal(t, TypeRoomSnapshot, first.Type)
	second := <-s.send
	check.Equal(t, TypeAuctionEnded, second.Type)

	h.mu.Lock()
	_, ok := h.rooms[1]
	h.mu.Unlock()
	check.True(t, !ok)

	// 迟到的订阅者重建房间，下一轮巡检再次收到结束广播
	late := newHubSession(h)
	assert.Nil(t, h.Join(ctx, late, 1))
	h.sweepEnded(ctx)
	<-late.send // 快照
	ended := <-late.send
	check.Equal(t, TypeAuctionEnded, ended.Type)
}
