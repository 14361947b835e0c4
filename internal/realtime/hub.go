package realtime

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"live_auction/internal/engine"
)

// StateFunc 读取某拍卖的最新权威状态（展示用，容忍最终一致）。
type StateFunc func(ctx context.Context, auctionID uint) (engine.AuctionState, error)

// Hub 维护每个拍卖一个逻辑房间：join/leave、入场全量快照、
// 权威结果扇出、结束广播。房间成员写操作全部在 mu 内完成；
// 真正的串行化在引擎定序器里，这里只做分发。
type Hub struct {
	info   engine.InfoFunc
	state  StateFunc
	logger *log.Logger

	mu    sync.Mutex
	rooms map[uint]*room
}

type room struct {
	auctionID uint
	sessions  map[*Session]struct{}
	endTime   time.Time
	ended     bool
}

func NewHub(info engine.InfoFunc, state StateFunc, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		info:   info,
		state:  state,
		logger: logger,
		rooms:  make(map[uint]*room),
	}
}

// Join 订阅拍卖更新。中途加入者先收到一份全量快照，而不是只看到后续增量。
func (h *Hub) Join(ctx context.Context, s *Session, auctionID uint) error {
	info, err := h.info(ctx, auctionID)
	if err != nil {
		return err
	}

	state, err := h.state(ctx, auctionID)
	if err != nil {
		if !errors.Is(err, engine.ErrStateNotFound) {
			return err
		}
		// 尚无人出价：用目录参数构造零版本快照。
		state = engine.NewState(auctionID, info.StartingPrice, info.BidIncrement)
	}

	h.mu.Lock()
	r, ok := h.rooms[auctionID]
	if !ok {
		r = &room{
			auctionID: auctionID,
			sessions:  make(map[*Session]struct{}),
			endTime:   info.EndTime,
		}
		h.rooms[auctionID] = r
	}
	r.sessions[s] = struct{}{}
	h.mu.Unlock()

	snapshot := h.finalPayload(state, s, info)
	s.trySend(Outbound{Type: TypeRoomSnapshot, AuctionID: auctionID, Payload: snapshot})
	return nil
}

// Leave 退订某拍卖。
func (h *Hub) Leave(s *Session, auctionID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[auctionID]; ok {
		delete(r.sessions, s)
	}
}

// Drop 连接断开时把会话从所有房间摘除。
func (h *Hub) Drop(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		delete(r.sessions, s)
	}
}

// BroadcastFinal 作为定序器的提交钩子：每次成功落库恰好广播一条权威结果，
// 逐个观众按其显示货币换算当前价。慢消费者直接逐出，保住广播路径。
func (h *Hub) BroadcastFinal(res engine.Result) {
	h.mu.Lock()
	r, ok := h.rooms[res.AuctionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	targets := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		payload := FinalPayload{
			AuctionID:             res.AuctionID,
			Version:               res.Version,
			CurrentPriceCanonical: res.CurrentPrice,
			WinnerID:              res.WinnerID,
			BidHistory:            res.History,
		}
		payload.DisplayCurrency, payload.CurrentPriceDisplay = s.displayPrice(res.CurrentPrice, res.Snapshot)
		if !s.trySend(Outbound{Type: TypeBidFinal, AuctionID: res.AuctionID, Payload: payload}) {
			h.logger.Printf("hub: evicting slow subscriber from auction %d", res.AuctionID)
			h.Drop(s)
			s.close()
		}
	}
}

// Run 周期巡检房间：跨过结束时间的拍卖广播一次 auction:ended，
// 此刻站上的胜者即最终胜者。
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.sweepEnded(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) sweepEnded(ctx context.Context) {
	now := time.Now()

	h.mu.Lock()
	due := make([]*room, 0)
	for _, r := range h.rooms {
		if !r.ended && !now.Before(r.endTime) {
			r.ended = true
			due = append(due, r)
		}
	}
	h.mu.Unlock()

	for _, r := range due {
		state, err := h.state(ctx, r.auctionID)
		if err != nil && !errors.Is(err, engine.ErrStateNotFound) {
			h.logger.Printf("hub: read final state of auction %d: %v", r.auctionID, err)
			continue
		}
		payload := EndedPayload{
			AuctionID:  r.auctionID,
			Version:    state.Version,
			FinalPrice: state.CurrentPrice,
			WinnerID:   state.WinnerID,
			EndedAt:    r.endTime,
		}
		// 结束广播发出后房间即退休，不再占用映射与巡检；
		// 迟到的订阅者会重建房间，下一轮巡检再补发一次结束广播。
		h.mu.Lock()
		targets := make([]*Session, 0, len(r.sessions))
		for s := range r.sessions {
			targets = append(targets, s)
		}
		delete(h.rooms, r.auctionID)
		h.mu.Unlock()
		for _, s := range targets {
			s.trySend(Outbound{Type: TypeAuctionEnded, AuctionID: r.auctionID, Payload: payload})
		}
		h.logger.Printf("hub: auction %d ended, winner=%d price=%s", r.auctionID, state.WinnerID, state.CurrentPrice)
	}
}

func (h *Hub) finalPayload(state engine.AuctionState, s *Session, info engine.AuctionInfo) FinalPayload {
	payload := FinalPayload{
		AuctionID:             state.AuctionID,
		Version:               state.Version,
		CurrentPriceCanonical: state.CurrentPrice,
		WinnerID:              state.WinnerID,
		BidHistory:            state.History(),
	}
	payload.DisplayCurrency, payload.CurrentPriceDisplay = s.displayPrice(state.CurrentPrice, info.Snapshot)
	return payload
}
