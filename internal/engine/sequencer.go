package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"live_auction/internal/money"
)

// Store 是拍卖状态的权威存储。Commit 以 version 做 CAS：
// expectedVersion 与存储当前版本一致才写入并把版本 +1，否则返回
// ErrVersionConflict。定序器已保证同拍卖串行，CAS 是兜底防线。
type Store interface {
	Read(ctx context.Context, auctionID uint) (AuctionState, error)
	Commit(ctx context.Context, auctionID uint, expectedVersion uint64, next AuctionState) (AuctionState, error)
}

// AuctionInfo 是拍卖的不可变静态参数，来自商品目录与定价协作方。
type AuctionInfo struct {
	ID            uint
	StartTime     time.Time
	EndTime       time.Time
	StartingPrice decimal.Decimal
	BidIncrement  decimal.Decimal
	Snapshot      money.RateSnapshot
}

// InfoFunc 查询拍卖静态参数（目录 + 汇率快照）。
type InfoFunc func(ctx context.Context, auctionID uint) (AuctionInfo, error)

// Request 是客户端原始提交，金额仍是出价人的显示货币。
type Request struct {
	RequestID string
	AuctionID uint
	BidderID  int64
	Amount    decimal.Decimal
	Currency  string
}

// Result 是一次成功提交并落库后的权威结果，交给广播与 outbox。
type Result struct {
	RequestID       string
	AuctionID       uint
	Version         uint64
	CurrentPrice    decimal.Decimal
	WinnerID        int64
	BidderID        int64
	MaxAmount       decimal.Decimal
	OutbidBidderIDs []int64
	History         []HistoryEntry
	Snapshot        money.RateSnapshot
	ResolvedAt      time.Time
}

// CommitHook 在定序回合内、状态提交成功后同步执行（广播、outbox 等）。
type CommitHook func(Result)

// 泳道空闲（无任务且无在途提交）超过该时长即退休，
// 拍卖结束后准入检查挡住新提交，对应泳道随之被回收。
const defaultLaneIdle = 90 * time.Second

// Sequencer 保证同一拍卖任意时刻至多一个 read→resolve→commit 在途，
// 不同拍卖完全并行。每个拍卖一条惰性创建的 FIFO 泳道（单消费者 goroutine），
// 解析器因此无需内部加锁。空闲泳道会退休，再有提交时重建。
type Sequencer struct {
	store        Store
	info         InfoFunc
	queueSize    int
	queueTimeout time.Duration
	laneIdle     time.Duration
	logger       *log.Logger
	now          func() time.Time

	mu    sync.Mutex
	lanes map[uint]*lane
	hooks []CommitHook
	wg    sync.WaitGroup
	done  chan struct{}
}

type lane struct {
	ch chan task
	// pending 受 Sequencer.mu 保护：已取得泳道引用但尚未完成入队的提交数。
	// 退休检查据此判断是否还有提交者可能向该泳道写入。
	pending int
}

type task struct {
	req        Request
	info       AuctionInfo
	enqueuedAt time.Time
	resp       chan outcome
}

type outcome struct {
	res Result
	err error
}

func NewSequencer(store Store, info InfoFunc, queueSize int, queueTimeout time.Duration, logger *log.Logger) *Sequencer {
	if logger == nil {
		logger = log.Default()
	}
	return &Sequencer{
		store:        store,
		info:         info,
		queueSize:    queueSize,
		queueTimeout: queueTimeout,
		laneIdle:     defaultLaneIdle,
		logger:       logger,
		now:          time.Now,
		lanes:        make(map[uint]*lane),
		done:         make(chan struct{}),
	}
}

// OnCommit 注册提交后回调。须在开始接收提交之前注册完毕。
func (s *Sequencer) OnCommit(hook CommitHook) {
	s.hooks = append(s.hooks, hook)
}

// Close 停止所有泳道并等待在途回合结束。已入队未处理的提交被丢弃。
func (s *Sequencer) Close() {
	close(s.done)
	s.wg.Wait()
}

// Submit 提交一次代理出价并等待权威结果。
//
// 准入检查（生命周期）在入队前完成：只有 Active 的拍卖接收新提交；
// 已入队的提交即使处理时越过了结束边界也仍会被解析，保证到达序处理。
// ctx 取消只放弃等待，不撤销已入队的解析——结果照常广播给房间。
func (s *Sequencer) Submit(ctx context.Context, req Request) (Result, error) {
	info, err := s.info(ctx, req.AuctionID)
	if err != nil {
		return Result{}, fmt.Errorf("auction %d: %w", req.AuctionID, err)
	}

	if phase := PhaseAt(s.now(), info.StartTime, info.EndTime); phase != PhaseActive {
		return Result{}, fmt.Errorf("%w: auction %d is %s", ErrAuctionNotActive, req.AuctionID, phase)
	}

	t := task{
		req:        req,
		info:       info,
		enqueuedAt: s.now(),
		resp:       make(chan outcome, 1), // 有缓冲，worker 永不因等待提交者而阻塞
	}

	timer := time.NewTimer(s.queueTimeout)
	defer timer.Stop()

	l := s.laneFor(req.AuctionID)
	var enqueueErr error
	select {
	case l.ch <- t:
	case <-timer.C:
		enqueueErr = fmt.Errorf("%w: queue full for auction %d", ErrQueueTimeout, req.AuctionID)
	case <-ctx.Done():
		enqueueErr = ctx.Err()
	case <-s.done:
		enqueueErr = fmt.Errorf("sequencer closed")
	}
	s.releaseLane(l)
	if enqueueErr != nil {
		return Result{}, enqueueErr
	}

	select {
	case out := <-t.resp:
		return out.res, out.err
	case <-ctx.Done():
		// 提交者不再等待，但该回合仍会完成并广播。
		return Result{}, ctx.Err()
	}
}

// laneFor 取出（或创建）拍卖的泳道，并把在途提交数 +1，
// 入队结束后由 releaseLane 归还。计数在持锁期间递增，退休检查因此可靠。
func (s *Sequencer) laneFor(auctionID uint) *lane {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lanes[auctionID]
	if !ok {
		l = &lane{ch: make(chan task, s.queueSize)}
		s.lanes[auctionID] = l
		s.wg.Add(1)
		go s.run(auctionID, l)
	}
	l.pending++
	return l
}

func (s *Sequencer) releaseLane(l *lane) {
	s.mu.Lock()
	l.pending--
	s.mu.Unlock()
}

// retireLane 在泳道空闲时把它摘出映射。队列非空或仍有提交者
// 持有泳道引用时放弃本次退休，等下一个空闲周期。
func (s *Sequencer) retireLane(auctionID uint, l *lane) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.pending > 0 || len(l.ch) > 0 {
		return false
	}
	delete(s.lanes, auctionID)
	return true
}

func (s *Sequencer) run(auctionID uint, l *lane) {
	defer s.wg.Done()
	idle := time.NewTimer(s.laneIdle)
	defer idle.Stop()
	for {
		select {
		case t := <-l.ch:
			if waited := s.now().Sub(t.enqueuedAt); waited > s.queueTimeout {
				t.resp <- outcome{err: fmt.Errorf("%w: waited %s", ErrQueueTimeout, waited)}
			} else {
				res, err := s.process(t)
				if err != nil {
					s.logger.Printf("sequencer: auction %d bid %s rejected: %v", auctionID, t.req.RequestID, err)
				}
				t.resp <- outcome{res: res, err: err}
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.laneIdle)
		case <-idle.C:
			if s.retireLane(auctionID, l) {
				return
			}
			idle.Reset(s.laneIdle)
		case <-s.done:
			return
		}
	}
}

// process 执行一次 read→normalize→resolve→commit 回合。
// 任何错误都发生在提交之前或 CAS 失败，拍卖状态不会被部分修改。
func (s *Sequencer) process(t task) (Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	canonical, err := money.ToCanonical(t.req.Amount, t.req.Currency, t.info.Snapshot)
	if err != nil {
		return Result{}, fmt.Errorf("normalize bid: %w", err)
	}

	sub := Submission{
		BidderID:  t.req.BidderID,
		MaxAmount: canonical,
		At:        s.now(),
	}

	// CAS 冲突说明定序被绕过（理论上不可能），带着新读的状态重试一次。
	const attempts = 2
	var committed AuctionState
	var resolution Resolution
	for attempt := 1; ; attempt++ {
		state, err := s.readOrInit(ctx, t.info)
		if err != nil {
			return Result{}, fmt.Errorf("read state: %w", err)
		}

		resolution, err = Resolve(state, sub)
		if err != nil {
			return Result{}, err
		}

		committed, err = s.store.Commit(ctx, t.req.AuctionID, state.Version, resolution.State)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrVersionConflict) || attempt >= attempts {
			return Result{}, fmt.Errorf("commit state: %w", err)
		}
		s.logger.Printf("sequencer: auction %d version conflict, retrying once", t.req.AuctionID)
	}

	res := Result{
		RequestID:       t.req.RequestID,
		AuctionID:       t.req.AuctionID,
		Version:         committed.Version,
		CurrentPrice:    committed.CurrentPrice,
		WinnerID:        committed.WinnerID,
		BidderID:        t.req.BidderID,
		MaxAmount:       canonical,
		OutbidBidderIDs: resolution.OutbidBidderIDs,
		History:         committed.History(),
		Snapshot:        t.info.Snapshot,
		ResolvedAt:      s.now(),
	}
	for _, hook := range s.hooks {
		hook(res)
	}
	return res, nil
}

// readOrInit 读取状态，首笔出价前存储为空则从目录参数构造初始状态。
func (s *Sequencer) readOrInit(ctx context.Context, info AuctionInfo) (AuctionState, error) {
	state, err := s.store.Read(ctx, info.ID)
	if err == nil {
		return state, nil
	}
	if errors.Is(err, ErrStateNotFound) {
		return NewState(info.ID, info.StartingPrice, info.BidIncrement), nil
	}
	return AuctionState{}, err
}
