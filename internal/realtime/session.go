package realtime

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"live_auction/internal/account"
	"live_auction/internal/engine"
	"live_auction/internal/money"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// demo 级别：放开跨域
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	readDeadline  = 60 * time.Second
	pingInterval  = 30 * time.Second
	sendQueueSize = 256
	submitTimeout = 10 * time.Second
)

// Session 是一条 websocket 连接：一个 writer goroutine 消费 send 队列，
// 读循环路由 join/leave/place_bid。
type Session struct {
	conn     *websocket.Conn
	hub      *Hub
	seq      *engine.Sequencer
	accounts account.Directory
	logger   *log.Logger

	// mu 保护 bidderID / currency：读循环在 join 时写，
	// 广播在定序器的 worker goroutine 上读。
	mu       sync.Mutex
	bidderID int64
	currency string

	send      chan Outbound
	closeOnce sync.Once
	closed    chan struct{}
}

// ServeWS 返回 websocket 入口的 gin handler。
func ServeWS(hub *Hub, seq *engine.Sequencer, accounts account.Directory, logger *log.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = log.Default()
	}
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade 失败时响应已写出，这里只记日志。
			logger.Printf("ws upgrade: %v", err)
			return
		}
		s := &Session{
			conn:     conn,
			hub:      hub,
			seq:      seq,
			accounts: accounts,
			logger:   logger,
			send:     make(chan Outbound, sendQueueSize),
			closed:   make(chan struct{}),
		}
		go s.writeLoop()
		s.readLoop()
	}
}

func (s *Session) readLoop() {
	defer func() {
		s.hub.Drop(s)
		s.close()
	}()

	_ = s.conn.SetReadDeadline(time.Now().Add(readDeadline))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		var msg Inbound
		if err := s.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case TypeJoinRoom:
			s.handleJoin(msg)
		case TypeLeaveRoom:
			s.hub.Leave(s, msg.AuctionID)
		case TypePlaceBid:
			s.handleBid(msg)
		default:
			s.trySend(Outbound{Type: TypeError, Payload: RejectPayload{Reason: "unknown_type"}})
		}
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case out := <-s.send:
			if err := s.conn.WriteJSON(out); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}

func (s *Session) handleJoin(msg Inbound) {
	if msg.AuctionID == 0 || msg.BidderID == 0 {
		s.trySend(Outbound{Type: TypeError, Payload: RejectPayload{Reason: "bad_join"}})
		return
	}
	// 货币优先取 join 自带的，缺省时向账号目录查询。
	currency := strings.ToUpper(strings.TrimSpace(msg.Currency))
	if currency == "" {
		currency = s.accounts.DisplayCurrency(msg.BidderID)
	}
	s.mu.Lock()
	s.bidderID = msg.BidderID
	s.currency = currency
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.hub.Join(ctx, s, msg.AuctionID); err != nil {
		s.logger.Printf("ws join auction %d: %v", msg.AuctionID, err)
		s.trySend(Outbound{Type: TypeError, AuctionID: msg.AuctionID, Payload: RejectPayload{Reason: "join_failed"}})
	}
}

func (s *Session) handleBid(msg Inbound) {
	s.mu.Lock()
	sessionBidder, sessionCurrency := s.bidderID, s.currency
	s.mu.Unlock()

	bidderID := msg.BidderID
	if bidderID == 0 {
		bidderID = sessionBidder
	}
	if msg.AuctionID == 0 || bidderID == 0 {
		s.trySend(Outbound{Type: TypeError, AuctionID: msg.AuctionID, Payload: RejectPayload{Reason: "bad_bid"}})
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(msg.Currency))
	if currency == "" {
		currency = sessionCurrency
	}
	requestID := msg.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	// 乐观回显：解析尚未开始就先回给提交者本人，让界面立即有反馈。
	s.trySend(Outbound{Type: TypeBidPlaced, AuctionID: msg.AuctionID, Payload: EchoPayload{
		RequestID: requestID,
		AuctionID: msg.AuctionID,
		BidderID:  bidderID,
		MaxAmount: msg.MaxAmount,
		Currency:  currency,
		At:        time.Now(),
	}})

	req := engine.Request{
		RequestID: requestID,
		AuctionID: msg.AuctionID,
		BidderID:  bidderID,
		Amount:    msg.MaxAmount,
		Currency:  currency,
	}

	// 提交与连接生命周期解耦：连接断开不撤销已入队的解析，
	// 权威结果仍会广播到房间，只是回显目标不在了。
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
		defer cancel()
		if _, err := s.seq.Submit(ctx, req); err != nil {
			s.trySend(Outbound{Type: TypeBidRejected, AuctionID: msg.AuctionID, Payload: RejectPayload{
				RequestID: requestID,
				Reason:    rejectReason(err),
				Detail:    err.Error(),
			}})
		}
		// 成功路径不在这里发消息，权威广播由提交钩子统一负责。
	}()
}

// trySend 尽力投递，队列满则丢弃并报告失败，由调用方决定是否逐出。
func (s *Session) trySend(out Outbound) bool {
	select {
	case s.send <- out:
		return true
	case <-s.closed:
		return false
	default:
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// displayPrice 按观众货币换算结算价；快照缺该货币时回退结算货币原值。
func (s *Session) displayPrice(canonical decimal.Decimal, snap money.RateSnapshot) (string, decimal.Decimal) {
	s.mu.Lock()
	cur := s.currency
	s.mu.Unlock()
	if cur == "" {
		cur = snap.Canonical
	}
	display, err := money.FromCanonical(canonical, cur, snap)
	if err != nil {
		return snap.Canonical, canonical
	}
	return cur, display
}

// rejectReason 把解析错误映射为稳定的机器可读码。
func rejectReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrBidTooLow):
		return "bid_too_low"
	case errors.Is(err, engine.ErrStaleBid):
		return "stale_bid"
	case errors.Is(err, engine.ErrAuctionNotActive):
		return "auction_not_active"
	case errors.Is(err, engine.ErrQueueTimeout):
		return "queue_timeout"
	default:
		return "internal_error"
	}
}
