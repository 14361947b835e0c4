package realtime

import (
	"time"

	"github.com/shopspring/decimal"

	"live_auction/internal/engine"
)

// 实时通道的消息类型。入站三种，出站见下方常量。
const (
	TypeJoinRoom  = "join_room"
	TypeLeaveRoom = "leave_room"
	TypePlaceBid  = "place_bid"

	// TypeBidPlaced 乐观回显：收到提交后立刻只发给提交者，可能被权威结果推翻。
	TypeBidPlaced = "bid-placed"
	// TypeBidFinal 权威广播：每次成功提交恰好一条，发给房间全员。
	TypeBidFinal = "bid:final"
	// TypeBidRejected 拒绝只回给提交者，房间其他人无感知。
	TypeBidRejected  = "bid:rejected"
	TypeRoomSnapshot = "room_snapshot"
	TypeAuctionEnded = "auction:ended"
	TypeError        = "error"
)

// Inbound 是客户端经 websocket 发来的消息。
type Inbound struct {
	Type      string          `json:"type"`
	AuctionID uint            `json:"auction_id"`
	BidderID  int64           `json:"bidder_id,omitempty"`
	Currency  string          `json:"currency,omitempty"`
	MaxAmount decimal.Decimal `json:"max_amount,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// Outbound 是广播给订阅者的消息封皮。
type Outbound struct {
	Type      string `json:"type"`
	AuctionID uint   `json:"auction_id"`
	Payload   any    `json:"payload,omitempty"`
}

// EchoPayload 乐观回显载荷，金额保持提交者的显示货币。
type EchoPayload struct {
	RequestID string          `json:"request_id"`
	AuctionID uint            `json:"auction_id"`
	BidderID  int64           `json:"bidder_id"`
	MaxAmount decimal.Decimal `json:"max_amount"`
	Currency  string          `json:"currency"`
	At        time.Time       `json:"at"`
}

// FinalPayload 权威载荷：结算价 + 按观众显示货币换算后的价格 + 全量投影。
// 入场快照（room_snapshot）复用同一结构。
type FinalPayload struct {
	AuctionID             uint                  `json:"auction_id"`
	Version               uint64                `json:"version"`
	CurrentPriceCanonical decimal.Decimal       `json:"current_price_canonical"`
	CurrentPriceDisplay   decimal.Decimal       `json:"current_price_display"`
	DisplayCurrency       string                `json:"display_currency"`
	WinnerID              int64                 `json:"winner_id"`
	BidHistory            []engine.HistoryEntry `json:"bid_history"`
}

// RejectPayload 拒绝原因，reason 为稳定的机器可读码。
type RejectPayload struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
	Detail    string `json:"detail,omitempty"`
}

// EndedPayload 拍卖结束广播：此刻站上的胜者即最终胜者。
type EndedPayload struct {
	AuctionID  uint            `json:"auction_id"`
	Version    uint64          `json:"version"`
	FinalPrice decimal.Decimal `json:"final_price_canonical"`
	WinnerID   int64           `json:"winner_id"`
	EndedAt    time.Time       `json:"ended_at"`
}
