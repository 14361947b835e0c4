package queue

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BidEvent 是一次成功竞价解析的事件，经 Redis Stream outbox 中转后
// 写入 Kafka，供落库消费者与下游（结算、通知）使用。
type BidEvent struct {
	EventID      string          `json:"event_id"`
	RequestID    string          `json:"request_id"`
	AuctionID    uint            `json:"auction_id"`
	BidderID     int64           `json:"bidder_id"`
	Version      uint64          `json:"version"`
	MaxAmount    decimal.Decimal `json:"max_amount"`     // 结算货币
	CurrentPrice decimal.Decimal `json:"current_price"`  // 结算货币
	WinnerID     int64           `json:"winner_id"`
	ResolvedAt   time.Time       `json:"resolved_at"`
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (e BidEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}
	if e.AuctionID == 0 {
		return fmt.Errorf("auction_id is required")
	}
	if e.BidderID == 0 {
		return fmt.Errorf("bidder_id is required")
	}
	if e.Version == 0 {
		return fmt.Errorf("version must be > 0")
	}
	if !e.MaxAmount.IsPositive() {
		return fmt.Errorf("max_amount must be > 0")
	}
	if !e.CurrentPrice.IsPositive() {
		return fmt.Errorf("current_price must be > 0")
	}
	return nil
}
