package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProxyBid 是出价人封顶价的持久化副本，由消费者从竞价事件回放而来。
// 权威实时状态在状态存储里，这张表服务于查询与审计。
type ProxyBid struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	AuctionID uint            `gorm:"not null;uniqueIndex:idx_auction_bidder" json:"auction_id"`
	BidderID  int64           `gorm:"not null;uniqueIndex:idx_auction_bidder" json:"bidder_id"`
	MaxAmount decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"max_amount"` // 结算货币，只升不降
	// SubmittedAt 是当前封顶价的生效时间。
	SubmittedAt time.Time `gorm:"not null" json:"submitted_at"`
}

func (ProxyBid) TableName() string { return "proxy_bids" }
