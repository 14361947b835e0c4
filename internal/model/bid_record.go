package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BidRecord 是每次成功提交的审计行，按事件 ID 幂等写入。
type BidRecord struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	EventID   string `gorm:"size:64;uniqueIndex;not null" json:"event_id"`
	RequestID string `gorm:"size:64;index;not null" json:"request_id"`
	AuctionID uint   `gorm:"not null;index" json:"auction_id"`
	BidderID  int64  `gorm:"not null;index" json:"bidder_id"`
	// Version 即该次提交后的权威状态版本，单拍卖内严格递增。
	Version      uint64          `gorm:"not null" json:"version"`
	MaxAmount    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"max_amount"`
	CurrentPrice decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"current_price"`
	WinnerID     int64           `gorm:"not null" json:"winner_id"`
	ResolvedAt   time.Time       `gorm:"not null" json:"resolved_at"`
}

func (BidRecord) TableName() string { return "bid_records" }
