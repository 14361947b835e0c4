package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Auction 拍卖商品：起拍价、加价步长、拍卖时间段。
// 这些参数创建后不可变，引擎只读。
type Auction struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Title         string          `gorm:"size:128;not null" json:"title"`
	StartingPrice decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"starting_price"` // 结算货币
	BidIncrement  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"bid_increment"`  // 结算货币
	StartTime     time.Time       `gorm:"not null" json:"start_time"`
	EndTime       time.Time       `gorm:"not null" json:"end_time"`
}

func (Auction) TableName() string { return "auctions" }
