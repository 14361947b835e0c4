package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ProxyBid 是一个出价人在一个拍卖内的代理出价（封顶价）。
// SubmittedAt 记录当前封顶价的生效时间：每次成功加价都会刷新，
// 因此后补到相同封顶价的人在平局时输给先到者。
type ProxyBid struct {
	BidderID    int64           `json:"bidder_id"`
	MaxAmount   decimal.Decimal `json:"max_amount"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// AuctionState 是单个拍卖的权威可变记录，只允许在该拍卖的定序回合内修改。
// Version 随每次成功提交严格递增，客户端据此丢弃乱序/重复广播。
type AuctionState struct {
	AuctionID     uint                `json:"auction_id"`
	StartingPrice decimal.Decimal     `json:"starting_price"`
	BidIncrement  decimal.Decimal     `json:"bid_increment"`
	CurrentPrice  decimal.Decimal     `json:"current_price"`
	WinnerID      int64               `json:"winner_id"` // 0 表示无人出价
	ProxyBids     map[int64]*ProxyBid `json:"proxy_bids"`
	Version       uint64              `json:"version"`
}

// NewState 构建无人出价的初始状态，当前价即起拍价。
func NewState(auctionID uint, startingPrice, bidIncrement decimal.Decimal) AuctionState {
	return AuctionState{
		AuctionID:     auctionID,
		StartingPrice: startingPrice,
		BidIncrement:  bidIncrement,
		CurrentPrice:  startingPrice,
		ProxyBids:     make(map[int64]*ProxyBid),
	}
}

// Clone 深拷贝状态，解析器在副本上计算，失败时原状态不受任何污染。
func (s AuctionState) Clone() AuctionState {
	out := s
	out.ProxyBids = make(map[int64]*ProxyBid, len(s.ProxyBids))
	for id, pb := range s.ProxyBids {
		cp := *pb
		out.ProxyBids[id] = &cp
	}
	return out
}

// HistoryEntry 是广播给客户端的竞价历史投影，非权威数据，
// 每次广播都从 AuctionState 整体重建。
type HistoryEntry struct {
	BidderID      int64           `json:"bidder_id"`
	MaxAmount     decimal.Decimal `json:"max_amount"`
	CurrentAmount decimal.Decimal `json:"current_amount"`
	IsWinning     bool            `json:"is_winning"`
}

// History 重建投影：胜者的展示金额是公开当前价，其余人是各自封顶价。
// 按展示金额降序排列，平局时胜者优先、其次先出价者优先。
func (s AuctionState) History() []HistoryEntry {
	entries := make([]HistoryEntry, 0, len(s.ProxyBids))
	for _, pb := range s.ProxyBids {
		e := HistoryEntry{
			BidderID:      pb.BidderID,
			MaxAmount:     pb.MaxAmount,
			CurrentAmount: pb.MaxAmount,
			IsWinning:     pb.BidderID == s.WinnerID,
		}
		if e.IsWinning {
			e.CurrentAmount = s.CurrentPrice
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CurrentAmount.Equal(entries[j].CurrentAmount) {
			return entries[i].CurrentAmount.GreaterThan(entries[j].CurrentAmount)
		}
		if entries[i].IsWinning != entries[j].IsWinning {
			return entries[i].IsWinning
		}
		return s.ProxyBids[entries[i].BidderID].SubmittedAt.Before(s.ProxyBids[entries[j].BidderID].SubmittedAt)
	})
	return entries
}
