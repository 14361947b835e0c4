package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Submission 是已归一化到结算货币的一次代理出价提交。
type Submission struct {
	BidderID  int64
	MaxAmount decimal.Decimal
	At        time.Time
}

// Resolution 是一次成功解析的结果。State 是待提交的新状态（版本号由
// 存储层在 CAS 提交时递增），OutbidBidderIDs 仅用于通知，不参与状态。
type Resolution struct {
	State           AuctionState
	CurrentPrice    decimal.Decimal
	WinnerID        int64
	OutbidBidderIDs []int64
}

// Resolve 按英式拍卖代理出价规则（二价规则）解析一次提交。
// 纯函数：不做任何 I/O，给定 (state, bid) 结果确定，可离线重放验证。
//
// 规则：
//  1. 封顶价只升不降，未抬高自身封顶价的提交按 ErrStaleBid 拒绝；
//  2. 非当前胜者的封顶价必须 >= 当前价 + 步长，否则 ErrBidTooLow
//     （胜者追加自己的封顶价不会拉低公开价，永远放行）；
//  3. 胜者 = 全体封顶价最高者，平局先到先得；
//  4. 公开价 = 起拍价（仅一人出价时）或 min(胜者封顶价, 次高封顶价+步长)。
func Resolve(state AuctionState, bid Submission) (Resolution, error) {
	if !bid.MaxAmount.IsPositive() {
		return Resolution{}, fmt.Errorf("%w: max amount %s", ErrBidTooLow, bid.MaxAmount)
	}

	if existing, ok := state.ProxyBids[bid.BidderID]; ok {
		if bid.MaxAmount.LessThanOrEqual(existing.MaxAmount) {
			return Resolution{}, fmt.Errorf("%w: ceiling %s not above %s",
				ErrStaleBid, bid.MaxAmount, existing.MaxAmount)
		}
	}

	isWinner := state.WinnerID != 0 && state.WinnerID == bid.BidderID
	if !isWinner {
		floor := state.CurrentPrice.Add(state.BidIncrement)
		if bid.MaxAmount.LessThan(floor) {
			return Resolution{}, fmt.Errorf("%w: need at least %s, got %s",
				ErrBidTooLow, floor, bid.MaxAmount)
		}
	}

	next := state.Clone()
	next.ProxyBids[bid.BidderID] = &ProxyBid{
		BidderID:    bid.BidderID,
		MaxAmount:   bid.MaxAmount,
		SubmittedAt: bid.At,
	}

	winner := argMax(next.ProxyBids)
	next.WinnerID = winner.BidderID

	if len(next.ProxyBids) == 1 {
		next.CurrentPrice = next.StartingPrice
	} else {
		second := secondHighest(next.ProxyBids, winner.BidderID)
		price := decimal.Min(winner.MaxAmount, second.Add(next.BidIncrement))
		if price.LessThan(next.StartingPrice) {
			price = next.StartingPrice
		}
		next.CurrentPrice = price
	}

	outbid := make([]int64, 0, len(next.ProxyBids)-1)
	for id := range next.ProxyBids {
		if id != winner.BidderID {
			outbid = append(outbid, id)
		}
	}

	return Resolution{
		State:           next,
		CurrentPrice:    next.CurrentPrice,
		WinnerID:        next.WinnerID,
		OutbidBidderIDs: outbid,
	}, nil
}

// argMax 返回封顶价最高的代理出价；平局时封顶价生效更早者胜，
// 再平局按出价人 ID 取小保证确定性。调用方保证 map 非空。
func argMax(bids map[int64]*ProxyBid) *ProxyBid {
	var best *ProxyBid
	for _, pb := range bids {
		if best == nil {
			best = pb
			continue
		}
		if pb.MaxAmount.GreaterThan(best.MaxAmount) {
			best = pb
			continue
		}
		if pb.MaxAmount.Equal(best.MaxAmount) {
			if pb.SubmittedAt.Before(best.SubmittedAt) ||
				(pb.SubmittedAt.Equal(best.SubmittedAt) && pb.BidderID < best.BidderID) {
				best = pb
			}
		}
	}
	return best
}

// secondHighest 返回胜者之外的最高封顶价。
func secondHighest(bids map[int64]*ProxyBid, winnerID int64) decimal.Decimal {
	second := decimal.Zero
	for id, pb := range bids {
		if id == winnerID {
			continue
		}
		if pb.MaxAmount.GreaterThan(second) {
			second = pb.MaxAmount
		}
	}
	return second
}
