package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func baseState() AuctionState {
	// 起拍价 100，步长 10
	return NewState(1, dec("100"), dec("10"))
}

func at(sec int) time.Time {
	return time.Date(2026, 3, 1, 12, 0, sec, 0, time.UTC)
}

func mustResolve(t *testing.T, state AuctionState, bid Submission) Resolution {
	t.Helper()
	res, err := Resolve(state, bid)
	assert.Nil(t, err)
	return res
}

func TestFirstBidSoleBidderPaysStartingPrice(t *testing.T) {
	res := mustResolve(t, baseState(), Submission{BidderID: 1, MaxAmount: dec("150"), At: at(1)})

	check.True(t, res.CurrentPrice.Equal(dec("100")))
	check.Equal(t, int64(1), res.WinnerID)
	check.Equal(t, 0, len(res.OutbidBidderIDs))
}

func TestSecondBidderPushesPriceToSecondPlusIncrement(t *testing.T) {
	state := mustResolve(t, baseState(), Submission{BidderID: 1, MaxAmount: dec("150"), At: at(1)}).State

	// B 130：价格 = min(A.max=150, 130+10) = 140，胜者仍是 A
	res := mustResolve(t, state, Submission{BidderID: 2, MaxAmount: dec("130"), At: at(2)})
	check.True(t, res.CurrentPrice.Equal(dec("140")))
	check.Equal(t, int64(1), res.WinnerID)
	check.Equal(t, []int64{2}, res.OutbidBidderIDs)
}

func TestOvertakingBidClampsToOwnCeiling(t *testing.T) {
	state := mustResolve(t, baseState(), Submission{BidderID: 1, MaxAmount: dec("150"), At: at(1)}).State
	state = mustResolve(t, state, Submission{BidderID: 2, MaxAmount: dec("130"), At: at(2)}).State

	// B 抬到 160：价格 = min(160, 150+10) = 160，胜者换成 B
	res := mustResolve(t, state, Submission{BidderID: 2, MaxAmount: dec("160"), At: at(3)})
	check.True(t, res.CurrentPrice.Equal(dec("160")))
	check.Equal(t, int64(2), res.WinnerID)
	check.Equal(t, []int64{1}, res.OutbidBidderIDs)
}

func TestStaleBidRejectedWithoutMutation(t *testing.T) {
	state := mustResolve(t, baseState(), Submission{BidderID: 1, MaxAmount: dec("150"), At: at(1)}).State
	state = mustResolve(t, state, Submission{BidderID: 2, MaxAmount: dec("160"), At: at(2)}).State

	before := len(state.ProxyBids)
	_, err := Resolve(state, Submission{BidderID: 1, MaxAmount: dec("150"), At: at(3)})
	check.True(t, errors.Is(err, ErrStaleBid))
	// 输入状态零副作用
	check.Equal(t, before, len(state.ProxyBids))
	check.True(t, state.ProxyBids[1].MaxAmount.Equal(dec("150")))
	check.True(t, state.CurrentPrice.Equal(dec("160")))
	check.Equal(t, int64(2), state.WinnerID)

	// 重复提交同样结果，拒绝幂等
	_, err = Resolve(state, Submission{BidderID: 1, MaxAmount: dec("150"), At: at(4)})
	check.True(t, errors.Is(err, ErrStaleBid))
}

func TestBidBelowPricePlusIncrementRejected(t *testing.T) {
	state := mustResolve(t, baseState(), Submission{BidderID: 1, MaxAmount: dec("150"), At: at(1)}).State

	_, err := Resolve(state, Submission{BidderID: 3, MaxAmount: dec("105"), At: at(2)})
	check.True(t, errors.Is(err, ErrBidTooLow))
}

func TestFirstBidMustMeetStartPlusIncrement(t *testing.T) {
	_, err := Resolve(baseState(), Submission{BidderID: 1, MaxAmount: dec("100"), At: at(1)})
	check.True(t, errors.Is(err, ErrBidTooLow))

	res := mustResolve(t, baseState(), Submission{BidderID: 1, MaxAmount: dec("110"), At: at(1)})
	check.True(t, res.CurrentPrice.Equal(dec("100")))
}

func TestWinnerMayRaiseOwnCeilingFreely(t *testing.T) {
	state := mustResolve(t, baseState(), Submission{BidderID: 1, MaxAmount: dec("150"), At: at(1)}).State
	state = mustResolve(t, state, Submission{BidderID: 2, MaxAmount: dec("130"), At: at(2)}).State

	// 胜者加自己的封顶价：价格不变（第三方次高未变）
	res := mustResolve(t, state, Submission{BidderID: 1, MaxAmount: dec("200"), At: at(3)})
	check.Equal(t, int64(1), res.WinnerID)
	check.True(t, res.CurrentPrice.Equal(dec("140")))
}

func TestTieGoesToEarlierCeiling(t *testing.T) {
	state := mustResolve(t, baseState(), Submission{BidderID: 1, MaxAmount: dec("150"), At: at(1)}).State

	// B 补到同样的 150：先到者 A 保持胜出，价格顶到 150
	res := mustResolve(t, state, Submission{BidderID: 2, MaxAmount: dec("150"), At: at(2)})
	check.Equal(t, int64(1), res.WinnerID)
	check.True(t, res.CurrentPrice.Equal(dec("150")))
}

func TestRaiseToTieLosesToIncumbent(t *testing.T) {
	state := mustResolve(t, baseState(), Submission{BidderID: 2, MaxAmount: dec("120"), At: at(1)}).State
	state = mustResolve(t, state, Submission{BidderID: 1, MaxAmount: dec("150"), At: at(2)}).State

	// B 虽然首次出价更早，但封顶价抬到 150 的时间晚于 A，平局输给 A
	res := mustResolve(t, state, Submission{BidderID: 2, MaxAmount: dec("150"), At: at(3)})
	check.Equal(t, int64(1), res.WinnerID)
	check.True(t, res.CurrentPrice.Equal(dec("150")))
}

func TestPriceMonotonicAcrossAcceptedBids(t *testing.T) {
	state := baseState()
	bids := []Submission{
		{BidderID: 1, MaxAmount: dec("120"), At: at(1)},
		{BidderID: 2, MaxAmount: dec("135"), At: at(2)},
		{BidderID: 3, MaxAmount: dec("170"), At: at(3)},
		{BidderID: 1, MaxAmount: dec("200"), At: at(4)},
		{BidderID: 2, MaxAmount: dec("260"), At: at(5)},
	}
	last := state.CurrentPrice
	for _, bid := range bids {
		res, err := Resolve(state, bid)
		assert.Nil(t, err)
		check.True(t, res.CurrentPrice.GreaterThanOrEqual(last))
		// 封顶价只升不降
		check.True(t, res.State.ProxyBids[bid.BidderID].MaxAmount.Equal(bid.MaxAmount))
		last = res.CurrentPrice
		state = res.State
	}
	check.Equal(t, int64(2), state.WinnerID)
	// min(260, 200+10)
	check.True(t, state.CurrentPrice.Equal(dec("210")))
}

func TestHistoryProjection(t *testing.T) {
	state := mustResolve(t, baseState(), Submission{BidderID: 1, MaxAmount: dec("150"), At: at(1)}).State
	state = mustResolve(t, state, Submission{BidderID: 2, MaxAmount: dec("130"), At: at(2)}).State

	history := state.History()
	assert.Equal(t, 2, len(history))
	// 胜者在前，展示公开价而非封顶价
	check.Equal(t, int64(1), history[0].BidderID)
	check.True(t, history[0].IsWinning)
	check.True(t, history[0].CurrentAmount.Equal(dec("140")))
	check.True(t, history[0].MaxAmount.Equal(dec("150")))
	check.Equal(t, int64(2), history[1].BidderID)
	check.True(t, !history[1].IsWinning)
	check.True(t, history[1].CurrentAmount.Equal(dec("130")))
}

func TestNonPositiveBidRejected(t *testing.T) {
	_, err := Resolve(baseState(), Submission{BidderID: 1, MaxAmount: dec("0"), At: at(1)})
	check.True(t, errors.Is(err, ErrBidTooLow))
}
