package realtime

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ViewEntry 是客户端本地竞价历史的一行。Provisional 标记乐观回显
// 产生的临时行，权威广播到达后整体被替换。
type ViewEntry struct {
	BidderID      int64
	MaxAmount     decimal.Decimal
	CurrentAmount decimal.Decimal
	IsWinning     bool
	Provisional   bool
}

// View 是客户端和解视图：本地乐观回显与服务端权威广播的合并规则
// 集中在这里，派生标志（isWinning）永远从权威胜者重新计算。
type View struct {
	bidderID int64
	version  uint64
	entries  []ViewEntry
}

func NewView(bidderID int64) *View {
	return &View{bidderID: bidderID}
}

// ApplySnapshot 入场快照按权威广播处理（版本门禁同样生效）。
func (v *View) ApplySnapshot(p FinalPayload) bool {
	return v.ApplyFinal(p)
}

// ApplyEcho 处理自己的乐观回显：旧临时行丢弃，追加一条临时胜出行并重排。
// 注意金额还是显示货币，视觉占位而已，权威结果到达后会被整体替换。
func (v *View) ApplyEcho(p EchoPayload) {
	if p.BidderID != v.bidderID {
		return
	}
	kept := v.entries[:0]
	for _, e := range v.entries {
		if !(e.Provisional && e.BidderID == v.bidderID) {
			kept = append(kept, e)
		}
	}
	v.entries = append(kept, ViewEntry{
		BidderID:      p.BidderID,
		MaxAmount:     p.MaxAmount,
		CurrentAmount: p.MaxAmount,
		IsWinning:     true,
		Provisional:   true,
	})
	v.resort()
}

// ApplyFinal 处理权威广播：版本不高于已应用版本的直接忽略（乱序保护），
// 否则整个投影以广播为准重建，isWinning 严格由权威胜者推导。
func (v *View) ApplyFinal(p FinalPayload) bool {
	if p.Version <= v.version && v.version != 0 {
		return false
	}
	if p.Version == 0 && v.version != 0 {
		return false
	}
	entries := make([]ViewEntry, 0, len(p.BidHistory))
	for _, h := range p.BidHistory {
		entries = append(entries, ViewEntry{
			BidderID:      h.BidderID,
			MaxAmount:     h.MaxAmount,
			CurrentAmount: h.CurrentAmount,
			IsWinning:     h.BidderID == p.WinnerID,
		})
	}
	v.entries = entries
	v.version = p.Version
	v.resort()
	return true
}

// Version 返回最后应用的权威版本号。
func (v *View) Version() uint64 { return v.version }

// Entries 返回当前投影的副本。
func (v *View) Entries() []ViewEntry {
	out := make([]ViewEntry, len(v.entries))
	copy(out, v.entries)
	return out
}

// Winning 返回本人是否在当前投影中胜出。
func (v *View) Winning() bool {
	for _, e := range v.entries {
		if e.BidderID == v.bidderID && e.IsWinning {
			return true
		}
	}
	return false
}

func (v *View) resort() {
	sort.SliceStable(v.entries, func(i, j int) bool {
		if !v.entries[i].CurrentAmount.Equal(v.entries[j].CurrentAmount) {
			return v.entries[i].CurrentAmount.GreaterThan(v.entries[j].CurrentAmount)
		}
		return v.entries[i].IsWinning && !v.entries[j].IsWinning
	})
}
