package engine

import "errors"

// 竞价解析阶段的可恢复错误。只回传给提交者本人，拍卖状态零副作用。
var (
	// ErrBidTooLow 新封顶价不足以超过当前价至少一个加价步长。
	ErrBidTooLow = errors.New("bid below current price plus increment")
	// ErrStaleBid 新封顶价未高于该出价人已有封顶价（封顶价只升不降）。
	ErrStaleBid = errors.New("bid does not raise existing ceiling")
	// ErrAuctionNotActive 拍卖不在进行中（未开始或已结束）。
	ErrAuctionNotActive = errors.New("auction is not active")
	// ErrQueueTimeout 提交在定序队列中等待超过上限。
	ErrQueueTimeout = errors.New("bid timed out waiting in sequencer queue")
	// ErrVersionConflict 状态提交时版本 CAS 失败。定序器已保证同一拍卖串行，
	// 正常情况下不应出现；出现即重读重试一次，仍失败则按通用失败上报。
	ErrVersionConflict = errors.New("auction state version conflict")
	// ErrStateNotFound 存储中尚无该拍卖的状态记录。
	ErrStateNotFound = errors.New("auction state not found")
)
