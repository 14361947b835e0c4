package redis

import "fmt"

// StateKey 统一约定拍卖权威状态键名（hash：version + payload）。
func StateKey(auctionID uint) string {
	return fmt.Sprintf("live_auction:state:%d", auctionID)
}

// RateSnapshotKey 存储拍卖开拍时冻结的汇率快照。
func RateSnapshotKey(auctionID uint) string {
	return fmt.Sprintf("live_auction:rates:%d", auctionID)
}

// BidRateLimitKey 出价接口按出价人限流的键名。
func BidRateLimitKey(bidderID int64) string {
	return fmt.Sprintf("rate_limit:live_auction:bidder:%d", bidderID)
}

// BidRateLimitIPKey 解析不到出价人时按来源 IP 降级限流。
func BidRateLimitIPKey(ip string) string {
	return fmt.Sprintf("rate_limit:live_auction:ip:%s", ip)
}
