package queue

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"

	"live_auction/internal/engine"
)

// Outbox 把已提交的竞价结果原子写入 Redis Stream，Relay 再异步转 Kafka。
// 注册为定序器的提交钩子，在定序回合内同步执行。
type Outbox struct {
	rdb    *rd.Client
	stream string
	logger *log.Logger
}

func NewOutbox(rdb *rd.Client, stream string, logger *log.Logger) *Outbox {
	if logger == nil {
		logger = log.Default()
	}
	return &Outbox{rdb: rdb, stream: stream, logger: logger}
}

// Append 入流失败只记日志不回滚：状态已经提交，审计链路自身可补偿，
// 不能让通知侧故障拖垮竞价路径。
func (o *Outbox) Append(res engine.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := o.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: o.stream,
		Values: map[string]interface{}{
			"event_id":      uuid.New().String(),
			"request_id":    res.RequestID,
			"auction_id":    uint64(res.AuctionID),
			"bidder_id":     res.BidderID,
			"version":       res.Version,
			"max_amount":    res.MaxAmount.String(),
			"current_price": res.CurrentPrice.String(),
			"winner_id":     res.WinnerID,
			"resolved_at":   res.ResolvedAt.Unix(),
		},
	}).Err()
	if err != nil {
		o.logger.Printf("outbox append auction %d version %d: %v", res.AuctionID, res.Version, err)
	}
}
