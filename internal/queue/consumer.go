package queue

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"live_auction/internal/model"
)

// Consumer 消费 Kafka 竞价事件，落审计行并回放封顶价副本。
type Consumer struct {
	r  *kafka.Reader
	db *gorm.DB
}

func NewConsumer(brokers []string, topic, groupID string, db *gorm.DB) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		db: db,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			return // ctx cancel / 连接断开等
		}

		var ev BidEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			log.Printf("consumer unmarshal: %v", err)
			continue
		}
		if err := ev.Validate(); err != nil {
			log.Printf("consumer skip invalid event: %v", err)
			continue
		}

		record := &model.BidRecord{
			EventID:      ev.EventID,
			RequestID:    ev.RequestID,
			AuctionID:    ev.AuctionID,
			BidderID:     ev.BidderID,
			Version:      ev.Version,
			MaxAmount:    ev.MaxAmount,
			CurrentPrice: ev.CurrentPrice,
			WinnerID:     ev.WinnerID,
			ResolvedAt:   ev.ResolvedAt,
		}

		if err := c.db.Create(record).Error; err != nil {
			// 幂等：重复消息导致 UNIQUE 冲突，直接当作已处理
			if errorsLikeUnique(err) {
				continue
			}
			log.Printf("consumer db create: %v", err)
			continue
		}

		// 封顶价副本：同一 (auction, bidder) 只保留最新封顶价。
		// 封顶价只升不降，事件乱序到达时旧值不会覆盖新值。
		err = c.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "auction_id"}, {Name: "bidder_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"max_amount":   ev.MaxAmount,
				"submitted_at": ev.ResolvedAt,
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Lt{Column: clause.Column{Name: "max_amount"}, Value: ev.MaxAmount},
			}},
		}).Create(&model.ProxyBid{
			AuctionID:   ev.AuctionID,
			BidderID:    ev.BidderID,
			MaxAmount:   ev.MaxAmount,
			SubmittedAt: ev.ResolvedAt,
		}).Error
		if err != nil {
			log.Printf("consumer upsert proxy bid: %v", err)
		}
	}
}

func errorsLikeUnique(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique")
}
