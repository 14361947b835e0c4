package router

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"live_auction/internal/config"
	"live_auction/internal/engine"
	"live_auction/internal/middleware"
	"live_auction/internal/model"
	"live_auction/internal/money"
	rediskey "live_auction/pkg/redis"
)

// Setup 注册全部 HTTP 路由。websocket 入口由 main 单独挂载。
func Setup(r *gin.Engine, db *gorm.DB, rdb *rd.Client, st engine.Store, seq *engine.Sequencer, cfg config.AppConfig) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	// Auctions
	r.GET("/api/auctions", listAuctions(db))
	r.POST("/api/auctions", createAuction(db, rdb, cfg))
	r.GET("/api/auctions/:auction_id", getAuction(db, st))
	// 出价 REST 兜底入口（实时通道之外的提交走这里，进同一个定序器）
	r.POST("/api/auctions/:auction_id/bids",
		middleware.RedisRateLimit(rdb, cfg.BidRateLimit, cfg.BidRateWindow), placeBid(seq))
	// 汇率快照重新预热（运营操作，需管理员 token）
	r.POST("/api/auctions/:auction_id/rates/preload", preloadRates(db, rdb, cfg))
}

// listAuctions 查询拍卖列表。
func listAuctions(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var list []model.Auction
		if err := db.Find(&list).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

// createAuction 创建拍卖（含时间窗校验），并冻结该拍卖的汇率快照。
func createAuction(db *gorm.DB, rdb *rd.Client, cfg config.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Title         string          `json:"title" binding:"required"`
			StartingPrice decimal.Decimal `json:"starting_price"`
			BidIncrement  decimal.Decimal `json:"bid_increment"`
			StartTime     string          `json:"start_time" binding:"required"`
			EndTime       string          `json:"end_time" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		start, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "start_time 格式错误，请用 RFC3339"})
			return
		}
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 格式错误，请用 RFC3339"})
			return
		}
		if !end.After(start) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 必须晚于 start_time"})
			return
		}
		if req.StartingPrice.IsNegative() {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "starting_price 不能为负"})
			return
		}
		if !req.BidIncrement.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "bid_increment 必须大于 0"})
			return
		}

		a := &model.Auction{
			Title:         req.Title,
			StartingPrice: req.StartingPrice.Round(2),
			BidIncrement:  req.BidIncrement.Round(2),
			StartTime:     start,
			EndTime:       end,
		}
		if err := db.Create(a).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}

		// 开拍即冻结汇率，整场拍卖用同一份快照比价。
		snap, err := money.NewSnapshot(cfg.CanonicalCurrency, cfg.ExchangeRates, time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if err := rediskey.PutRateSnapshot(c.Request.Context(), rdb, a.ID, snap, cfg.RateSnapshotTTL); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "snapshot cache failed: " + err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": a})
	}
}

// getAuction 返回拍卖参数 + 生命周期阶段 + 最新权威状态投影。
// 这里的读在定序器之外，只保证最终一致。
func getAuction(db *gorm.DB, st engine.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseAuctionID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "拍卖ID无效"})
			return
		}
		var a model.Auction
		if err := db.First(&a, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "拍卖不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}

		state, err := st.Read(c.Request.Context(), id)
		if err != nil {
			if !errors.Is(err, engine.ErrStateNotFound) {
				c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
				return
			}
			state = engine.NewState(id, a.StartingPrice, a.BidIncrement)
		}

		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
			"auction":       a,
			"phase":         engine.PhaseAt(time.Now(), a.StartTime, a.EndTime).String(),
			"version":       state.Version,
			"current_price": state.CurrentPrice,
			"winner_id":     state.WinnerID,
			"bid_history":   state.History(),
		}})
	}
}

// placeBid 是代理出价的 REST 入口，与实时通道共用定序器。
func placeBid(seq *engine.Sequencer) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseAuctionID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "拍卖ID无效"})
			return
		}
		var req struct {
			BidderID  int64           `json:"bidder_id" binding:"required,min=1"`
			MaxAmount decimal.Decimal `json:"max_amount"`
			Currency  string          `json:"currency" binding:"required"`
			RequestID string          `json:"request_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		if !req.MaxAmount.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "max_amount 必须大于 0"})
			return
		}
		if req.RequestID == "" {
			// request_id 作为整条链路的追踪与幂等主键
			req.RequestID = uuid.New().String()
		}

		res, err := seq.Submit(c.Request.Context(), engine.Request{
			RequestID: req.RequestID,
			AuctionID: id,
			BidderID:  req.BidderID,
			Amount:    req.MaxAmount,
			Currency:  req.Currency,
		})
		if err != nil {
			status, msg := bidErrorStatus(err)
			c.JSON(status, gin.H{"code": status, "msg": msg, "request_id": req.RequestID})
			return
		}

		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
			"request_id":    res.RequestID,
			"version":       res.Version,
			"current_price": res.CurrentPrice,
			"winner_id":     res.WinnerID,
			"is_winning":    res.WinnerID == req.BidderID,
			"bid_history":   res.History,
		}})
	}
}

// preloadRates 重新冻结某拍卖的汇率快照。
// 该接口要求简单管理员 token，避免被任意调用改动比价口径。
func preloadRates(db *gorm.DB, rdb *rd.Client, cfg config.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != cfg.AdminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "admin token 无效"})
			return
		}
		id, err := parseAuctionID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "拍卖ID无效"})
			return
		}
		var a model.Auction
		if err := db.First(&a, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "拍卖不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		snap, err := money.NewSnapshot(cfg.CanonicalCurrency, cfg.ExchangeRates, time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if err := rediskey.PutRateSnapshot(c.Request.Context(), rdb, a.ID, snap, cfg.RateSnapshotTTL); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "预热成功"})
	}
}

func parseAuctionID(c *gin.Context) (uint, error) {
	id64, err := strconv.ParseUint(c.Param("auction_id"), 10, 32)
	if err != nil || id64 == 0 {
		return 0, errors.New("invalid auction id")
	}
	return uint(id64), nil
}

// bidErrorStatus 把解析错误映射为 HTTP 状态与用户可读信息。
func bidErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrBidTooLow):
		return http.StatusBadRequest, "出价过低：封顶价需至少达到当前价加一个步长"
	case errors.Is(err, engine.ErrStaleBid):
		return http.StatusBadRequest, "封顶价未抬高：只能在已有封顶价之上加价"
	case errors.Is(err, engine.ErrAuctionNotActive):
		return http.StatusBadRequest, "不在拍卖时间段内"
	case errors.Is(err, engine.ErrQueueTimeout):
		return http.StatusServiceUnavailable, "排队超时，请稍后重试"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
