// wsbidder 是竞价压测/验证客户端：创建一场短拍卖，N 个出价人并发
// 通过 websocket 抬封顶价，一个观察者连接套用客户端和解视图，
// 最后核对版本严格递增与最终胜者。
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"live_auction/internal/realtime"
)

type createdAuction struct {
	ID uint `json:"id"`
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	nBidders := flag.Int("bidders", 20, "distinct bidders")
	rounds := flag.Int("rounds", 3, "raises per bidder")
	duration := flag.Int("duration", 30, "auction duration seconds")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	// 1) 创建一场立刻开拍的短拍卖
	now := time.Now()
	var created createdAuction
	mustPostJSON(client, *baseURL+"/api/auctions", map[string]any{
		"title":          "wsbidder smoke auction",
		"starting_price": "100.00",
		"bid_increment":  "10.00",
		"start_time":     now.Add(-time.Second).Format(time.RFC3339),
		"end_time":       now.Add(time.Duration(*duration) * time.Second).Format(time.RFC3339),
	}, &created)
	fmt.Printf("created auction %d\n", created.ID)

	wsURL := toWS(*baseURL) + "/ws"

	// 2) 观察者连接：套用和解视图，统计收到的权威版本
	view := realtime.NewView(0)
	versions := make([]uint64, 0, *nBidders**rounds)
	observerDone := make(chan struct{})
	obs := dialAndJoin(wsURL, created.ID, 999999, "USD")
	go func() {
		defer close(observerDone)
		for {
			var out struct {
				Type    string                `json:"type"`
				Payload realtime.FinalPayload `json:"payload"`
			}
			_ = obs.SetReadDeadline(time.Now().Add(10 * time.Second))
			_, data, err := obs.ReadMessage()
			if err != nil {
				return
			}
			if err := json.Unmarshal(data, &out); err != nil {
				continue
			}
			switch out.Type {
			case realtime.TypeRoomSnapshot:
				view.ApplySnapshot(out.Payload)
			case realtime.TypeBidFinal:
				if view.ApplyFinal(out.Payload) {
					versions = append(versions, out.Payload.Version)
				}
			case realtime.TypeAuctionEnded:
				return
			}
		}
	}()

	// 3) N 个出价人并发抬封顶价
	var wg sync.WaitGroup
	for i := 0; i < *nBidders; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			bidderID := int64(idx + 1)
			conn := dialAndJoin(wsURL, created.ID, bidderID, "USD")
			defer conn.Close()
			for round := 0; round < *rounds; round++ {
				max := decimal.NewFromInt(int64(120 + idx*5 + round*40))
				_ = conn.WriteJSON(realtime.Inbound{
					Type:      realtime.TypePlaceBid,
					AuctionID: created.ID,
					BidderID:  bidderID,
					Currency:  "USD",
					MaxAmount: max,
				})
				time.Sleep(20 * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	// 留出广播尾巴再断开观察者
	time.Sleep(2 * time.Second)
	_ = obs.Close()
	<-observerDone

	// 4) 核对：版本必须严格递增
	strict := true
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			strict = false
			break
		}
	}
	fmt.Printf("authoritative broadcasts applied: %d, versions strictly increasing: %v\n", len(versions), strict)
	fmt.Printf("final view (version %d):\n", view.Version())
	for _, e := range view.Entries() {
		fmt.Printf("  bidder=%d max=%s current=%s winning=%v\n",
			e.BidderID, e.MaxAmount, e.CurrentAmount, e.IsWinning)
	}
}

func dialAndJoin(wsURL string, auctionID uint, bidderID int64, currency string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		panic(fmt.Sprintf("ws dial: %v", err))
	}
	err = conn.WriteJSON(realtime.Inbound{
		Type:      realtime.TypeJoinRoom,
		AuctionID: auctionID,
		BidderID:  bidderID,
		Currency:  currency,
	})
	if err != nil {
		panic(fmt.Sprintf("ws join: %v", err))
	}
	return conn
}

func mustPostJSON(client *http.Client, url string, body any, into any) {
	b, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		panic(fmt.Sprintf("POST %s: %v", url, err))
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		panic(fmt.Sprintf("POST %s: status %d body %s", url, resp.StatusCode, data))
	}
	var envelope struct {
		Code int             `json:"code"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		panic(err)
	}
	if into != nil {
		if err := json.Unmarshal(envelope.Data, into); err != nil {
			panic(err)
		}
	}
}

func toWS(base string) string {
	if strings.HasPrefix(base, "https://") {
		return "wss://" + strings.TrimPrefix(base, "https://")
	}
	return "ws://" + strings.TrimPrefix(base, "http://")
}
