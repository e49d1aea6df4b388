// Package binance 深度消息解析测试
package binance

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"orderbook-feed/internal/core/model"
	"orderbook-feed/internal/util/fastparse"
)

// toPairs 将价格、数量切片组合为字符串对档位
func toPairs(prices, sizes []float64) [][]string {
	n := len(prices)
	if len(sizes) < n {
		n = len(sizes)
	}
	pairs := make([][]string, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, []string{fastparse.FormatFloat(prices[i], 4), fastparse.FormatFloat(sizes[i], 4)})
	}
	return pairs
}

// TestDecode_ShapesRoundTrip 完整字段名与简写形态给出相同的规范化快照
func TestDecode_ShapesRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("两种形态解析结果一致", prop.ForAll(
		func(prices, sizes []float64, updateID int64) bool {
			bids := toPairs(prices, sizes)
			asks := toPairs(sizes, prices)

			full, err := json.Marshal(DepthSnapshot{LastUpdateID: updateID, Bids: bids, Asks: asks})
			if err != nil {
				return false
			}
			short, err := json.Marshal(DepthUpdate{EventType: "depthUpdate", Symbol: "BTCUSDT", FinalUpdateID: updateID, Bids: bids, Asks: asks})
			if err != nil {
				return false
			}

			a, err := Decode("BTCUSDT", full)
			if err != nil {
				return false
			}
			b, err := Decode("BTCUSDT", short)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(a, b) && a.UpdateID == updateID && len(a.Bids) == len(bids)
		},
		gen.SliceOf(gen.Float64Range(0, 100000)),
		gen.SliceOf(gen.Float64Range(0, 1000)),
		gen.Int64Range(0, 1<<40),
	))

	properties.Property("解析出的价格与数量均非负", prop.ForAll(
		func(prices, sizes []float64) bool {
			data, _ := json.Marshal(DepthSnapshot{Bids: toPairs(prices, sizes), Asks: toPairs(prices, sizes)})
			snap, err := Decode("ETHUSDT", data)
			if err != nil {
				return false
			}
			for _, side := range [][]model.OrderBookEntry{snap.Bids, snap.Asks} {
				for _, e := range side {
					if e.Price < 0 || e.Size < 0 {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(0, 100000)),
		gen.SliceOf(gen.Float64Range(0, 1000)),
	))

	properties.TestingRun(t)
}

// TestDecode_RejectWholeMessage 任意一档非数字则整条消息被拒绝
func TestDecode_RejectWholeMessage(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("坏档位位置任意，均拒绝整条消息", prop.ForAll(
		func(n int, badIdx int, bad string, onBids bool) bool {
			good := make([][]string, n)
			for i := range good {
				good[i] = []string{"100.5", "1.25"}
			}
			broken := make([][]string, n)
			copy(broken, good)
			idx := badIdx % n
			broken[idx] = []string{bad, "1"}

			msg := DepthSnapshot{Bids: good, Asks: broken}
			if onBids {
				msg = DepthSnapshot{Bids: broken, Asks: good}
			}
			data, _ := json.Marshal(msg)

			snap, err := Decode("BTCUSDT", data)
			var parseErr *model.ParseError
			return snap == nil && errors.As(err, &parseErr)
		},
		gen.IntRange(1, 20),
		gen.IntRange(0, 100),
		gen.OneConstOf("abc", "", "NaN", "Inf", "-1", "1e400", "12,5"),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestDecode_Shapes(t *testing.T) {
	tests := []struct {
		name       string
		symbol     string
		data       string
		wantSymbol string
		wantUpdate int64
		wantBids   []model.OrderBookEntry
		wantAsks   []model.OrderBookEntry
		wantVenue  string
		wantExchTs int64
	}{
		{
			name:       "完整字段名",
			symbol:     "btcusdt",
			data:       `{"lastUpdateId":160,"bids":[["100.00","2.0"]],"asks":[["101.00","0.5"]]}`,
			wantSymbol: "BTCUSDT",
			wantUpdate: 160,
			wantBids:   []model.OrderBookEntry{{Price: 100, Size: 2}},
			wantAsks:   []model.OrderBookEntry{{Price: 101, Size: 0.5}},
		},
		{
			name:       "简写形态使用 u 与 E",
			symbol:     "",
			data:       `{"e":"depthUpdate","E":1700000000123,"s":"ETHUSDT","U":157,"u":160,"b":[["2000.1","3"]],"a":[["2000.2","4"]]}`,
			wantSymbol: "ETHUSDT",
			wantUpdate: 160,
			wantBids:   []model.OrderBookEntry{{Price: 2000.1, Size: 3}},
			wantAsks:   []model.OrderBookEntry{{Price: 2000.2, Size: 4}},
			wantExchTs: 1700000000123,
		},
		{
			name:       "代理形态",
			symbol:     "",
			data:       `{"symbol_id":"KRAKEN_SPOT_BTC_USD","time_exchange":"2024-01-01T00:00:00.0000000Z","bids":[{"price":100,"size":2}],"asks":[{"price":101,"size":0.5}]}`,
			wantSymbol: "KRAKEN_SPOT_BTC_USD",
			wantUpdate: 1704067200000,
			wantBids:   []model.OrderBookEntry{{Price: 100, Size: 2}},
			wantAsks:   []model.OrderBookEntry{{Price: 101, Size: 0.5}},
			wantVenue:  "KRAKEN_SPOT_BTC_USD",
			wantExchTs: 1704067200000,
		},
		{
			name:       "多余元素忽略",
			symbol:     "XRPUSDT",
			data:       `{"lastUpdateId":1,"bids":[["0.5","10","x"]],"asks":[]}`,
			wantSymbol: "XRPUSDT",
			wantUpdate: 1,
			wantBids:   []model.OrderBookEntry{{Price: 0.5, Size: 10}},
			wantAsks:   []model.OrderBookEntry{},
		},
		{
			name:       "空盘口",
			symbol:     "XRPUSDT",
			data:       `{"lastUpdateId":2,"bids":[],"asks":[]}`,
			wantSymbol: "XRPUSDT",
			wantUpdate: 2,
			wantBids:   []model.OrderBookEntry{},
			wantAsks:   []model.OrderBookEntry{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := Decode(tt.symbol, []byte(tt.data))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if snap.Symbol != tt.wantSymbol {
				t.Errorf("Symbol=%q, want %q", snap.Symbol, tt.wantSymbol)
			}
			if snap.UpdateID != tt.wantUpdate {
				t.Errorf("UpdateID=%d, want %d", snap.UpdateID, tt.wantUpdate)
			}
			if !reflect.DeepEqual(snap.Bids, tt.wantBids) {
				t.Errorf("Bids=%v, want %v", snap.Bids, tt.wantBids)
			}
			if !reflect.DeepEqual(snap.Asks, tt.wantAsks) {
				t.Errorf("Asks=%v, want %v", snap.Asks, tt.wantAsks)
			}
			if snap.VenueSymbol != tt.wantVenue {
				t.Errorf("VenueSymbol=%q, want %q", snap.VenueSymbol, tt.wantVenue)
			}
			if snap.ExchTsUnixMs != tt.wantExchTs {
				t.Errorf("ExchTsUnixMs=%d, want %d", snap.ExchTsUnixMs, tt.wantExchTs)
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"非 JSON", `not json`},
		{"订阅响应", `{"result":null,"id":1}`},
		{"字段为 null", `{"bids":null,"asks":null}`},
		{"档位不是数组", `{"bids":"x","asks":[]}`},
		{"档位元素不足", `{"bids":[["1"]],"asks":[]}`},
		{"数量为负", `{"b":[["1","-2"]],"a":[]}`},
		{"价格为 NaN", `{"bids":[["NaN","1"]],"asks":[]}`},
		{"代理档位为负", `{"symbol_id":"X","bids":[{"price":-1,"size":1}],"asks":[]}`},
		{"代理档位类型错误", `{"bids":[{"price":"1","size":1}],"asks":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := Decode("BTCUSDT", []byte(tt.data))
			if snap != nil {
				t.Errorf("失败时不应返回快照")
			}
			var parseErr *model.ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("期望 ParseError, got %v", err)
			}
		})
	}
}

func TestExtractErrorMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"error":"API key not configured"}`, "API key not configured"},
		{`{"code":-1121,"msg":"Invalid symbol."}`, "Invalid symbol."},
		{`{"error":"a","msg":"b"}`, "a"},
		{`{}`, defaultFetchError},
		{`<html>bad gateway</html>`, defaultFetchError},
	}

	for _, tt := range tests {
		if got := extractErrorMessage([]byte(tt.body)); got != tt.want {
			t.Errorf("extractErrorMessage(%s) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		base    string
		symbol  string
		depth   int
		speedMs int
		want    string
	}{
		{"wss://stream.binance.com:9443/ws", "BTCUSDT", 20, 100, "wss://stream.binance.com:9443/ws/btcusdt@depth20@100ms"},
		{"wss://stream.binance.com:9443/ws/", "XRPUSDT", 5, 1000, "wss://stream.binance.com:9443/ws/xrpusdt@depth5@1000ms"},
	}

	for _, tt := range tests {
		if got := StreamURL(tt.base, tt.symbol, tt.depth, tt.speedMs); got != tt.want {
			t.Errorf("StreamURL = %q, want %q", got, tt.want)
		}
	}
}
