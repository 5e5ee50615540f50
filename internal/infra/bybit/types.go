package bybit

import "encoding/json"

// wsMessage is the envelope of the v5 public stream
type wsMessage struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"` // "snapshot" or "delta"
	TS    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

// orderbookData is the orderbook.N topic payload
type orderbookData struct {
	Symbol   string      `json:"s"`
	Bids     [][2]string `json:"b"`
	Asks     [][2]string `json:"a"`
	UpdateID int64       `json:"u"`
	Seq      int64       `json:"seq"`
}

// tradeData is one entry of the publicTrade topic payload
type tradeData struct {
	TradeTime int64  `json:"T"`
	Symbol    string `json:"s"`
	Side      string `json:"S"` // "Buy" or "Sell"
	Qty       string `json:"v"`
	Price     string `json:"p"`
}

// klineResponse is the REST /v5/market/kline response
type klineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Symbol string      `json:"symbol"`
		List   [][7]string `json:"list"` // newest first: start, o, h, l, c, v, turnover
	} `json:"result"`
}
