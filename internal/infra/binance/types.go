package binance

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"depthscope/internal/domain"
)

// combinedMessage wraps payloads of the multiplexed stream endpoint
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// aggTradeMessage is the futures aggTrade stream payload
type aggTradeMessage struct {
	TradeTime int64  `json:"T"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	// m=true means the buyer is the maker, i.e. a sell aggressor
	BuyerIsMaker bool `json:"m"`
}

// depthMessage is the futures differential depth stream payload
type depthMessage struct {
	TradeTime int64       `json:"T"`
	FirstID   int64       `json:"U"`
	FinalID   int64       `json:"u"`
	PrevID    int64       `json:"pu"`
	Bids      [][2]string `json:"b"`
	Asks      [][2]string `json:"a"`
}

// depthSnapshot is the REST depth endpoint response
type depthSnapshot struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	TradeTime    int64       `json:"T"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// parseLevels converts the [price, qty] string pairs of the wire format.
// Zero quantities pass through: they mean "remove this level".
func parseLevels(raw [][2]string) ([]domain.BookLevel, error) {
	out := make([]domain.BookLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, err
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, err
		}
		out = append(out, domain.BookLevel{Price: price, Qty: qty})
	}
	return out, nil
}
