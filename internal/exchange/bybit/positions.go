package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/shopspring/decimal"
)

// Position is one open position as reported by the exchange.
type Position struct {
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"` // Buy, Sell or empty when flat
	Size        decimal.Decimal `json:"size"`
	EntryPrice  decimal.Decimal `json:"entryPrice"`
	MarkPrice   decimal.Decimal `json:"markPrice"`
	PositionIdx int             `json:"positionIdx"`
	UpdatedTime time.Time       `json:"updatedTime"`
}

// Signed returns the size, negative for short positions.
func (p Position) Signed() decimal.Decimal {
	if strings.EqualFold(p.Side, "Sell") {
		return p.Size.Neg()
	}
	return p.Size
}

// GetPositions retrieves open positions for the configured category. An empty
// symbol lists every position settled in USDT.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]Position, error) {
	params := map[string]interface{}{
		"category": c.category,
	}
	if symbol != "" {
		params["symbol"] = symbol
	} else {
		params["settleCoin"] = "USDT"
	}

	var positions []Position
	err := Retry(ctx, c.retry, func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
		if err != nil {
			return fmt.Errorf("failed to get positions: %w", err)
		}
		positions, err = parsePositionsResponse(result)
		return err
	})
	if err != nil {
		return nil, err
	}
	return positions, nil
}

func parsePositionsResponse(response interface{}) ([]Position, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return nil, fmt.Errorf("invalid response type %T", response)
	}
	if err := ParseAPIError("GetPositionList", serverResp.RetCode, serverResp.RetMsg); err != nil {
		return nil, err
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	var positionResult struct {
		List []struct {
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			Size        string `json:"size"`
			AvgPrice    string `json:"avgPrice"`
			MarkPrice   string `json:"markPrice"`
			PositionIdx int    `json:"positionIdx"`
			UpdatedTime string `json:"updatedTime"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &positionResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal position result: %w", err)
	}

	positions := make([]Position, 0, len(positionResult.List))
	for _, p := range positionResult.List {
		size, err := decimal.NewFromString(p.Size)
		if err != nil {
			return nil, fmt.Errorf("position %s: invalid size %q: %w", p.Symbol, p.Size, err)
		}
		positions = append(positions, Position{
			Symbol:      strings.ToUpper(p.Symbol),
			Side:        p.Side,
			Size:        size,
			EntryPrice:  decimalOrZero(p.AvgPrice),
			MarkPrice:   decimalOrZero(p.MarkPrice),
			PositionIdx: p.PositionIdx,
			UpdatedTime: parseTimestamp(p.UpdatedTime),
		})
	}
	return positions, nil
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseTimestamp(ts string) time.Time {
	msec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || msec == 0 {
		return time.Time{}
	}
	return time.UnixMilli(msec).UTC()
}
