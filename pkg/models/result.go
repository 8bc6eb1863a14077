package models

import (
	"fmt"
)

// BacktestResult is the full output of a completed job. Streamed completion
// notices carry a truncated copy (Partial=true) that is superseded by one
// authoritative REST fetch.
type BacktestResult struct {
	TotalTrades   int           `json:"total_trades"`
	WinningTrades int           `json:"winning_trades"`
	LosingTrades  int           `json:"losing_trades"`
	WinRate       float64       `json:"win_rate"`
	ProfitFactor  float64       `json:"profit_factor"`
	MaxDrawdown   float64       `json:"max_drawdown"`
	TotalReturn   float64       `json:"total_return"`
	FinalCapital  float64       `json:"final_capital"`
	Transactions  []Transaction `json:"transactions,omitempty"`
	Partial       bool          `json:"partial,omitempty"`
}

// Transaction is one trade event inside a result. The stream may redeliver
// transactions, so consumers deduplicate by DedupKey.
type Transaction struct {
	TradeID  string  `json:"trade_id"`
	Date     string  `json:"date"`
	Type     string  `json:"type"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	PnL      float64 `json:"pnl,omitempty"`
}

// DedupKey is the composite identity used to drop redelivered transactions.
func (t Transaction) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s|%g", t.TradeID, t.Date, t.Type, t.Quantity)
}
