package models

import "time"

// Strategy mirrors the live status entry of one trading strategy.
type Strategy struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Status      string               `json:"status"`
	Performance *StrategyPerformance `json:"performance,omitempty"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// StrategyPerformance is the rolling performance summary streamed for a
// running strategy.
type StrategyPerformance struct {
	TotalPnL    float64 `json:"total_pnl"`
	DayPnL      float64 `json:"day_pnl"`
	OpenTrades  int     `json:"open_trades"`
	TotalTrades int     `json:"total_trades"`
	WinRate     float64 `json:"win_rate"`
}

// StrategyStatusUpdate changes one strategy's status by id.
type StrategyStatusUpdate struct {
	StrategyID string `json:"strategy_id"`
	Status     string `json:"status"`
}

// StrategyPerformanceUpdate replaces one strategy's performance summary.
type StrategyPerformanceUpdate struct {
	StrategyID  string               `json:"strategy_id"`
	Performance *StrategyPerformance `json:"performance"`
}
