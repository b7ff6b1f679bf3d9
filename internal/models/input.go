package models

import "time"

// ExecutionInput is a canonical fill produced by an exchange adapter or the
// CSV normalizer, before it is bound to a broker account.
type ExecutionInput struct {
	Symbol      string
	Side        Side
	Qty         float64
	Price       float64
	Fee         float64
	RealizedPnl float64
	ExecTime    time.Time
}

// TradeInput is a canonical closed position produced by the CSV normalizer.
type TradeInput struct {
	Symbol    string
	Side      Side
	OpenTime  time.Time
	CloseTime time.Time
	Qty       float64
	AvgEntry  float64
	AvgExit   float64
	GrossPnl  float64
	NetPnl    float64
	Fees      float64
}
