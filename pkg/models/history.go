package models

// HistoricalDataPoint is one OHLCV bar in a streamed historical dataset.
// Points are accumulated client-side across chunked delivery and
// deduplicated by Time.
type HistoricalDataPoint struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// IntervalStart is the metadata event opening one interval's stream.
type IntervalStart struct {
	Interval    string `json:"interval"`
	Symbol      string `json:"symbol"`
	Exchange    string `json:"exchange,omitempty"`
	TotalPoints int    `json:"total_points"`
}

// DataChunk is one bounded slice of a larger streamed dataset.
type DataChunk struct {
	Interval    string                `json:"interval"`
	Points      []HistoricalDataPoint `json:"points"`
	ChunkIndex  int                   `json:"chunk_index"`
	TotalChunks int                   `json:"total_chunks"`
	Progress    float64               `json:"progress"`
}

// IntervalComplete closes one interval's stream in a multi-interval
// subscription.
type IntervalComplete struct {
	Interval    string `json:"interval"`
	TotalPoints int    `json:"total_points"`
}

// HistoricalDataResponse is the REST shape for fetch-by-id historical data.
type HistoricalDataResponse struct {
	ResourceID string                `json:"resource_id"`
	Symbol     string                `json:"symbol"`
	Interval   string                `json:"interval"`
	Points     []HistoricalDataPoint `json:"points"`
	Count      int                   `json:"count"`
	NoData     bool                  `json:"no_data,omitempty"`
}
