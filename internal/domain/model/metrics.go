package model

// MetricPoint - точка временного ряда.
type MetricPoint struct {
	// Timestamp - время в миллисекундах Unix
	Timestamp int64 `json:"timestamp"`
	// Value - значение (длительность в мс или среднее по корзине)
	Value float64 `json:"value"`
}

// MetricsSummary - агрегированная статистика длительности операции за окно.
type MetricsSummary struct {
	Operation     string        `json:"operation"`
	TimeRange     int64         `json:"timeRange"`
	AvgDuration   float64       `json:"avgDuration"`
	MinDuration   float64       `json:"minDuration"`
	MaxDuration   float64       `json:"maxDuration"`
	TotalRequests int           `json:"totalRequests"`
	Timeseries    []MetricPoint `json:"timeseriesData"`
}
