package models

import "time"

// SystemMetrics is a lightweight snapshot for the operator dashboard.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DocumentsUploaded        uint64    `json:"documents_uploaded"`
	DeliveriesSucceeded      uint64    `json:"deliveries_succeeded"`
	DeliveriesFailed         uint64    `json:"deliveries_failed"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
