package types

import (
	"context"
	"time"
)

type PerformanceMetric struct {
	Timestamp          time.Time `json:"timestamp"`
	Endpoint           string    `json:"endpoint"`
	Method             string    `json:"method"`
	ResponseTimeMs     float64   `json:"response_time_ms"`
	CacheHit           bool      `json:"cache_hit"`
	CacheKey           string    `json:"cache_key,omitempty"`
	TransformationMs   float64   `json:"transformation_ms"`
	ContentSize        int       `json:"content_size"`
	StatusCode         int       `json:"status_code"`
	Error              string    `json:"error,omitempty"`
	Geolocation        string    `json:"geolocation,omitempty"`
	CDNHit             bool      `json:"cdn_hit"`
}

type EndpointStat struct {
	Endpoint      string  `json:"endpoint"`
	Requests      int     `json:"requests"`
	AverageTimeMs float64 `json:"average_time_ms"`
}

type GeoStat struct {
	Geolocation string `json:"geolocation"`
	Requests    int    `json:"requests"`
}

type HotKeyStat struct {
	CacheKey string `json:"cache_key"`
	Misses   int    `json:"misses"`
}

type PerformanceReport struct {
	From                  time.Time      `json:"from"`
	To                    time.Time      `json:"to"`
	TotalRequests         int            `json:"total_requests"`
	AverageResponseTimeMs float64        `json:"average_response_time_ms"`
	CacheHitRate          float64        `json:"cache_hit_rate"`
	CDNHitRate            float64        `json:"cdn_hit_rate"`
	ErrorRate             float64        `json:"error_rate"`
	SlowestEndpoints      []EndpointStat `json:"slowest_endpoints"`
	TopGeolocations       []GeoStat      `json:"top_geolocations"`
	CacheMissHotKeys      []HotKeyStat   `json:"cache_miss_hot_keys"`
	AvgTransformationMs   float64        `json:"avg_transformation_ms"`
}

type AnomalySeverity string

const (
	SeverityMedium AnomalySeverity = "medium"
	SeverityHigh   AnomalySeverity = "high"
)

type Anomaly struct {
	Type        string          `json:"type"`
	Severity    AnomalySeverity `json:"severity"`
	Description string          `json:"description"`
}

type PerformanceMonitor interface {
	LifecycleManager
	RecordMetrics(ctx context.Context, metric PerformanceMetric) error
	GetReport(ctx context.Context, from, to time.Time) (*PerformanceReport, error)
	DetectAnomalies(ctx context.Context) ([]Anomaly, error)
}
