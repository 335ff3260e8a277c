package syshealth

import "time"

// Zone classifies host pressure.
type Zone string

const (
	ZoneSafe     Zone = "safe"
	ZoneWarning  Zone = "warning"
	ZoneCritical Zone = "critical"
)

// Snapshot is one sample of host pressure and the score derived from it.
type Snapshot struct {
	// Score runs 0-100, higher is healthier.
	Score int  `json:"score"`
	Zone  Zone `json:"zone"`

	LoadAvg       float64 `json:"load_avg_1m"`
	IOWaitPercent float64 `json:"io_wait_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	PoolPercent   float64 `json:"db_pool_percent"`

	SampledAt time.Time `json:"sampled_at"`
	Stale     bool      `json:"stale"`
}

// PoolStats reports connection pool saturation as acquired and max connections.
type PoolStats func() (acquired, max int32)
