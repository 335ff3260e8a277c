package syshealth

import "time"

// Config holds sampling cadence and the per-signal thresholds.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	// Samples older than StaleAfter are flagged stale.
	StaleAfter time.Duration

	IOWaitWarning, IOWaitCritical float64
	// Load thresholds are multiples of the CPU count.
	LoadWarning, LoadCritical     float64
	MemoryWarning, MemoryCritical float64
	PoolWarning, PoolCritical     float64
}

// DefaultConfig samples every interval with production thresholds.
func DefaultConfig(interval time.Duration) Config {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return Config{
		Interval:       interval,
		Timeout:        5 * time.Second,
		StaleAfter:     4 * interval,
		IOWaitWarning:  30,
		IOWaitCritical: 40,
		LoadWarning:    2,
		LoadCritical:   3,
		MemoryWarning:  85,
		MemoryCritical: 95,
		PoolWarning:    75,
		PoolCritical:   90,
	}
}
