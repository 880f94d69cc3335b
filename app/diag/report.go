package diag

import (
	"runtime"
	"time"
)

type MemoryReport struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	Goroutines      int    `json:"goroutines"`
}

type Report struct {
	Timestamp time.Time    `json:"timestamp"`
	Version   string       `json:"version"`
	Memory    MemoryReport `json:"memory"`
	Events    []Event      `json:"events"`
	Scheduler any          `json:"scheduler"`
	Feeds     any          `json:"feeds"`
}

// BuildReport assembles the diagnostics payload from the event ring and
// whatever scheduler/cache state the caller passes through. A nil ring
// yields an empty event list so callers can treat the ring as optional.
func BuildReport(ring *Ring, version string, scheduler, feeds any) Report {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	events := []Event{}
	if ring != nil {
		events = ring.Recent(0)
	}

	return Report{
		Timestamp: time.Now().UTC(),
		Version:   version,
		Memory: MemoryReport{
			AllocBytes:      memStats.Alloc,
			TotalAllocBytes: memStats.TotalAlloc,
			SysBytes:        memStats.Sys,
			NumGC:           memStats.NumGC,
			Goroutines:      runtime.NumGoroutine(),
		},
		Events:    events,
		Scheduler: scheduler,
		Feeds:     feeds,
	}
}
