// Package observability aggregates live engine gauges for the health
// endpoint and the debug inspector.
package observability

import (
	"os"
	"sync/atomic"

	"github.com/shirou/gopsutil/process"
)

// Stats carries the dispatcher and subscriber counters. All fields are
// updated atomically from the hot path.
type Stats struct {
	Published     atomic.Uint64
	Delivered     atomic.Uint64
	Denied        atomic.Uint64
	Deduplicated  atomic.Uint64
	DecryptErrors atomic.Uint64
	Subscribers   atomic.Int64
}

// Snapshot is the JSON-friendly view served by /healthz.
type Snapshot struct {
	Published     uint64  `json:"published"`
	Delivered     uint64  `json:"delivered"`
	Denied        uint64  `json:"denied"`
	Deduplicated  uint64  `json:"deduplicated"`
	DecryptErrors uint64  `json:"decrypt_errors"`
	Subscribers   int64   `json:"subscribers"`
	CPUPercent    float64 `json:"cpu_percent"`
	RSSBytes      uint64  `json:"rss_bytes"`
	PIDStatus     string  `json:"pid_status"`
}

// Snapshot folds the counters together with self process metrics
// (CPU, RSS, OS status). Process metrics are best effort; a collection
// failure leaves them zeroed rather than failing the health check.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Published:     s.Published.Load(),
		Delivered:     s.Delivered.Load(),
		Denied:        s.Denied.Load(),
		Deduplicated:  s.Deduplicated.Load(),
		DecryptErrors: s.DecryptErrors.Load(),
		Subscribers:   s.Subscribers.Load(),
	}

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return snap
	}
	if cpu, err := p.CPUPercent(); err == nil {
		snap.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil {
		snap.RSSBytes = mem.RSS
	}
	if status, err := p.Status(); err == nil {
		snap.PIDStatus = status
	}
	return snap
}
