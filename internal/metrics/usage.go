package metrics

import (
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Usage holds a point-in-time CPU/memory sample for a capture subprocess.
type Usage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	SampledAt  time.Time `json:"sampled_at"`
}

// SampleUsage samples CPU and memory for pid. Used by detailed status
// reporting; failures are returned to the caller, not logged here.
func SampleUsage(pid int) (Usage, error) {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, err
	}
	u := Usage{PID: int32(pid), SampledAt: time.Now()}
	if cpu, err := p.CPUPercent(); err == nil {
		u.CPUPercent = cpu
	}
	if mi, err := p.MemoryInfo(); err == nil && mi != nil {
		u.MemoryMB = float64(mi.RSS) / 1024 / 1024
	}
	if nt, err := p.NumThreads(); err == nil {
		u.NumThreads = nt
	}
	return u, nil
}
