// Package monitoring keeps process-level counters for the harvesting
// pipeline plus a resource sampler. Everything is in memory; the
// worker logs a snapshot periodically.
package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/rs/zerolog"
)

// Collector aggregates pipeline counters.
type Collector struct {
	mu sync.Mutex

	jobsProcessed int64
	jobsSucceeded int64
	jobsFailed    int64

	listingsProcessed int64
	recordsCollected  int64
	emailsFound       int64

	totalJobTime time.Duration
	maxJobTime   time.Duration

	memoryMB    float64
	cpuPercent  float64
	diskPercent float64
}

func NewCollector() *Collector {
	return &Collector{}
}

// RecordJob folds one finished job into the counters.
func (c *Collector) RecordJob(success bool, duration time.Duration, listings, records, emailsFound int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.jobsProcessed++

	if success {
		c.jobsSucceeded++
	} else {
		c.jobsFailed++
	}

	c.listingsProcessed += int64(listings)
	c.recordsCollected += int64(records)
	c.emailsFound += int64(emailsFound)

	c.totalJobTime += duration
	if duration > c.maxJobTime {
		c.maxJobTime = duration
	}
}

// Snapshot is a point-in-time copy for logging or an admin endpoint.
type Snapshot struct {
	JobsProcessed     int64         `json:"jobs_processed"`
	JobsSucceeded     int64         `json:"jobs_succeeded"`
	JobsFailed        int64         `json:"jobs_failed"`
	ListingsProcessed int64         `json:"listings_processed"`
	RecordsCollected  int64         `json:"records_collected"`
	EmailsFound       int64         `json:"emails_found"`
	AvgJobTime        time.Duration `json:"avg_job_time"`
	MaxJobTime        time.Duration `json:"max_job_time"`
	MemoryMB          float64       `json:"memory_mb"`
	CPUPercent        float64       `json:"cpu_percent"`
	DiskPercent       float64       `json:"disk_percent"`
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		JobsProcessed:     c.jobsProcessed,
		JobsSucceeded:     c.jobsSucceeded,
		JobsFailed:        c.jobsFailed,
		ListingsProcessed: c.listingsProcessed,
		RecordsCollected:  c.recordsCollected,
		EmailsFound:       c.emailsFound,
		MaxJobTime:        c.maxJobTime,
		MemoryMB:          c.memoryMB,
		CPUPercent:        c.cpuPercent,
		DiskPercent:       c.diskPercent,
	}

	if c.jobsProcessed > 0 {
		s.AvgJobTime = c.totalJobTime / time.Duration(c.jobsProcessed)
	}

	return s
}

// SampleResources polls memory, cpu and disk until the context ends,
// logging a snapshot each interval.
func (c *Collector) SampleResources(ctx context.Context, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sampleOnce(ctx)

			s := c.Snapshot()

			log.Debug().
				Int64("jobs", s.JobsProcessed).
				Int64("records", s.RecordsCollected).
				Float64("memory_mb", s.MemoryMB).
				Float64("cpu_percent", s.CPUPercent).
				Msg("resource snapshot")
		}
	}
}

func (c *Collector) sampleOnce(ctx context.Context) {
	var memMB, cpuPct, diskPct float64

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		memMB = float64(vm.Used) / (1 << 20)
	}

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		cpuPct = pcts[0]
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		diskPct = du.UsedPercent
	}

	c.mu.Lock()
	c.memoryMB = memMB
	c.cpuPercent = cpuPct
	c.diskPercent = diskPct
	c.mu.Unlock()
}
