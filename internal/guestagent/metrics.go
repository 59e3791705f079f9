package guestagent

import (
	"sync"
	"time"

	"github.com/prometheus/procfs"
)

// Metrics is the GET /metrics response shape.
type Metrics struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemTotal      uint64  `json:"mem_total"`
	MemUsed       uint64  `json:"mem_used"`
	MemPercent    float64 `json:"mem_percent"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	LoadAvg1      float64 `json:"load_avg_1"`
	LoadAvg5      float64 `json:"load_avg_5"`
	LoadAvg15     float64 `json:"load_avg_15"`
	ProcCount     int     `json:"proc_count"`
}

// cpuSample is the subset of procfs.Stat.CPUTotal needed to compute a
// busy-percentage between two samples.
type cpuSample struct {
	idle  float64
	total float64
	at    time.Time
}

// Collector reads /proc via procfs and derives guest metrics. CPU percent
// needs two samples spaced apart in time, so the collector keeps the last
// sample around rather than sleeping inside the request handler — the
// first call after boot has nothing to diff against and reports 0, exactly
// as a fresh sandbox would.
type Collector struct {
	fs procfs.FS

	mu   sync.Mutex
	last *cpuSample

	startedAt time.Time
}

func NewCollector() (*Collector, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	return &Collector{fs: fs, startedAt: time.Now()}, nil
}

func (c *Collector) Snapshot() (Metrics, error) {
	var m Metrics

	stat, err := c.fs.Stat()
	if err != nil {
		return Metrics{}, err
	}
	m.CPUPercent = c.cpuPercent(stat.CPUTotal.Idle, cpuTotal(stat.CPUTotal))

	meminfo, err := c.fs.Meminfo()
	if err != nil {
		return Metrics{}, err
	}
	if meminfo.MemTotal != nil {
		m.MemTotal = *meminfo.MemTotal * 1024
	}
	var memAvail uint64
	if meminfo.MemAvailable != nil {
		memAvail = *meminfo.MemAvailable * 1024
	}
	if m.MemTotal > memAvail {
		m.MemUsed = m.MemTotal - memAvail
	}
	if m.MemTotal > 0 {
		m.MemPercent = float64(m.MemUsed) / float64(m.MemTotal) * 100
	}

	load, err := c.fs.LoadAvg()
	if err == nil && load != nil {
		m.LoadAvg1, m.LoadAvg5, m.LoadAvg15 = load.Load1, load.Load5, load.Load15
	}

	procs, err := c.fs.AllProcs()
	if err == nil {
		m.ProcCount = len(procs)
	}

	m.UptimeSeconds = time.Since(c.startedAt).Seconds()
	return m, nil
}

// cpuTotal sums every accounted CPU time bucket, matching the "cpu" line
// in /proc/stat (user+nice+system+idle+iowait+irq+softirq+steal).
func cpuTotal(c procfs.CPUStat) float64 {
	return c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
}

// cpuPercent diffs against the previous sample under lock and stores the
// new one, so concurrent /metrics requests never race on c.last.
func (c *Collector) cpuPercent(idle, total float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := &cpuSample{idle: idle, total: total, at: time.Now()}
	prev := c.last
	c.last = now
	if prev == nil {
		return 0
	}

	totalDelta := now.total - prev.total
	idleDelta := now.idle - prev.idle
	if totalDelta <= 0 {
		return 0
	}
	pct := (1 - idleDelta/totalDelta) * 100
	if pct < 0 {
		return 0
	}
	return pct
}
