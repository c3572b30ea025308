package profiler

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/oxy-shader/common"
	"go.uber.org/zap"
)

// Profiler tracks shader pipeline statistics: how lookups were served and how long
// builds took. Counters are safe for concurrent use; Tick logs them with memory
// statistics at a configurable interval.
type Profiler struct {
	fastPathHits atomic.Uint64
	hashHits     atomic.Uint64
	diskHits     atomic.Uint64
	builds       atomic.Uint64
	failures     atomic.Uint64
	buildNanos   atomic.Int64
	evictions    atomic.Uint64

	mu             sync.Mutex
	lastTime       time.Time
	lastBuilds     uint64
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	FastPathHits uint64        `json:"fast_path_hits"`
	HashHits     uint64        `json:"hash_hits"`
	DiskHits     uint64        `json:"disk_hits"`
	Builds       uint64        `json:"builds"`
	Failures     uint64        `json:"failures"`
	Evictions    uint64        `json:"evictions"`
	BuildTime    time.Duration `json:"build_time"`
}

// AverageBuild returns the mean duration of one build, 0 before the first build.
func (s Snapshot) AverageBuild() time.Duration {
	if s.Builds == 0 {
		return 0
	}
	return s.BuildTime / time.Duration(s.Builds)
}

// NewProfiler creates a new Profiler with default settings.
// Update interval defaults to 1 minute.
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler() *Profiler {
	return &Profiler{
		lastTime:       time.Now(),
		updateInterval: time.Minute,
	}
}

// SetInterval changes how often Tick logs. Values <= 0 are ignored.
//
// Parameters:
//   - d: the logging interval
func (p *Profiler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	p.updateInterval = d
	p.mu.Unlock()
}

// RecordFastPath counts a lookup answered by the timestamp check alone.
func (p *Profiler) RecordFastPath() {
	p.fastPathHits.Add(1)
}

// RecordHashHit counts a lookup whose content hash matched an entry in memory.
func (p *Profiler) RecordHashHit() {
	p.hashHits.Add(1)
}

// RecordDiskHit counts an entry loaded from the artifact store.
func (p *Profiler) RecordDiskHit() {
	p.diskHits.Add(1)
}

// RecordEvictions counts entries dropped by eviction.
func (p *Profiler) RecordEvictions(n int) {
	p.evictions.Add(uint64(n))
}

// RecordBuild counts one build and its duration.
//
// Parameters:
//   - d: how long the build took
//   - err: the build error, nil on success
func (p *Profiler) RecordBuild(d time.Duration, err error) {
	p.builds.Add(1)
	p.buildNanos.Add(int64(d))
	if err != nil {
		p.failures.Add(1)
	}
}

// Snapshot returns the current counters.
//
// Returns:
//   - Snapshot: a copy of the counters
func (p *Profiler) Snapshot() Snapshot {
	return Snapshot{
		FastPathHits: p.fastPathHits.Load(),
		HashHits:     p.hashHits.Load(),
		DiskHits:     p.diskHits.Load(),
		Builds:       p.builds.Load(),
		Failures:     p.failures.Load(),
		Evictions:    p.evictions.Load(),
		BuildTime:    time.Duration(p.buildNanos.Load()),
	}
}

// Tick should be called periodically, e.g. once per poll. It logs the counters together
// with heap and GC statistics when the update interval has elapsed.
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}

	s := p.Snapshot()
	runtime.ReadMemStats(&p.memStats)
	// Alloc is live heap, Sys the process footprint obtained from the OS.
	heapMB := float64(p.memStats.Alloc) / 1024 / 1024
	sysMB := float64(p.memStats.Sys) / 1024 / 1024

	gcCount := p.memStats.NumGC
	var maxPauseUs uint64
	startIdx := p.lastGCCount
	if gcCount-startIdx > 256 {
		startIdx = gcCount - 256
	}
	for i := startIdx; i < gcCount; i++ {
		// PauseNs is a circular buffer of the last 256 pauses
		maxPauseUs = max(maxPauseUs, p.memStats.PauseNs[i%256]/1000)
	}

	buildRate := float64(s.Builds-p.lastBuilds) / elapsed.Seconds()
	common.Logger().Named("profiler").Info("shader pipeline stats",
		zap.Uint64("fast_path_hits", s.FastPathHits),
		zap.Uint64("hash_hits", s.HashHits),
		zap.Uint64("disk_hits", s.DiskHits),
		zap.Uint64("builds", s.Builds),
		zap.Uint64("failures", s.Failures),
		zap.Uint64("evictions", s.Evictions),
		zap.Duration("avg_build", s.AverageBuild()),
		zap.Float64("builds_per_sec", buildRate),
		zap.Float64("heap_mb", heapMB),
		zap.Float64("sys_mb", sysMB),
		zap.Uint32("gc_count", gcCount),
		zap.Uint64("gc_max_pause_us", maxPauseUs),
	)

	p.lastTime = now
	p.lastBuilds = s.Builds
	p.lastGCCount = gcCount
	return true
}
