// Package monitor samples process memory and connection pool usage while the
// server runs.
package monitor

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/kyleking/bb-biodiversity/internal/logging"
)

// PoolSource reports connection pool statistics. *sql.DB satisfies it.
type PoolSource interface {
	Stats() sql.DBStats
}

// Stats is one sample of runtime and pool usage.
type Stats struct {
	AllocMB        float64       `json:"alloc_mb"`
	SysMB          float64       `json:"sys_mb"`
	NumGC          uint32        `json:"num_gc"`
	GoroutineCount int           `json:"goroutine_count"`
	OpenConns      int           `json:"open_conns"`
	InUseConns     int           `json:"in_use_conns"`
	IdleConns      int           `json:"idle_conns"`
	WaitCount      int64         `json:"wait_count"`
	WaitDuration   time.Duration `json:"wait_duration"`
	LastUpdated    time.Time     `json:"last_updated"`
}

// Monitor periodically samples Stats and logs them.
type Monitor struct {
	mu      sync.RWMutex
	stats   Stats
	pool    PoolSource
	log     *logging.Logger
	stop    chan struct{}
	done    chan struct{}
	started bool
}

// NewMonitor creates a monitor over pool. It does nothing until Start.
func NewMonitor(pool PoolSource, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Monitor{
		pool: pool,
		log:  logger.WithField("component", "monitor"),
	}
}

// Start samples every interval until ctx is done or Stop is called.
// A non-positive interval leaves the monitor idle.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started || interval <= 0 {
		return
	}

	m.started = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	go m.loop(ctx, interval, m.stop, m.done)
}

// Stop ends sampling and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}

	m.started = false
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	<-done
}

// GetStats returns the latest sample.
func (m *Monitor) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.stats
}

// Sample takes a fresh sample, records it and returns it.
func (m *Monitor) Sample() Stats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s := Stats{
		AllocMB:        float64(mem.Alloc) / 1024 / 1024,
		SysMB:          float64(mem.Sys) / 1024 / 1024,
		NumGC:          mem.NumGC,
		GoroutineCount: runtime.NumGoroutine(),
		LastUpdated:    time.Now(),
	}

	if m.pool != nil {
		ps := m.pool.Stats()
		s.OpenConns = ps.OpenConnections
		s.InUseConns = ps.InUse
		s.IdleConns = ps.Idle
		s.WaitCount = ps.WaitCount
		s.WaitDuration = ps.WaitDuration
	}

	m.mu.Lock()
	prev := m.stats
	m.stats = s
	m.mu.Unlock()

	log := m.log.WithFields(map[string]interface{}{
		"alloc_mb":   fmt.Sprintf("%.2f", s.AllocMB),
		"goroutines": s.GoroutineCount,
		"open_conns": s.OpenConns,
		"in_use":     s.InUseConns,
		"idle":       s.IdleConns,
		"wait_count": s.WaitCount,
	})

	// Waiting means every pooled connection was busy.
	if !prev.LastUpdated.IsZero() && s.WaitCount > prev.WaitCount {
		log.Warnf("%d queries waited for a connection since the last sample", s.WaitCount-prev.WaitCount)
	} else {
		log.Debug("runtime stats")
	}

	return s
}

// GetFormattedStats returns human-readable statistics
func (m *Monitor) GetFormattedStats() string {
	stats := m.GetStats()

	return fmt.Sprintf(`Runtime Statistics:
  Allocated: %.2f MB
  System: %.2f MB
  Goroutines: %d
  GC Runs: %d
  Open Connections: %d (in use %d, idle %d)
  Connection Waits: %d (%s)
  Last Updated: %s`,
		stats.AllocMB,
		stats.SysMB,
		stats.GoroutineCount,
		stats.NumGC,
		stats.OpenConns, stats.InUseConns, stats.IdleConns,
		stats.WaitCount, stats.WaitDuration,
		stats.LastUpdated.Format("15:04:05"),
	)
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sample()
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}
