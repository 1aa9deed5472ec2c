package observer

import (
	"sync"
	"time"

	"github.com/cascadehq/cascade/internal/domain"
	"github.com/cascadehq/cascade/internal/events"
)

// Metrics holds aggregated pipeline metrics
type Metrics struct {
	TotalCompleted int
	TotalFailed    int
	TotalSkipped   int
	AvgDuration    time.Duration
}

type completion struct {
	Repo        string
	Duration    time.Duration
	CompletedAt time.Time
}

// Collector aggregates per-repo pipeline outcomes from the event bus.
type Collector struct {
	completions []completion
	failed      int
	skipped     int
	mu          sync.RWMutex
}

// NewCollector creates a collector subscribed to the bus.
func NewCollector(bus *events.Bus) *Collector {
	c := &Collector{}
	bus.Subscribe(c.observe)
	return c
}

func (c *Collector) observe(e domain.Event) {
	switch e.Type {
	case domain.EventDone:
		c.mu.Lock()
		comp := completion{Repo: e.Repo, CompletedAt: time.Now()}
		if e.State != nil {
			comp.Duration = e.State.Duration()
		}
		c.completions = append(c.completions, comp)
		c.mu.Unlock()
	case domain.EventFailed:
		c.mu.Lock()
		c.failed++
		c.mu.Unlock()
	case domain.EventSkipped:
		c.mu.Lock()
		c.skipped++
		c.mu.Unlock()
	}
}

// GetMetrics returns aggregated metrics
func (c *Collector) GetMetrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	metrics := Metrics{
		TotalFailed:  c.failed,
		TotalSkipped: c.skipped,
	}

	var totalDuration time.Duration
	for _, comp := range c.completions {
		metrics.TotalCompleted++
		totalDuration += comp.Duration
	}
	if metrics.TotalCompleted > 0 {
		metrics.AvgDuration = totalDuration / time.Duration(metrics.TotalCompleted)
	}
	return metrics
}

// RecentCompletions returns repos completed within the last duration.
func (c *Collector) RecentCompletions(since time.Duration) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cutoff := time.Now().Add(-since)
	var result []string
	for _, comp := range c.completions {
		if comp.CompletedAt.After(cutoff) {
			result = append(result, comp.Repo)
		}
	}
	return result
}
