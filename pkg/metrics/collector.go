package metrics

import (
	"time"
)

// Stats is the read surface the collector polls. The broker
// implements it over its stores.
type Stats interface {
	CountUsersByRole() (map[string]int, error)
	CountObjects() (int, error)
	CountSessions() (int, error)
}

// Collector periodically refreshes inventory gauges from a Stats
// source
type Collector struct {
	stats  Stats
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(stats Stats) *Collector {
	return &Collector{
		stats:  stats,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectUserMetrics()
	c.collectObjectMetrics()
	c.collectSessionMetrics()
}

func (c *Collector) collectUserMetrics() {
	counts, err := c.stats.CountUsersByRole()
	if err != nil {
		return
	}
	for role, count := range counts {
		UsersTotal.WithLabelValues(role).Set(float64(count))
	}
}

func (c *Collector) collectObjectMetrics() {
	count, err := c.stats.CountObjects()
	if err != nil {
		return
	}
	ObjectsTotal.Set(float64(count))
}

func (c *Collector) collectSessionMetrics() {
	count, err := c.stats.CountSessions()
	if err != nil {
		return
	}
	SessionsActive.Set(float64(count))
}
