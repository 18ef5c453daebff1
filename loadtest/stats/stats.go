// Package stats aggregates load test measurements from many clients and
// prints a summary with percentile distributions.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Series names used by the load test commands.
const (
	Connect = "connect" // dial to connected greeting
	Deliver = "deliver" // sendMessage to newMessage at the other participant
	Seen    = "seen"    // markAsRead to messagesMarkedAsSeen at the sender
	Join    = "join"    // joinRoom to initialData
	Online  = "online"  // owner joinRoom to onlineStatuses showing them online at the inquirer
)

// Collector is safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	series    map[string][]time.Duration
	counters  map[string]int
	startTime time.Time
	health    *HealthPoller
}

// NewCollector creates a Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{
		series:    make(map[string][]time.Duration),
		counters:  make(map[string]int),
		startTime: time.Now(),
	}
}

// SetHealthPoller attaches server-side samples to the report.
func (c *Collector) SetHealthPoller(h *HealthPoller) {
	c.mu.Lock()
	c.health = h
	c.mu.Unlock()
}

// Observe records one latency sample.
func (c *Collector) Observe(series string, d time.Duration) {
	c.mu.Lock()
	c.series[series] = append(c.series[series], d)
	c.mu.Unlock()
}

// Inc increments a named counter, e.g. "errors" or "rate_limited".
func (c *Collector) Inc(counter string) {
	c.mu.Lock()
	c.counters[counter]++
	c.mu.Unlock()
}

// Count returns a counter value.
func (c *Collector) Count(counter string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[counter]
}

// Samples returns the number of samples in a series.
func (c *Collector) Samples(series string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.series[series])
}

// Report prints the summary to stdout.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:     %s\n", time.Since(c.startTime).Round(time.Second))

	names := make([]string, 0, len(c.counters))
	for k := range c.counters {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Printf("%-13s %d\n", k+":", c.counters[k])
	}

	names = names[:0]
	for k := range c.series {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Printf("\n--- %s latency ---\n", k)
		p := Summarize(c.series[k])
		fmt.Printf("  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
			p.Avg.Round(time.Microsecond), p.P50.Round(time.Microsecond), p.P95.Round(time.Microsecond),
			p.P99.Round(time.Microsecond), p.Max.Round(time.Microsecond), p.N)
	}

	if c.health != nil {
		c.health.Report()
	}
	fmt.Println()
}

// Percentiles summarises a latency series.
type Percentiles struct {
	N                       int
	Avg, P50, P95, P99, Max time.Duration
}

// Summarize computes percentiles over a copy of durations.
func Summarize(durations []time.Duration) Percentiles {
	n := len(durations)
	if n == 0 {
		return Percentiles{}
	}
	d := append([]time.Duration(nil), durations...)
	sort.Slice(d, func(i, j int) bool { return d[i] < d[j] })

	var sum time.Duration
	for _, v := range d {
		sum += v
	}
	rank := func(q float64) time.Duration { return d[int(math.Ceil(float64(n)*q))-1] }
	return Percentiles{
		N:   n,
		Avg: sum / time.Duration(n),
		P50: d[n/2],
		P95: rank(0.95),
		P99: rank(0.99),
		Max: d[n-1],
	}
}
