package buffer

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

const (
	DefaultHistorySize = 100
	// BootstrapSlope is used until two samples exist, tripling the size per flush.
	BootstrapSlope = 2.0
	MinSize        = 1
	MaxSize        = 1000
)

// Sample is one timed bulk write of Rows rows.
type Sample struct {
	Rows  int
	Start time.Time
	End   time.Time
}

// Throughput returns rows per second, or 0 for a non-positive interval.
func (s Sample) Throughput() float64 {
	secs := s.End.Sub(s.Start).Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Rows) / secs
}

// Controller picks the next flush threshold from a rolling history of
// (row count, throughput) samples for one kind of write.
type Controller struct {
	mu      sync.Mutex
	size    int
	history []Sample
}

func NewController(historySize int) *Controller {
	if historySize < 2 {
		historySize = DefaultHistorySize
	}
	return &Controller{
		size:    historySize,
		history: make([]Sample, 0, historySize),
	}
}

// Record appends a sample, evicting the oldest once the history is full.
func (c *Controller) Record(rows int, start, end time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == c.size {
		copy(c.history, c.history[1:])
		c.history = c.history[:c.size-1]
	}
	c.history = append(c.history, Sample{Rows: rows, Start: start, End: end})
}

func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

// Samples returns a copy of the current history, oldest first.
func (c *Controller) Samples() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sample, len(c.history))
	copy(out, c.history)
	return out
}

// Trend is the least-squares slope of throughput against row count. With
// fewer than two samples it is BootstrapSlope. Degenerate histories (all
// row counts equal) have no defined slope and yield 0.
func (c *Controller) Trend() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) < 2 {
		return BootstrapSlope
	}
	xs := make([]float64, len(c.history))
	ys := make([]float64, len(c.history))
	for i, s := range c.history {
		xs[i] = float64(s.Rows)
		ys[i] = s.Throughput()
	}
	_, slope := stat.LinearRegression(xs, ys, nil, false)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 0
	}
	return slope
}

// NextSize returns current * (1 + Trend()) clamped to [MinSize, MaxSize].
func (c *Controller) NextSize(current int) int {
	return Clamp(float64(current) * (1 + c.Trend()))
}

// Clamp truncates n toward zero and bounds it to [MinSize, MaxSize].
func Clamp(n float64) int {
	switch {
	case math.IsNaN(n) || n < MinSize:
		return MinSize
	case n > MaxSize:
		return MaxSize
	}
	return int(n)
}
