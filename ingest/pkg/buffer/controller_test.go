package buffer_test

import (
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/malbeclabs/lightcurvedb/ingest/pkg/buffer"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func record(c *buffer.Controller, rows int, elapsed time.Duration) {
	c.Record(rows, t0, t0.Add(elapsed))
}

func TestIngest_Buffer_Controller(t *testing.T) {
	t.Parallel()

	t.Run("bootstrap slope with fewer than two samples", func(t *testing.T) {
		t.Parallel()
		c := buffer.NewController(buffer.DefaultHistorySize)
		require.Equal(t, buffer.BootstrapSlope, c.Trend())
		require.Equal(t, 30, c.NextSize(10))

		record(c, 10, time.Second)
		require.Equal(t, buffer.BootstrapSlope, c.Trend())
		require.Equal(t, 3, c.NextSize(1))
	})

	t.Run("fits slope of throughput against rows", func(t *testing.T) {
		t.Parallel()
		c := buffer.NewController(buffer.DefaultHistorySize)
		record(c, 10, time.Second)
		record(c, 20, time.Second)
		record(c, 30, time.Second)
		require.InDelta(t, 1.0, c.Trend(), 1e-9)
		require.Equal(t, 20, c.NextSize(10))
	})

	t.Run("negative slope shrinks to lower bound", func(t *testing.T) {
		t.Parallel()
		c := buffer.NewController(buffer.DefaultHistorySize)
		record(c, 10, time.Second)
		record(c, 20, 10*time.Second)
		require.Less(t, c.Trend(), 0.0)
		require.Equal(t, buffer.MinSize, c.NextSize(1))
	})

	t.Run("clamped to upper bound", func(t *testing.T) {
		t.Parallel()
		c := buffer.NewController(buffer.DefaultHistorySize)
		require.Equal(t, buffer.MaxSize, c.NextSize(900))
	})

	t.Run("degenerate samples do not panic", func(t *testing.T) {
		t.Parallel()
		c := buffer.NewController(buffer.DefaultHistorySize)
		for i := 0; i < 5; i++ {
			record(c, 50, time.Second)
		}
		require.Equal(t, 0.0, c.Trend())
		require.Equal(t, 50, c.NextSize(50))

		z := buffer.NewController(buffer.DefaultHistorySize)
		record(z, 10, 0)
		record(z, 20, 0)
		require.False(t, math.IsNaN(z.Trend()))
	})

	t.Run("history is bounded", func(t *testing.T) {
		t.Parallel()
		c := buffer.NewController(3)
		for i := 1; i <= 5; i++ {
			record(c, i, time.Second)
		}
		require.Equal(t, 3, c.Len())
		samples := c.Samples()
		require.Equal(t, []int{3, 4, 5}, []int{samples[0].Rows, samples[1].Rows, samples[2].Rows})
	})

	t.Run("always within bounds", func(t *testing.T) {
		t.Parallel()
		rng := rand.New(rand.NewSource(7))
		c := buffer.NewController(buffer.DefaultHistorySize)
		size := 1
		for i := 0; i < 500; i++ {
			record(c, rng.Intn(2000), time.Duration(rng.Int63n(int64(5*time.Second))))
			size = c.NextSize(size)
			require.GreaterOrEqual(t, size, buffer.MinSize)
			require.LessOrEqual(t, size, buffer.MaxSize)
			require.LessOrEqual(t, c.Len(), buffer.DefaultHistorySize)
		}
	})

	t.Run("safe for concurrent use", func(t *testing.T) {
		t.Parallel()
		c := buffer.NewController(10)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					record(c, i*j, time.Second)
					_ = c.NextSize(10)
				}
			}(i)
		}
		wg.Wait()
		require.Equal(t, 10, c.Len())
	})
}

func TestIngest_Buffer_Clamp(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, buffer.Clamp(-5))
	require.Equal(t, 1, buffer.Clamp(0.5))
	require.Equal(t, 1, buffer.Clamp(math.NaN()))
	require.Equal(t, 7, buffer.Clamp(7.9))
	require.Equal(t, 1000, buffer.Clamp(1000))
	require.Equal(t, 1000, buffer.Clamp(math.Inf(1)))
}
