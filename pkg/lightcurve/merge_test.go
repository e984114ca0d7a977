package lightcurve_test

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/malbeclabs/lightcurvedb/pkg/lightcurve"
	"github.com/stretchr/testify/require"
)

func arraysFrom(cadences []int64, data []float64) lightcurve.Arrays {
	n := len(cadences)
	a := lightcurve.Arrays{
		Cadences:     cadences,
		BJD:          make([]float64, n),
		Data:         data,
		Errors:       make([]float64, n),
		XCentroids:   make([]float64, n),
		YCentroids:   make([]float64, n),
		QualityFlags: make([]int32, n),
	}
	for i, c := range cadences {
		a.BJD[i] = float64(c) / 100
		a.QualityFlags[i] = int32(c % 3)
	}
	return a
}

func TestLightcurve_MergeIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ref  []int64
		want []int
	}{
		{name: "empty", ref: nil, want: []int{}},
		{name: "single", ref: []int64{7}, want: []int{0}},
		{name: "duplicate keeps last", ref: []int64{1, 1}, want: []int{1}},
		{name: "reverse sorted", ref: []int64{3, 2, 1}, want: []int{2, 1, 0}},
		{name: "unsorted", ref: []int64{3, 1, 2}, want: []int{1, 2, 0}},
		{name: "interleaved duplicates", ref: []int64{2, 1, 2, 1, 3}, want: []int{3, 2, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, lightcurve.MergeIndex(tt.ref))
		})
	}
}

func TestLightcurve_Merge(t *testing.T) {
	t.Parallel()

	t.Run("last wins", func(t *testing.T) {
		t.Parallel()
		got, err := lightcurve.Merge(
			arraysFrom([]int64{1}, []float64{10}),
			arraysFrom([]int64{1}, []float64{20}),
		)
		require.NoError(t, err)
		require.Equal(t, []int64{1}, got.Cadences)
		require.Equal(t, []float64{20}, got.Data)
	})

	t.Run("sorts by cadence", func(t *testing.T) {
		t.Parallel()
		got, err := lightcurve.Merge(arraysFrom([]int64{3, 1, 2}, []float64{30, 10, 20}))
		require.NoError(t, err)
		require.Equal(t, []int64{1, 2, 3}, got.Cadences)
		require.Equal(t, []float64{10, 20, 30}, got.Data)
		require.Equal(t, []float64{0.01, 0.02, 0.03}, got.BJD)
		require.Equal(t, []int32{1, 2, 0}, got.QualityFlags)
	})

	t.Run("idempotent", func(t *testing.T) {
		t.Parallel()
		a := arraysFrom([]int64{1, 2, 5, 9}, []float64{1.5, math.NaN(), 3, 4})
		got, err := lightcurve.Merge(a, a)
		require.NoError(t, err)
		if diff := cmp.Diff(a, got, cmpopts.EquateNaNs()); diff != "" {
			t.Fatalf("unexpected merge result (-want +got):\n%s", diff)
		}
	})

	t.Run("later NaN overwrites earlier value", func(t *testing.T) {
		t.Parallel()
		got, err := lightcurve.Merge(
			arraysFrom([]int64{1, 2}, []float64{10, 20}),
			arraysFrom([]int64{2}, []float64{math.NaN()}),
		)
		require.NoError(t, err)
		require.Equal(t, []int64{1, 2}, got.Cadences)
		require.Equal(t, 10.0, got.Data[0])
		require.True(t, math.IsNaN(got.Data[1]))
	})

	t.Run("extends existing arrays", func(t *testing.T) {
		t.Parallel()
		got, err := lightcurve.Merge(
			arraysFrom([]int64{10, 11, 12}, []float64{1, 2, 3}),
			arraysFrom([]int64{12, 13}, []float64{30, 4}),
		)
		require.NoError(t, err)
		require.Equal(t, []int64{10, 11, 12, 13}, got.Cadences)
		require.Equal(t, []float64{1, 2, 30, 4}, got.Data)
	})

	t.Run("random input is strictly ascending and aligned", func(t *testing.T) {
		t.Parallel()
		rng := rand.New(rand.NewSource(42))
		cad := make([]int64, 500)
		data := make([]float64, 500)
		for i := range cad {
			cad[i] = rng.Int63n(200)
			data[i] = float64(cad[i]) * 2
		}
		got, err := lightcurve.Merge(arraysFrom(cad, data))
		require.NoError(t, err)
		require.NoError(t, got.Validate())
		for i := 1; i < got.Len(); i++ {
			require.Less(t, got.Cadences[i-1], got.Cadences[i])
		}
		for i, c := range got.Cadences {
			require.Equal(t, float64(c)*2, got.Data[i])
		}
	})

	t.Run("misaligned columns rejected", func(t *testing.T) {
		t.Parallel()
		a := arraysFrom([]int64{1, 2}, []float64{1, 2})
		a.Errors = a.Errors[:1]
		_, err := lightcurve.Merge(a)
		require.Error(t, err)
	})
}

func TestLightcurve_DedupObservations(t *testing.T) {
	t.Parallel()

	got := lightcurve.DedupObservations([]lightcurve.Observation{
		{TICID: 1, OrbitID: 10, Camera: 1, CCD: 1},
		{TICID: 2, OrbitID: 10, Camera: 2, CCD: 2},
		{TICID: 1, OrbitID: 10, Camera: 3, CCD: 4},
		{TICID: 1, OrbitID: 11, Camera: 1, CCD: 1},
	})
	require.Equal(t, []lightcurve.Observation{
		{TICID: 1, OrbitID: 10, Camera: 3, CCD: 4},
		{TICID: 2, OrbitID: 10, Camera: 2, CCD: 2},
		{TICID: 1, OrbitID: 11, Camera: 1, CCD: 1},
	}, got)
}

func TestLightcurve_Operation_Throughput(t *testing.T) {
	t.Parallel()

	op := lightcurve.Operation{JobSize: 50}
	require.Zero(t, op.Throughput())

	op.TimeEnd = op.TimeStart.Add(2 * time.Second)
	require.InDelta(t, 25.0, op.Throughput(), 1e-9)
}
