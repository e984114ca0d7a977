package h5_test

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"testing"

	"github.com/malbeclabs/lightcurvedb/ingest/pkg/h5"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	floats  map[string][]float64
	ints    map[string][]int64
	attrs   map[string]any
	closed  bool
	failing map[string]error
}

func (f *fakeSource) Floats(path string) ([]float64, error) {
	if err, ok := f.failing[path]; ok {
		return nil, err
	}
	v, ok := f.floats[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", h5.ErrNotExist, path)
	}
	return v, nil
}

func (f *fakeSource) Ints(path string) ([]int64, error) {
	v, ok := f.ints[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", h5.ErrNotExist, path)
	}
	return v, nil
}

func (f *fakeSource) Children(group string) ([]string, error) {
	prefix := group + "/"
	seen := map[string]struct{}{}
	for _, m := range []map[string][]float64{f.floats} {
		for k := range m {
			if rest, ok := strings.CutPrefix(k, prefix); ok {
				seen[strings.Split(rest, "/")[0]] = struct{}{}
			}
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("%w: %s", h5.ErrNotExist, group)
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeSource) IntAttr(path, name string) (int64, error) {
	v, ok := f.attrs[path+"@"+name].(int64)
	if !ok {
		return 0, h5.ErrNotExist
	}
	return v, nil
}

func (f *fakeSource) StringAttr(path, name string) (string, error) {
	v, ok := f.attrs[path+"@"+name].(string)
	if !ok {
		return "", h5.ErrNotExist
	}
	return v, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		ints: map[string][]int64{
			"LightCurve/Cadence": {100, 101, 102},
		},
		floats: map[string][]float64{
			"LightCurve/BJD":                                        {1.0, 1.1, 1.2},
			"LightCurve/X":                                          {5, 5, 5},
			"LightCurve/Y":                                          {6, 6, 6},
			"LightCurve/Background/Value":                           {0.5, 0.6, 0.7},
			"LightCurve/Background/Error":                           {0.05, 0.06, 0.07},
			"LightCurve/AperturePhotometry/Aperture_001/X":          {1, 1, 1},
			"LightCurve/AperturePhotometry/Aperture_001/Y":          {2, 2, 2},
			"LightCurve/AperturePhotometry/Aperture_001/KSPMagnitude": {10, 10.1, 10.2},
			"LightCurve/AperturePhotometry/Aperture_001/RawMagnitude": {11, 11.1, 11.2},
			"LightCurve/AperturePhotometry/Aperture_001/RawMagnitudeError": {0.1, 0.1, 0.1},
			"LightCurve/AperturePhotometry/Aperture_002/X":          {3, 3, 3},
			"LightCurve/AperturePhotometry/Aperture_002/Y":          {4, 4, 4},
			"LightCurve/AperturePhotometry/Aperture_002/KSPMagnitude": {12, 12.1, 12.2},
		},
		attrs: map[string]any{},
	}
}

func TestIngest_H5_Read(t *testing.T) {
	t.Parallel()

	t.Run("walks apertures, types and background", func(t *testing.T) {
		t.Parallel()
		p, err := h5.Read(newFakeSource())
		require.NoError(t, err)
		require.Equal(t, []int64{100, 101, 102}, p.Cadences)
		require.Equal(t, []float64{1.0, 1.1, 1.2}, p.BJD)

		got := map[string]h5.Series{}
		for _, s := range p.Series {
			got[s.Aperture+"/"+s.Type] = s
		}
		require.Len(t, got, 4)

		raw := got["Aperture_001/RawMagnitude"]
		require.Equal(t, []float64{0.1, 0.1, 0.1}, raw.Errors)
		require.Equal(t, []float64{1, 1, 1}, raw.XCentroids)

		ksp := got["Aperture_002/KSPMagnitude"]
		require.Len(t, ksp.Errors, 3)
		for _, e := range ksp.Errors {
			require.True(t, math.IsNaN(e))
		}
		require.Equal(t, []float64{4, 4, 4}, ksp.YCentroids)

		bg := got["BackgroundAperture/Background"]
		require.Equal(t, []float64{0.5, 0.6, 0.7}, bg.Data)
		require.Equal(t, []float64{0.05, 0.06, 0.07}, bg.Errors)
		require.Equal(t, []float64{5, 5, 5}, bg.XCentroids)
		require.Equal(t, p.Series[len(p.Series)-1].Type, h5.BackgroundType)

		require.Zero(t, p.BestAperture)
		require.Equal(t, h5.DefaultBestType, p.BestType)
	})

	t.Run("aperture name attribute overrides group name", func(t *testing.T) {
		t.Parallel()
		src := newFakeSource()
		src.attrs["LightCurve/AperturePhotometry/Aperture_002@name"] = "Aperture_Custom"
		p, err := h5.Read(src)
		require.NoError(t, err)
		var names []string
		for _, s := range p.Series {
			names = append(names, s.Aperture)
		}
		require.Contains(t, names, "Aperture_Custom")
		require.NotContains(t, names, "Aperture_002")
	})

	t.Run("best attributes", func(t *testing.T) {
		t.Parallel()
		src := newFakeSource()
		src.attrs["LightCurve/AperturePhotometry@bestap"] = int64(2)
		src.attrs["LightCurve/AperturePhotometry@primarydetrending"] = "Raw"
		p, err := h5.Read(src)
		require.NoError(t, err)
		require.Equal(t, 2, p.BestAperture)
		require.Equal(t, "RawMagnitude", p.BestType)

		src.attrs["LightCurve/AperturePhotometry@bestdmagkey"] = "QSPMagnitude"
		p, err = h5.Read(src)
		require.NoError(t, err)
		require.Equal(t, "QSPMagnitude", p.BestType)
	})

	t.Run("missing cadences is malformed", func(t *testing.T) {
		t.Parallel()
		src := newFakeSource()
		delete(src.ints, "LightCurve/Cadence")
		_, err := h5.Read(src)
		require.ErrorIs(t, err, h5.ErrMalformed)
	})

	t.Run("length mismatch is malformed", func(t *testing.T) {
		t.Parallel()
		src := newFakeSource()
		src.floats["LightCurve/AperturePhotometry/Aperture_001/KSPMagnitude"] = []float64{1}
		_, err := h5.Read(src)
		require.ErrorIs(t, err, h5.ErrMalformed)
	})

	t.Run("missing background is malformed", func(t *testing.T) {
		t.Parallel()
		src := newFakeSource()
		delete(src.floats, "LightCurve/Background/Value")
		_, err := h5.Read(src)
		require.ErrorIs(t, err, h5.ErrMalformed)
	})

	t.Run("unreadable error dataset is malformed", func(t *testing.T) {
		t.Parallel()
		src := newFakeSource()
		src.failing = map[string]error{
			"LightCurve/AperturePhotometry/Aperture_002/KSPMagnitudeError": errors.New("corrupt"),
		}
		_, err := h5.Read(src)
		require.ErrorIs(t, err, h5.ErrMalformed)
	})
}

func TestIngest_H5_OpenerFunc(t *testing.T) {
	t.Parallel()

	want := &h5.Photometry{Cadences: []int64{1}}
	var o h5.Opener = h5.OpenerFunc(func(path string) (*h5.Photometry, error) {
		require.Equal(t, "/a.h5", path)
		return want, nil
	})
	got, err := o.Open("/a.h5")
	require.NoError(t, err)
	require.Same(t, want, got)
}
