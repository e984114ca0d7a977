package jobs_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/malbeclabs/lightcurvedb/ingest/pkg/cache"
	"github.com/malbeclabs/lightcurvedb/ingest/pkg/jobs"
	"github.com/malbeclabs/lightcurvedb/pkg/lightcurve"
	"github.com/stretchr/testify/require"
)

type mockCatalog struct {
	StarFunc func(ctx context.Context, ticID int64) (cache.Star, error)
}

func (m *mockCatalog) Star(ctx context.Context, ticID int64) (cache.Star, error) {
	return m.StarFunc(ctx, ticID)
}

func catalogOf(stars ...cache.Star) *mockCatalog {
	byID := map[int64]cache.Star{}
	for _, s := range stars {
		byID[s.TICID] = s
	}
	return &mockCatalog{StarFunc: func(_ context.Context, tic int64) (cache.Star, error) {
		s, ok := byID[tic]
		if !ok {
			return cache.Star{}, fmt.Errorf("%w: tic %d", cache.ErrUnknownStar, tic)
		}
		return s, nil
	}}
}

func TestIngest_Jobs_ContextFromPath(t *testing.T) {
	t.Parallel()

	obs, err := jobs.ContextFromPath("/data/orbit-9/ffi/cam1/ccd3/LC/12345.h5")
	require.NoError(t, err)
	require.Equal(t, lightcurve.FileObservation{
		TICID: 12345, OrbitNumber: 9, Camera: 1, CCD: 3,
		Path: "/data/orbit-9/ffi/cam1/ccd3/LC/12345.h5",
	}, obs)

	for _, bad := range []string{
		"/data/ffi/cam1/ccd3/LC/12345.h5",
		"/data/orbit-9/ffi/cam5/ccd3/LC/12345.h5",
		"/data/orbit-9/ffi/cam1/ccd0/LC/12345.h5",
		"/data/orbit-9/ffi/cam1/ccd3/LC/star.h5",
	} {
		_, err := jobs.ContextFromPath(bad)
		require.Error(t, err, bad)
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func TestIngest_Jobs_Discover(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	lc := filepath.Join(root, "orbit-9", "ffi", "cam1", "ccd3", "LC")
	touch(t, filepath.Join(lc, "100.h5"))
	touch(t, filepath.Join(lc, "200.h5"))
	touch(t, filepath.Join(lc, "notes.txt"))
	touch(t, filepath.Join(lc, "bogus.h5"))
	other := filepath.Join(root, "orbit-10", "ffi", "cam2", "ccd1", "LC")
	touch(t, filepath.Join(other, "100.h5"))

	t.Run("recursive", func(t *testing.T) {
		t.Parallel()
		files, err := jobs.Discover(context.Background(), logger, []string{root}, true, 2)
		require.NoError(t, err)
		require.Len(t, files, 3)
		require.Equal(t, []int{9, 10}, jobs.Orbits(files))
	})

	t.Run("flat directories keep root order", func(t *testing.T) {
		t.Parallel()
		files, err := jobs.Discover(context.Background(), logger, []string{other, lc}, false, 4)
		require.NoError(t, err)
		require.Len(t, files, 3)
		require.Equal(t, 10, files[0].OrbitNumber)
		require.Equal(t, int64(100), files[1].TICID)
		require.Equal(t, int64(200), files[2].TICID)
	})

	t.Run("missing root", func(t *testing.T) {
		t.Parallel()
		_, err := jobs.Discover(context.Background(), logger, []string{filepath.Join(root, "nope")}, false, 1)
		require.Error(t, err)
	})
}

func TestIngest_Jobs_BuildPlan(t *testing.T) {
	t.Parallel()

	files := []lightcurve.FileObservation{
		{TICID: 2, OrbitNumber: 10, Camera: 1, CCD: 1, Path: "a"},
		{TICID: 1, OrbitNumber: 10, Camera: 1, CCD: 1, Path: "b"},
		{TICID: 2, OrbitNumber: 9, Camera: 1, CCD: 1, Path: "c"},
		{TICID: 2, OrbitNumber: 9, Camera: 1, CCD: 1, Path: "c2"},
		{TICID: 1, OrbitNumber: 9, Camera: 1, CCD: 1, Path: "d"},
		{TICID: 3, OrbitNumber: 9, Camera: 1, CCD: 1, Path: "e"},
	}
	observed := map[lightcurve.StarOrbit]struct{}{{TICID: 1, OrbitNumber: 9}: {}}
	catalog := catalogOf(
		cache.Star{TICID: 1, RA: 10, Dec: 20, TMag: 9},
		cache.Star{TICID: 2, RA: 30, Dec: -40, TMag: 12},
	)

	plan, err := jobs.BuildPlan(context.Background(), logger, files, catalog, observed)
	require.NoError(t, err)
	require.Len(t, plan.Jobs, 2)
	require.Equal(t, int64(1), plan.Jobs[0].TICID)
	require.Equal(t, []string{"b"}, paths(plan.Jobs[0]))
	require.Equal(t, int64(2), plan.Jobs[1].TICID)
	require.Equal(t, 30.0, plan.Jobs[1].RA)
	require.Equal(t, []string{"c2", "a"}, paths(plan.Jobs[1]))
	require.Equal(t, 3, plan.FileObservations)
	require.Equal(t, 1, plan.SkippedObserved)
	require.Equal(t, 1, plan.SkippedDuplicate)
	require.Equal(t, 1, plan.SkippedNoCatalog)
	require.Equal(t, []int{9, 10}, plan.Orbits)

	var buf bytes.Buffer
	plan.Render(&buf)
	require.Contains(t, buf.String(), "9,10")
}

func TestIngest_Jobs_BuildPlan_CatalogError(t *testing.T) {
	t.Parallel()

	catalog := &mockCatalog{StarFunc: func(context.Context, int64) (cache.Star, error) {
		return cache.Star{}, fmt.Errorf("disk gone")
	}}
	_, err := jobs.BuildPlan(context.Background(), logger,
		[]lightcurve.FileObservation{{TICID: 1, OrbitNumber: 1, Camera: 1, CCD: 1}}, catalog, nil)
	require.ErrorContains(t, err, "disk gone")
}

func paths(job lightcurve.MergeJob) []string {
	out := make([]string, len(job.Observations))
	for i, o := range job.Observations {
		out[i] = o.Path
	}
	return out
}
