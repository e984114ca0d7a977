package worker_test

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"testing"

	"github.com/malbeclabs/lightcurvedb/ingest/pkg/cache"
	"github.com/malbeclabs/lightcurvedb/ingest/pkg/correction"
	"github.com/malbeclabs/lightcurvedb/ingest/pkg/h5"
	"github.com/malbeclabs/lightcurvedb/ingest/pkg/store"
	"github.com/malbeclabs/lightcurvedb/pkg/lightcurve"
	"github.com/stretchr/testify/require"
)

type flushRecord struct {
	lightcurves  []lightcurve.ArrayOrbitLightcurve
	best         []lightcurve.BestOrbitLightcurve
	observations []lightcurve.Observation
	operations   []lightcurve.Operation
}

// fakeStore is an in-memory primary store shared by every worker in a test.
type fakeStore struct {
	mu sync.Mutex

	orbits    map[int]int64
	names     map[string]int64
	rows      map[lightcurve.IDKey]lightcurve.Arrays
	flushes   []flushRecord
	processes []lightcurve.Process
	completed []int64
	txCalls   int

	// TxErrFunc, when set, is called at the start of every transaction.
	TxErrFunc func(call int) error
}

func newFakeStore(orbits ...int) *fakeStore {
	s := &fakeStore{
		orbits: map[int]int64{},
		names:  map[string]int64{},
		rows:   map[lightcurve.IDKey]lightcurve.Arrays{},
	}
	for i, o := range orbits {
		s.orbits[o] = int64(100 + i)
	}
	return s
}

func (s *fakeStore) OrbitIDs(context.Context) (map[int]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.orbits), nil
}

func (s *fakeStore) StageID(context.Context, string) (int64, error) {
	return 7, nil
}

func (s *fakeStore) id(kind, name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := kind + "/" + name
	if id, ok := s.names[k]; ok {
		return id
	}
	id := int64(len(s.names) + 1)
	s.names[k] = id
	return id
}

func (s *fakeStore) ApertureID(_ context.Context, name string) (int64, error) {
	return s.id("aperture", name), nil
}

func (s *fakeStore) LightcurveTypeID(_ context.Context, name string) (int64, error) {
	return s.id("type", name), nil
}

func (s *fakeStore) nameOf(kind string, id int64) string {
	for k, v := range s.names {
		if v == id && len(k) > len(kind) && k[:len(kind)] == kind {
			return k[len(kind)+1:]
		}
	}
	return ""
}

func (s *fakeStore) Observed(_ context.Context, ticID int64) (map[lightcurve.Key]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[lightcurve.Key]struct{}{}
	for k := range s.rows {
		if k.TICID != ticID {
			continue
		}
		orbit := 0
		for n, id := range s.orbits {
			if id == k.OrbitID {
				orbit = n
			}
		}
		out[lightcurve.Key{
			TICID:       k.TICID,
			Camera:      k.Camera,
			CCD:         k.CCD,
			OrbitNumber: orbit,
			Aperture:    s.nameOf("aperture", k.ApertureID),
			Type:        s.nameOf("type", k.LightcurveTypeID),
		}] = struct{}{}
	}
	return out, nil
}

func (s *fakeStore) ArrayLightcurve(_ context.Context, key lightcurve.IDKey) (lightcurve.Arrays, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[key]
	return a, ok, nil
}

func (s *fakeStore) StartProcess(_ context.Context, stageID int64, params map[string]any, previousID int64) (lightcurve.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := lightcurve.Process{
		ID:                int64(len(s.processes) + 1),
		StageID:           stageID,
		State:             lightcurve.ProcessStateRunning,
		RuntimeParameters: params,
	}
	s.processes = append(s.processes, p)
	if previousID != 0 {
		s.completed = append(s.completed, previousID)
	}
	return p, nil
}

func (s *fakeStore) CompleteProcess(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, id)
	return nil
}

func (s *fakeStore) WithTx(ctx context.Context, fn func(w store.Writer) error) error {
	s.mu.Lock()
	s.txCalls++
	call := s.txCalls
	s.mu.Unlock()
	if s.TxErrFunc != nil {
		if err := s.TxErrFunc(call); err != nil {
			return err
		}
	}
	tx := &fakeTx{}
	if err := fn(tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lc := range tx.rec.lightcurves {
		s.rows[lc.IDKey()] = lc.Arrays
	}
	s.flushes = append(s.flushes, tx.rec)
	return nil
}

func (s *fakeStore) Flushes() []flushRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]flushRecord(nil), s.flushes...)
}

func (s *fakeStore) Row(t *testing.T, key lightcurve.IDKey) lightcurve.Arrays {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[key]
	require.True(t, ok, "no row for %+v", key)
	return a
}

type fakeTx struct {
	rec flushRecord
}

func (t *fakeTx) CopyArrayLightcurves(_ context.Context, lcs []lightcurve.ArrayOrbitLightcurve) (int64, error) {
	t.rec.lightcurves = append(t.rec.lightcurves, lcs...)
	return int64(len(lcs)), nil
}

func (t *fakeTx) InsertBestLightcurves(_ context.Context, best []lightcurve.BestOrbitLightcurve) (int64, error) {
	t.rec.best = append(t.rec.best, best...)
	return int64(len(best)), nil
}

func (t *fakeTx) UpsertObservations(_ context.Context, obs []lightcurve.Observation) (int64, error) {
	obs = lightcurve.DedupObservations(obs)
	t.rec.observations = append(t.rec.observations, obs...)
	return int64(len(obs)), nil
}

func (t *fakeTx) InsertOperations(_ context.Context, ops []lightcurve.Operation) error {
	t.rec.operations = append(t.rec.operations, ops...)
	return nil
}

// fakeFiles maps paths to photometry or an open error.
type fakeFiles struct {
	mu    sync.Mutex
	files map[string]*h5.Photometry
	errs  map[string]error
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{files: map[string]*h5.Photometry{}, errs: map[string]error{}}
}

func (f *fakeFiles) Open(path string) (*h5.Photometry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[path]; ok {
		return nil, err
	}
	p, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", h5.ErrMalformed, path)
	}
	return p, nil
}

// add registers a file holding one series per type plus a background series.
func (f *fakeFiles) add(path string, cadences []int64, types map[string][]float64) {
	n := len(cadences)
	fill := func(v float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = v
		}
		return out
	}
	p := &h5.Photometry{
		Cadences:     cadences,
		BJD:          make([]float64, n),
		BestAperture: 2,
		BestType:     h5.DefaultBestType,
	}
	for i, c := range cadences {
		p.BJD[i] = 1000 + float64(c)/48
	}
	for typ, data := range types {
		p.Series = append(p.Series, h5.Series{
			Aperture: "Aperture_002", Type: typ, Data: data,
			Errors: fill(0.1), XCentroids: fill(1), YCentroids: fill(2),
		})
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = p
}

func (f *fakeFiles) addBackgroundOnly(path string, cadences []int64) {
	n := len(cadences)
	data := make([]float64, n)
	p := &h5.Photometry{Cadences: cadences, BJD: make([]float64, n), BestType: h5.DefaultBestType}
	p.Series = []h5.Series{{
		Aperture: h5.BackgroundAperture, Type: h5.BackgroundType,
		Data: data, Errors: data, XCentroids: data, YCentroids: data,
	}}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = p
}

type mockFlags struct {
	FlagsFunc func(ctx context.Context, camera, ccd int, cadences []int64) ([]int32, error)
}

func (m *mockFlags) Flags(ctx context.Context, camera, ccd int, cadences []int64) ([]int32, error) {
	if m.FlagsFunc != nil {
		return m.FlagsFunc(ctx, camera, ccd, cadences)
	}
	return make([]int32, len(cadences)), nil
}

func missingFlags() *mockFlags {
	return &mockFlags{FlagsFunc: func(_ context.Context, camera, ccd int, cadences []int64) ([]int32, error) {
		return nil, fmt.Errorf("%w: camera %d ccd %d cadence %d", cache.ErrMissingQualityFlag, camera, ccd, cadences[0])
	}}
}

// stationaryCorrector has a spacecraft at the barycenter, so corrected times
// equal the input times.
func stationaryCorrector(t *testing.T) *correction.Corrector {
	t.Helper()
	c, err := correction.NewCorrector(logger, correction.Ephemeris{
		JD: []float64{2457000, 2467000},
		X:  []float64{0, 0},
		Y:  []float64{0, 0},
		Z:  []float64{0, 0},
	})
	require.NoError(t, err)
	return c
}
