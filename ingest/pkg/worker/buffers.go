package worker

import "github.com/malbeclabs/lightcurvedb/pkg/lightcurve"

// buffers accumulates rows between flushes. Array lightcurves are unique by
// key; a later result for a buffered key replaces it in place.
type buffers struct {
	lightcurves  []lightcurve.ArrayOrbitLightcurve
	index        map[lightcurve.IDKey]int
	best         []lightcurve.BestOrbitLightcurve
	observations []lightcurve.Observation
}

func newBuffers() *buffers {
	return &buffers{index: make(map[lightcurve.IDKey]int)}
}

func (b *buffers) lookup(key lightcurve.IDKey) (lightcurve.Arrays, bool) {
	i, ok := b.index[key]
	if !ok {
		return lightcurve.Arrays{}, false
	}
	return b.lightcurves[i].Arrays, true
}

func (b *buffers) put(lc lightcurve.ArrayOrbitLightcurve) {
	key := lc.IDKey()
	if i, ok := b.index[key]; ok {
		b.lightcurves[i] = lc
		return
	}
	b.index[key] = len(b.lightcurves)
	b.lightcurves = append(b.lightcurves, lc)
}

// rows is the count the flush threshold is compared against.
func (b *buffers) rows() int {
	return len(b.lightcurves)
}

func (b *buffers) lightpoints() int {
	n := 0
	for _, lc := range b.lightcurves {
		n += lc.Len()
	}
	return n
}

func (b *buffers) empty() bool {
	return len(b.lightcurves) == 0 && len(b.best) == 0 && len(b.observations) == 0
}

func (b *buffers) reset() {
	b.lightcurves = nil
	b.index = make(map[lightcurve.IDKey]int)
	b.best = nil
	b.observations = nil
}
