package h5

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrMalformed = errors.New("malformed photometry file")
	ErrNotExist  = errors.New("object does not exist")
)

const (
	BackgroundAperture = "BackgroundAperture"
	BackgroundType     = "Background"
	DefaultBestType    = "KSPMagnitude"

	lightcurveGroup = "LightCurve"
	photometryGroup = lightcurveGroup + "/AperturePhotometry"
	backgroundGroup = lightcurveGroup + "/Background"
)

// Series is one (aperture, detrending type) timeseries aligned with the
// file's cadences.
type Series struct {
	Aperture   string
	Type       string
	Data       []float64
	Errors     []float64
	XCentroids []float64
	YCentroids []float64
}

// Photometry is the content of one per-star photometry file.
type Photometry struct {
	Cadences []int64
	BJD      []float64
	Series   []Series
	// BestAperture is the aperture number from the bestap attribute, or 0 if absent.
	BestAperture int
	BestType     string
}

// Source is the minimal hierarchical-file access needed to read photometry.
// Paths are slash-separated from the file root.
type Source interface {
	Floats(path string) ([]float64, error)
	Ints(path string) ([]int64, error)
	Children(group string) ([]string, error)
	IntAttr(path, name string) (int64, error)
	StringAttr(path, name string) (string, error)
	Close() error
}

func skipType(name string) bool {
	lower := strings.ToLower(name)
	for _, token := range []string{"error", "x", "y"} {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

func nans(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// Read extracts cadences, times and every aperture/type series from src,
// followed by the background series.
func Read(src Source) (*Photometry, error) {
	cadences, err := src.Ints(lightcurveGroup + "/Cadence")
	if err != nil {
		return nil, malformed("cadences: %v", err)
	}
	n := len(cadences)
	bjd, err := src.Floats(lightcurveGroup + "/BJD")
	if err != nil {
		return nil, malformed("bjd: %v", err)
	}
	if len(bjd) != n {
		return nil, malformed("bjd has %d values for %d cadences", len(bjd), n)
	}
	p := &Photometry{Cadences: cadences, BJD: bjd, BestType: DefaultBestType}

	column := func(path string) ([]float64, error) {
		v, err := src.Floats(path)
		if err != nil {
			return nil, malformed("%s: %v", path, err)
		}
		if len(v) != n {
			return nil, malformed("%s has %d values for %d cadences", path, len(v), n)
		}
		return v, nil
	}

	apertures, err := src.Children(photometryGroup)
	if err != nil {
		return nil, malformed("aperture photometry: %v", err)
	}
	for _, group := range apertures {
		base := photometryGroup + "/" + group
		name := group
		if attr, err := src.StringAttr(base, "name"); err == nil && attr != "" {
			name = attr
		}
		x, err := column(base + "/X")
		if err != nil {
			return nil, err
		}
		y, err := column(base + "/Y")
		if err != nil {
			return nil, err
		}
		types, err := src.Children(base)
		if err != nil {
			return nil, malformed("%s: %v", base, err)
		}
		for _, typ := range types {
			if skipType(typ) {
				continue
			}
			data, err := column(base + "/" + typ)
			if err != nil {
				return nil, err
			}
			errs, err := src.Floats(base + "/" + typ + "Error")
			switch {
			case errors.Is(err, ErrNotExist):
				errs = nans(n)
			case err != nil:
				return nil, malformed("%s error: %v", typ, err)
			case len(errs) != n:
				return nil, malformed("%s error has %d values for %d cadences", typ, len(errs), n)
			}
			p.Series = append(p.Series, Series{
				Aperture: name, Type: typ, Data: data, Errors: errs, XCentroids: x, YCentroids: y,
			})
		}
	}

	bg := Series{Aperture: BackgroundAperture, Type: BackgroundType}
	if bg.XCentroids, err = column(lightcurveGroup + "/X"); err != nil {
		return nil, err
	}
	if bg.YCentroids, err = column(lightcurveGroup + "/Y"); err != nil {
		return nil, err
	}
	if bg.Data, err = column(backgroundGroup + "/Value"); err != nil {
		return nil, err
	}
	if bg.Errors, err = column(backgroundGroup + "/Error"); err != nil {
		return nil, err
	}
	p.Series = append(p.Series, bg)

	if bestap, err := src.IntAttr(photometryGroup, "bestap"); err == nil {
		p.BestAperture = int(bestap)
	}
	if key, err := src.StringAttr(photometryGroup, "bestdmagkey"); err == nil && key != "" {
		p.BestType = key
	} else if primary, err := src.StringAttr(photometryGroup, "primarydetrending"); err == nil && primary != "" {
		p.BestType = primary + "Magnitude"
	}
	return p, nil
}

// Opener opens photometry files by path.
type Opener interface {
	Open(path string) (*Photometry, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(path string) (*Photometry, error)

func (f OpenerFunc) Open(path string) (*Photometry, error) {
	return f(path)
}
