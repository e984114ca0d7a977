package correction

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/malbeclabs/lightcurvedb/config"
	"gonum.org/v1/gonum/interp"
)

var (
	ErrOutsideEphemeris = errors.New("time outside spacecraft ephemeris coverage")
)

// Ephemeris is a spacecraft position table sampled at strictly increasing
// barycentric Julian dates (TDB). Positions are in AU.
type Ephemeris struct {
	JD []float64
	X  []float64
	Y  []float64
	Z  []float64
}

func (e Ephemeris) Len() int {
	return len(e.JD)
}

// Validate checks column alignment and that JD is strictly increasing.
func (e Ephemeris) Validate() error {
	n := len(e.JD)
	if len(e.X) != n || len(e.Y) != n || len(e.Z) != n {
		return fmt.Errorf("ephemeris columns differ in length: jd=%d x=%d y=%d z=%d", n, len(e.X), len(e.Y), len(e.Z))
	}
	for i := 1; i < n; i++ {
		if !(e.JD[i] > e.JD[i-1]) {
			return fmt.Errorf("ephemeris times not strictly increasing at index %d (%f after %f)", i, e.JD[i], e.JD[i-1])
		}
	}
	return nil
}

// Corrector converts mission-relative mid-exposure times into barycentric
// times using a light-travel-time correction toward each star.
type Corrector struct {
	log      *slog.Logger
	start    float64
	end      float64
	x, y, z  interp.PiecewiseLinear
	epoch    float64
	lightDay float64
}

func NewCorrector(log *slog.Logger, eph Ephemeris) (*Corrector, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if eph.Len() < 2 {
		return nil, fmt.Errorf("ephemeris requires at least 2 samples, got %d", eph.Len())
	}
	if err := eph.Validate(); err != nil {
		return nil, err
	}
	c := &Corrector{
		log:      log,
		start:    eph.JD[0],
		end:      eph.JD[eph.Len()-1],
		epoch:    config.MissionEpochOffsetDays,
		lightDay: config.LightspeedAUPerDay,
	}
	for axis, fit := range map[string]struct {
		pl *interp.PiecewiseLinear
		ys []float64
	}{
		"x": {&c.x, eph.X},
		"y": {&c.y, eph.Y},
		"z": {&c.z, eph.Z},
	} {
		if err := fit.pl.Fit(eph.JD, fit.ys); err != nil {
			return nil, fmt.Errorf("failed to build %s interpolator: %w", axis, err)
		}
	}
	log.Debug("built spacecraft position interpolators", "samples", eph.Len(), "start", c.start, "end", c.end)
	return c, nil
}

// Coverage returns the JD range the corrector can interpolate over.
func (c *Corrector) Coverage() (float64, float64) {
	return c.start, c.end
}

// Position interpolates the spacecraft position at an absolute JD.
func (c *Corrector) Position(jd float64) ([3]float64, error) {
	if math.IsNaN(jd) {
		return [3]float64{math.NaN(), math.NaN(), math.NaN()}, nil
	}
	if jd < c.start || jd > c.end {
		return [3]float64{}, fmt.Errorf("%w: jd %f not in [%f, %f]", ErrOutsideEphemeris, jd, c.start, c.end)
	}
	return [3]float64{c.x.Predict(jd), c.y.Predict(jd), c.z.Predict(jd)}, nil
}

// StarVector is the unit vector toward (ra, dec), both in degrees.
func StarVector(ra, dec float64) [3]float64 {
	r := ra * math.Pi / 180
	d := dec * math.Pi / 180
	return [3]float64{
		math.Cos(d) * math.Cos(r),
		math.Cos(d) * math.Sin(r),
		math.Sin(d),
	}
}

func finite(v [3]float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Correct returns barycentric times for the given mission-relative times of
// a star at (ra, dec). The result stays in the mission-relative system.
// Times outside the ephemeris coverage fail with ErrOutsideEphemeris. A
// degenerate star direction is logged and the input times are returned
// uncorrected, still mission-relative.
func (c *Corrector) Correct(ra, dec float64, tjd []float64) ([]float64, error) {
	star := StarVector(ra, dec)
	out := make([]float64, len(tjd))
	if !finite(star) {
		c.log.Error("degenerate star vector, returning uncorrected times", "ra", ra, "dec", dec, "vector", star)
		copy(out, tjd)
		return out, nil
	}

	for i, t := range tjd {
		pos, err := c.Position(t + c.epoch)
		if err != nil {
			return nil, err
		}
		lt := (pos[0]*star[0] + pos[1]*star[1] + pos[2]*star[2]) / c.lightDay
		// (t + epoch) + lt - epoch, without the round trip through the epoch.
		out[i] = t + lt
	}
	return out, nil
}
