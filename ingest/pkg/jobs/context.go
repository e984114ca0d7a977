package jobs

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/malbeclabs/lightcurvedb/pkg/lightcurve"
)

var (
	orbitPattern  = regexp.MustCompile(`orbit-([0-9]+)`)
	cameraPattern = regexp.MustCompile(`cam([1-4])`)
	ccdPattern    = regexp.MustCompile(`ccd([1-4])`)
)

func lastInt(re *regexp.Regexp, s string) (int, bool) {
	m := re.FindAllStringSubmatch(s, -1)
	if len(m) == 0 {
		return 0, false
	}
	v, err := strconv.Atoi(m[len(m)-1][1])
	if err != nil {
		return 0, false
	}
	return v, true
}

// ContextFromPath derives the star, orbit, camera and ccd of a photometry
// file from its path, e.g. /data/orbit-9/ffi/cam1/ccd3/LC/12345.h5.
func ContextFromPath(path string) (lightcurve.FileObservation, error) {
	obs := lightcurve.FileObservation{Path: path}
	slashed := filepath.ToSlash(path)

	var ok bool
	if obs.OrbitNumber, ok = lastInt(orbitPattern, slashed); !ok {
		return obs, fmt.Errorf("no orbit in path %q", path)
	}
	if obs.Camera, ok = lastInt(cameraPattern, slashed); !ok {
		return obs, fmt.Errorf("no camera in path %q", path)
	}
	if obs.CCD, ok = lastInt(ccdPattern, slashed); !ok {
		return obs, fmt.Errorf("no ccd in path %q", path)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	tic, err := strconv.ParseInt(stem, 10, 64)
	if err != nil || tic <= 0 {
		return obs, fmt.Errorf("file stem %q is not a tic id", stem)
	}
	obs.TICID = tic
	return obs, nil
}
