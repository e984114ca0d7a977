package cache

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/malbeclabs/lightcurvedb/ingest/pkg/correction"
)

var (
	cameraPattern = regexp.MustCompile(`cam([1-4])`)
	ccdPattern    = regexp.MustCompile(`ccd([1-4])`)
)

// CameraCCDFromPath extracts the camera and ccd from a quality-flag file
// name such as cam1ccd3_qflag.txt.
func CameraCCDFromPath(path string) (int, int, error) {
	base := filepath.Base(path)
	cam := cameraPattern.FindStringSubmatch(base)
	ccd := ccdPattern.FindStringSubmatch(base)
	if cam == nil || ccd == nil {
		return 0, 0, fmt.Errorf("no camera/ccd in file name %q", base)
	}
	camera, _ := strconv.Atoi(cam[1])
	chip, _ := strconv.Atoi(ccd[1])
	return camera, chip, nil
}

// ParseQualityFlags reads whitespace-delimited "cadence flag" lines. Both
// columns may be written as floats.
func ParseQualityFlags(r io.Reader, camera, ccd int) ([]QualityFlag, error) {
	var out []QualityFlag
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected 2 columns, got %d", line, len(fields))
		}
		cadence, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid cadence: %w", line, err)
		}
		flag, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid quality flag: %w", line, err)
		}
		out = append(out, QualityFlag{Camera: camera, CCD: ccd, Cadence: int64(cadence), Flag: int32(flag)})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type csvTable struct {
	r     *csv.Reader
	index map[string]int
	line  int
}

func newCSVTable(r io.Reader, required ...string) (*csvTable, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("missing header")
	}
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range required {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	return &csvTable{r: cr, index: index, line: 1}, nil
}

// next returns the next record, or nil at EOF.
func (t *csvTable) next() ([]string, error) {
	for {
		rec, err := t.r.Read()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		t.line++
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		return rec, nil
	}
}

func (t *csvTable) float(rec []string, name string) (float64, error) {
	i := t.index[name]
	if i >= len(rec) {
		return 0, fmt.Errorf("row %d: missing %s", t.line, name)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
	if err != nil {
		return 0, fmt.Errorf("row %d: invalid %s: %w", t.line, name, err)
	}
	return v, nil
}

func (t *csvTable) int(rec []string, name string) (int64, error) {
	v, err := t.float(rec, name)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// ParseEphemerisCSV reads a spacecraft vector table with JDTDB, X, Y and Z
// columns. Extra columns are ignored and # lines are comments.
func ParseEphemerisCSV(r io.Reader) (correction.Ephemeris, error) {
	t, err := newCSVTable(r, "jdtdb", "x", "y", "z")
	if err != nil {
		return correction.Ephemeris{}, fmt.Errorf("ephemeris: %w", err)
	}
	var eph correction.Ephemeris
	for {
		rec, err := t.next()
		if err != nil {
			return correction.Ephemeris{}, fmt.Errorf("ephemeris: %w", err)
		}
		if rec == nil {
			break
		}
		vals := make([]float64, 4)
		for i, name := range []string{"jdtdb", "x", "y", "z"} {
			if vals[i], err = t.float(rec, name); err != nil {
				return correction.Ephemeris{}, fmt.Errorf("ephemeris: %w", err)
			}
		}
		eph.JD = append(eph.JD, vals[0])
		eph.X = append(eph.X, vals[1])
		eph.Y = append(eph.Y, vals[2])
		eph.Z = append(eph.Z, vals[3])
	}
	return eph, nil
}

// ParseStarsCSV reads tic_id, ra, dec and tmag columns.
func ParseStarsCSV(r io.Reader) ([]Star, error) {
	t, err := newCSVTable(r, "tic_id", "ra", "dec", "tmag")
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	var out []Star
	for {
		rec, err := t.next()
		if err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		if rec == nil {
			return out, nil
		}
		var s Star
		if s.TICID, err = t.int(rec, "tic_id"); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		if s.RA, err = t.float(rec, "ra"); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		if s.Dec, err = t.float(rec, "dec"); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		if s.TMag, err = t.float(rec, "tmag"); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		out = append(out, s)
	}
}

// ParseMidTJDCSV reads camera, cadence and mid_tjd columns.
func ParseMidTJDCSV(r io.Reader) ([]MidTJD, error) {
	t, err := newCSVTable(r, "camera", "cadence", "mid_tjd")
	if err != nil {
		return nil, fmt.Errorf("mid tjd: %w", err)
	}
	var out []MidTJD
	for {
		rec, err := t.next()
		if err != nil {
			return nil, fmt.Errorf("mid tjd: %w", err)
		}
		if rec == nil {
			return out, nil
		}
		camera, err := t.int(rec, "camera")
		if err != nil {
			return nil, fmt.Errorf("mid tjd: %w", err)
		}
		cadence, err := t.int(rec, "cadence")
		if err != nil {
			return nil, fmt.Errorf("mid tjd: %w", err)
		}
		tjd, err := t.float(rec, "mid_tjd")
		if err != nil {
			return nil, fmt.Errorf("mid tjd: %w", err)
		}
		out = append(out, MidTJD{Camera: int(camera), Cadence: cadence, TJD: tjd})
	}
}
