package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"

	"github.com/malbeclabs/lightcurvedb/ingest/pkg/cache"
	"github.com/malbeclabs/lightcurvedb/pkg/lightcurve"
	"github.com/olekukonko/tablewriter"
)

type Catalog interface {
	Star(ctx context.Context, ticID int64) (cache.Star, error)
}

// Plan is the set of merge jobs for one ingestion run plus bookkeeping of
// what was left out.
type Plan struct {
	Jobs             []lightcurve.MergeJob
	FileObservations int
	Orbits           []int
	SkippedObserved  int
	SkippedDuplicate int
	SkippedNoCatalog int
}

// Orbits returns the distinct orbit numbers among files, ascending.
func Orbits(files []lightcurve.FileObservation) []int {
	var out []int
	for _, f := range files {
		if !slices.Contains(out, f.OrbitNumber) {
			out = append(out, f.OrbitNumber)
		}
	}
	slices.Sort(out)
	return out
}

// BuildPlan groups files by star into merge jobs. Files for a (star, orbit)
// already in observed are dropped, as are repeated (star, orbit, camera, ccd)
// files after the last one seen. Stars missing from the catalog are skipped.
// Jobs are ordered by star, and each job's files by orbit.
func BuildPlan(ctx context.Context, log *slog.Logger, files []lightcurve.FileObservation, catalog Catalog, observed map[lightcurve.StarOrbit]struct{}) (*Plan, error) {
	plan := &Plan{Orbits: Orbits(files)}

	type fileKey struct {
		tic         int64
		orbit       int
		camera, ccd int
	}
	latest := make(map[fileKey]int, len(files))
	for i, f := range files {
		latest[fileKey{f.TICID, f.OrbitNumber, f.Camera, f.CCD}] = i
	}

	byStar := make(map[int64][]lightcurve.FileObservation)
	var order []int64
	for i, f := range files {
		if latest[fileKey{f.TICID, f.OrbitNumber, f.Camera, f.CCD}] != i {
			plan.SkippedDuplicate++
			continue
		}
		if _, ok := observed[lightcurve.StarOrbit{TICID: f.TICID, OrbitNumber: f.OrbitNumber}]; ok {
			plan.SkippedObserved++
			continue
		}
		if _, ok := byStar[f.TICID]; !ok {
			order = append(order, f.TICID)
		}
		byStar[f.TICID] = append(byStar[f.TICID], f)
	}
	slices.Sort(order)

	for _, tic := range order {
		star, err := catalog.Star(ctx, tic)
		if errors.Is(err, cache.ErrUnknownStar) {
			log.Warn("star not in catalog, skipping", "tic", tic, "files", len(byStar[tic]))
			plan.SkippedNoCatalog += len(byStar[tic])
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve star %d: %w", tic, err)
		}
		obs := byStar[tic]
		slices.SortStableFunc(obs, func(a, b lightcurve.FileObservation) int {
			return a.OrbitNumber - b.OrbitNumber
		})
		plan.Jobs = append(plan.Jobs, lightcurve.MergeJob{
			TICID:        tic,
			RA:           star.RA,
			Dec:          star.Dec,
			TMag:         star.TMag,
			Observations: obs,
		})
		plan.FileObservations += len(obs)
	}
	return plan, nil
}

// Render writes a summary table of the plan.
func (p *Plan) Render(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader([]string{"Stars", "File\nObservations", "Orbits", "Skipped\n(observed)", "Skipped\n(duplicate)", "Skipped\n(no catalog)"})
	orbits := ""
	for i, o := range p.Orbits {
		if i > 0 {
			orbits += ","
		}
		orbits += strconv.Itoa(o)
	}
	table.Append([]string{
		strconv.Itoa(len(p.Jobs)),
		strconv.Itoa(p.FileObservations),
		orbits,
		strconv.Itoa(p.SkippedObserved),
		strconv.Itoa(p.SkippedDuplicate),
		strconv.Itoa(p.SkippedNoCatalog),
	})
	table.Render()
}
