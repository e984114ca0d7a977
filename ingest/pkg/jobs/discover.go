package jobs

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/alitto/pond/v2"
	"github.com/malbeclabs/lightcurvedb/pkg/lightcurve"
)

const PhotometryExt = ".h5"

// Discover scans each root for photometry files and returns their contexts,
// ordered by root then by path. Files whose path carries no context are
// logged and skipped.
func Discover(ctx context.Context, log *slog.Logger, roots []string, recursive bool, concurrency int) ([]lightcurve.FileObservation, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	pool := pond.NewResultPool[[]lightcurve.FileObservation](concurrency)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	for _, root := range roots {
		group.SubmitErr(func() ([]lightcurve.FileObservation, error) {
			return scan(ctx, log, root, recursive)
		})
	}
	results, err := group.Wait()
	if err != nil {
		return nil, err
	}

	var out []lightcurve.FileObservation
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func scan(ctx context.Context, log *slog.Logger, root string, recursive bool) ([]lightcurve.FileObservation, error) {
	var out []lightcurve.FileObservation
	add := func(path string) {
		obs, err := ContextFromPath(path)
		if err != nil {
			log.Warn("skipping file without context", "path", path, "error", err)
			return
		}
		out = append(out, obs)
	}

	if !recursive {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), PhotometryExt) {
				add(filepath.Join(root, e.Name()))
			}
		}
		return out, nil
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), PhotometryExt) {
			add(path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Debug("scanned directory", "root", root, "files", len(out))
	return out, nil
}
