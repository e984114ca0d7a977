package lightcurve

import (
	"fmt"
	"slices"
)

// MergeIndex returns the positions of ref that survive a merge: positions are
// stable-sorted by cadence and, within each run of equal cadences, only the
// last position is kept. Applying the result to any column index-aligned with
// ref yields the merged column.
func MergeIndex(ref []int64) []int {
	idx := make([]int, len(ref))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		switch {
		case ref[a] < ref[b]:
			return -1
		case ref[a] > ref[b]:
			return 1
		}
		return 0
	})

	keep := make([]int, 0, len(idx))
	for i, p := range idx {
		if i+1 < len(idx) && ref[idx[i+1]] == ref[p] {
			continue
		}
		keep = append(keep, p)
	}
	return keep
}

// Take gathers src at the given positions.
func Take[T any](src []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, p := range idx {
		out[i] = src[p]
	}
	return out
}

// Merge concatenates the given arrays in order and resolves duplicate
// cadences so the occurrence appended last wins. The result has strictly
// ascending cadences and all columns aligned to them.
func Merge(parts ...Arrays) (Arrays, error) {
	var cat Arrays
	for i, p := range parts {
		if err := p.Validate(); err != nil {
			return Arrays{}, fmt.Errorf("part %d: %w", i, err)
		}
		cat.Cadences = append(cat.Cadences, p.Cadences...)
		cat.BJD = append(cat.BJD, p.BJD...)
		cat.Data = append(cat.Data, p.Data...)
		cat.Errors = append(cat.Errors, p.Errors...)
		cat.XCentroids = append(cat.XCentroids, p.XCentroids...)
		cat.YCentroids = append(cat.YCentroids, p.YCentroids...)
		cat.QualityFlags = append(cat.QualityFlags, p.QualityFlags...)
	}

	idx := MergeIndex(cat.Cadences)
	return Arrays{
		Cadences:     Take(cat.Cadences, idx),
		BJD:          Take(cat.BJD, idx),
		Data:         Take(cat.Data, idx),
		Errors:       Take(cat.Errors, idx),
		XCentroids:   Take(cat.XCentroids, idx),
		YCentroids:   Take(cat.YCentroids, idx),
		QualityFlags: Take(cat.QualityFlags, idx),
	}, nil
}
