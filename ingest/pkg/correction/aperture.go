package correction

import (
	"fmt"
	"math"
	"sort"
)

var (
	bestApertureMagBins = []float64{6, 7, 8, 9, 10, 11, 12}
	bestApertureByBin   = []int{4, 3, 3, 2, 2, 2, 1}
)

// BestApertureNumber picks the preferred photometric aperture for a star of
// the given catalog magnitude. Within a bin, stars fainter than half a
// magnitude below the bin edge take that bin's aperture.
func BestApertureNumber(tmag float64) int {
	if math.IsNaN(tmag) {
		return bestApertureByBin[len(bestApertureByBin)-1]
	}
	i := sort.SearchFloat64s(bestApertureMagBins, tmag)
	switch {
	case i == 0:
		return bestApertureByBin[0]
	case i >= len(bestApertureMagBins):
		return bestApertureByBin[len(bestApertureByBin)-1]
	case tmag > bestApertureMagBins[i]-0.5:
		return bestApertureByBin[i]
	}
	return bestApertureByBin[i-1]
}

// ApertureName formats an aperture number the way it appears in photometry files.
func ApertureName(n int) string {
	return fmt.Sprintf("Aperture_%03d", n)
}
