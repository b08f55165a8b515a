package frame

import "image"

// Fingerprint cells: a 4x4 grid, one representative pixel per cell.
const (
	hashGrid = 4
	hashLen  = hashGrid * hashGrid
)

// Similarity tuning: two fingerprints are duplicates when at most maxDiffCells
// of the 16 cells differ by more than cellThreshold.
const (
	cellThreshold = 15
	maxDiffCells  = 2
)

// Fingerprint derives a coarse, resolution-independent fingerprint from an
// image: for each cell of a 4x4 grid it samples the cell's center pixel and
// records the mean of the three color channels right-shifted by 2 (0-63).
// A cell that cannot be sampled yields 0 rather than aborting.
func Fingerprint(img image.Image) []int {
	hash := make([]int, hashLen)
	if img == nil {
		return hash
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return hash
	}

	for gy := 0; gy < hashGrid; gy++ {
		for gx := 0; gx < hashGrid; gx++ {
			// Center pixel of the cell.
			px := b.Min.X + (2*gx+1)*w/(2*hashGrid)
			py := b.Min.Y + (2*gy+1)*h/(2*hashGrid)
			if px < b.Min.X || px >= b.Max.X || py < b.Min.Y || py >= b.Max.Y {
				continue // out of range, cell stays 0
			}
			r, g, bl, _ := img.At(px, py).RGBA()
			// RGBA returns 16-bit channels; scale down to 8-bit first.
			mean := (int(r>>8) + int(g>>8) + int(bl>>8)) / 3
			hash[gy*hashGrid+gx] = mean >> 2
		}
	}
	return hash
}

// Similar reports whether two fingerprints describe near-duplicate frames.
// Absent hashes or mismatched lengths are never similar.
func Similar(h1, h2 []int) bool {
	if h1 == nil || h2 == nil || len(h1) != len(h2) {
		return false
	}
	diff := 0
	for i := range h1 {
		d := h1[i] - h2[i]
		if d < 0 {
			d = -d
		}
		if d > cellThreshold {
			diff++
		}
	}
	return diff <= maxDiffCells
}
