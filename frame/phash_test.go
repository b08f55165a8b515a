package frame

import (
	"image"
	"image/color"
	"testing"
)

func solidImage(level uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 320, 180))
	for y := 0; y < 180; y++ {
		for x := 0; x < 320; x++ {
			img.Set(x, y, color.RGBA{level, level, level, 255})
		}
	}
	return img
}

func TestFingerprint_Length_And_Range(t *testing.T) {
	h := Fingerprint(solidImage(255))
	if len(h) != 16 {
		t.Fatalf("length: got %d, want 16", len(h))
	}
	for i, v := range h {
		if v < 0 || v > 63 {
			t.Fatalf("cell %d out of range: %d", i, v)
		}
	}
	// 255 mean shifted by 2 is 63.
	if h[0] != 63 {
		t.Fatalf("white cell: got %d, want 63", h[0])
	}
}

func TestFingerprint_NilAndEmpty(t *testing.T) {
	for _, h := range [][]int{
		Fingerprint(nil),
		Fingerprint(image.NewRGBA(image.Rect(0, 0, 0, 0))),
	} {
		if len(h) != 16 {
			t.Fatalf("length: got %d, want 16", len(h))
		}
		for i, v := range h {
			if v != 0 {
				t.Fatalf("cell %d: got %d, want 0", i, v)
			}
		}
	}
}

func TestSimilar_Identical(t *testing.T) {
	h := Fingerprint(solidImage(128))
	if !Similar(h, h) {
		t.Fatal("identical hashes must be similar")
	}
}

func TestSimilar_FullyDifferent(t *testing.T) {
	h1 := make([]int, 16)
	h2 := make([]int, 16)
	for i := range h2 {
		h2[i] = 64
	}
	if Similar(h1, h2) {
		t.Fatal("all 16 cells differ by >15, must not be similar")
	}
}

func TestSimilar_ToleratesTwoCells(t *testing.T) {
	h1 := make([]int, 16)
	h2 := make([]int, 16)
	h2[0], h2[5] = 63, 63
	if !Similar(h1, h2) {
		t.Fatal("2 differing cells is within tolerance")
	}
	h2[10] = 63
	if Similar(h1, h2) {
		t.Fatal("3 differing cells exceeds tolerance")
	}
}

func TestSimilar_AbsentOrMismatched(t *testing.T) {
	h := make([]int, 16)
	if Similar(nil, h) || Similar(h, nil) || Similar(h, make([]int, 8)) {
		t.Fatal("absent or mismatched hashes must never be similar")
	}
}
