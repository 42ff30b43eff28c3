package vectorstore

import (
	"math"
	"testing"
)

func TestCosineEqualVectors(t *testing.T) {
	a := []float32{1, 2, 3}
	if got := Cosine(a, a); math.Abs(got-1) > 1e-9 {
		t.Fatalf("cosine(a,a) = %v, want 1", got)
	}
}

func TestCosineOrthogonal(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("orthogonal cosine = %v, want 0", got)
	}
}

func TestCosineOpposite(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{-1, 0}); math.Abs(got+1) > 1e-9 {
		t.Fatalf("opposite cosine = %v, want -1", got)
	}
}

func TestCosineZeroMagnitudeNoNaN(t *testing.T) {
	got := Cosine([]float32{0, 0}, []float32{1, 2})
	if got != 0 || math.IsNaN(got) {
		t.Fatalf("zero-magnitude cosine = %v, want 0", got)
	}
	got = Cosine([]float32{1, 2}, []float32{0, 0})
	if got != 0 || math.IsNaN(got) {
		t.Fatalf("zero-magnitude cosine = %v, want 0", got)
	}
}

func TestCosineRange(t *testing.T) {
	vecs := [][]float32{
		{1, 2, 3}, {-4, 0.5, 2}, {0.01, -0.02, 100}, {-1, -1, -1},
	}
	for _, a := range vecs {
		for _, b := range vecs {
			got := Cosine(a, b)
			if got < -1-1e-9 || got > 1+1e-9 || math.IsNaN(got) {
				t.Fatalf("cosine(%v,%v) = %v out of [-1,1]", a, b, got)
			}
		}
	}
}
