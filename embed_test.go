package bucketseq

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestEmbeddingLookup(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	e := NewEmbedding(c, 4, 3)
	e.Replace(c.MakeVectorData([]float64{
		0, 1, 2,
		3, 4, 5,
		6, 7, 8,
		9, 10, 11,
	}))

	actual := vectorToFloats(e.Lookup([]int{2, 0, 2}).Output())
	expected := []float64{6, 7, 8, 0, 1, 2, 6, 7, 8}
	if !vecsClose(actual, expected, 0) {
		t.Errorf("got %v expected %v", actual, expected)
	}
}

func TestEmbeddingGradient(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	e := NewEmbedding(c, 4, 2)

	res := e.Lookup([]int{1, 1, 3})
	grad := anydiff.NewGrad(e.Weights)
	res.Propagate(c.MakeVectorData([]float64{1, 1, 1, 1, 1, 1}), grad)

	actual := vectorToFloats(grad[e.Weights])
	expected := []float64{0, 0, 2, 2, 0, 0, 1, 1}
	if !vecsClose(actual, expected, 1e-8) {
		t.Errorf("got %v expected %v", actual, expected)
	}
}

func TestEmbeddingReplaceSize(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	e := NewEmbedding(c, 4, 3)
	defer func() {
		if recover() == nil {
			t.Error("expected panic for size mismatch")
		}
	}()
	e.Replace(c.MakeVector(5))
}

func vecsClose(actual, expected []float64, tol float64) bool {
	if len(actual) != len(expected) {
		return false
	}
	for i, x := range actual {
		if math.Abs(x-expected[i]) > tol {
			return false
		}
	}
	return true
}
