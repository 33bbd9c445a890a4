package bucketseq

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestGradNorm(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	v1 := anydiff.NewVar(c.MakeVector(2))
	v2 := anydiff.NewVar(c.MakeVector(1))
	grad := anydiff.Grad{
		v1: c.MakeVectorData([]float64{3, 4}),
		v2: c.MakeVectorData([]float64{12}),
	}
	if math.Abs(gradNorm(grad)-13) > 1e-8 {
		t.Errorf("got %f expected 13", gradNorm(grad))
	}
}

func TestEMAUpdate(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	p := anydiff.NewVar(c.MakeVectorData([]float64{1, 2}))
	ema := newEMA([]*anydiff.Var{p}, 0.9)

	p.Vector.Set(c.MakeVectorData([]float64{11, 22}))
	ema.Update()

	expected := []float64{0.9*1 + 0.1*11, 0.9*2 + 0.1*22}
	if !vecsClose(vectorToFloats(ema.Shadow(p)), expected, 1e-8) {
		t.Errorf("got %v expected %v", vectorToFloats(ema.Shadow(p)), expected)
	}

	ema.Restore()
	if !vecsClose(vectorToFloats(p.Vector), expected, 1e-8) {
		t.Errorf("restore: got %v expected %v", vectorToFloats(p.Vector), expected)
	}
}
