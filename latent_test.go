package bucketseq

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestClosedFormKL(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	mean := anydiff.NewConst(c.MakeVectorData([]float64{1, 0, 0.5, -0.5}))
	logvar := anydiff.NewConst(c.MakeVectorData([]float64{0, 1, -1, 0.25}))

	var expected float64
	means := []float64{1, 0, 0.5, -0.5}
	logvars := []float64{0, 1, -1, 0.25}
	for i, m := range means {
		lv := logvars[i]
		expected += 0.5 * (math.Exp(lv) + m*m - 1 - lv)
	}
	expected /= 2

	actual := vectorToFloats(ClosedFormKL{}.Divergence(mean, logvar, 2).Output())[0]
	if math.Abs(actual-expected) > 1e-8 {
		t.Errorf("got %f expected %f", actual, expected)
	}
}

func TestLowerBoundedKL(t *testing.T) {
	c := anyvec64.DefaultCreator{}

	// One example, four latent dimensions in two groups.
	// Group one has divergence 2, group two has 0.
	mean := anydiff.NewConst(c.MakeVectorData([]float64{2, 0, 0, 0}))
	logvar := anydiff.NewConst(c.MakeVectorData([]float64{0, 0, 0, 0}))

	div := &LowerBoundedKL{Splits: 2, FreeBits: 1, Lambda: NewMultiplier(3)}
	actual := vectorToFloats(div.Divergence(mean, logvar, 1).Output())[0]

	// Group one exceeds its budget by 1, scaled by the
	// multiplier; group two is fully forgiven.
	if math.Abs(actual-3) > 1e-8 {
		t.Errorf("got %f expected 3", actual)
	}

	div.Lambda.Halve()
	actual = vectorToFloats(div.Divergence(mean, logvar, 1).Output())[0]
	if math.Abs(actual-1.5) > 1e-8 {
		t.Errorf("after halving: got %f expected 1.5", actual)
	}
}

func TestLowerBoundedKLGrouping(t *testing.T) {
	c := anyvec64.DefaultCreator{}

	// With zero log-variance the per-dimension terms are
	// 0.5*mean^2, here [1.5, 0, 0.5, 0]. Group one sums
	// to 1.5 and group two to 0.5; summing per dimension
	// across groups would give [2, 0] instead.
	mean := anydiff.NewConst(c.MakeVectorData([]float64{math.Sqrt(3), 0, 1, 0}))
	logvar := anydiff.NewConst(c.MakeVectorData([]float64{0, 0, 0, 0}))

	div := &LowerBoundedKL{Splits: 2, FreeBits: 1, Lambda: NewMultiplier(1)}
	actual := vectorToFloats(div.Divergence(mean, logvar, 1).Output())[0]

	// Group one exceeds the budget by 0.5; group two is
	// fully forgiven.
	if math.Abs(actual-0.5) > 1e-8 {
		t.Errorf("got %f expected 0.5", actual)
	}
}

func TestRiseRate(t *testing.T) {
	r := NewRiseRate(0.25)
	if r.Value() != 0 {
		t.Errorf("initial value: got %f", r.Value())
	}
	r.Advance()
	r.Advance()
	if math.Abs(r.Value()-0.5) > 1e-12 {
		t.Errorf("after two advances: got %f", r.Value())
	}
}

func TestFlowStepJacobian(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	f := newFlowStep(c, 3)

	out1, ld1 := f.Apply(anydiff.NewConst(c.MakeVectorData([]float64{0.3, -0.2, 1.1})), 1)
	out2, ld2 := f.Apply(anydiff.NewConst(c.MakeVectorData([]float64{0.3, -0.2, 1.6})), 1)
	if out1.Output().Len() != 3 || ld1.Output().Len() != 3 {
		t.Fatal("unexpected output sizes")
	}

	a := vectorToFloats(out1.Output())
	b := vectorToFloats(out2.Output())

	// The inputs differ only in the last dimension, so
	// earlier outputs and every gate must agree.
	if a[0] != b[0] || a[1] != b[1] {
		t.Errorf("earlier dimensions moved: %v vs %v", a, b)
	}
	if !vecsClose(vectorToFloats(ld1.Output()), vectorToFloats(ld2.Output()), 0) {
		t.Error("gates depend on their own dimension")
	}

	// The last output moves by gate*delta, the gate being
	// the exp of its log-det entry.
	g := math.Exp(vectorToFloats(ld1.Output())[2])
	if math.Abs((b[2]-a[2])-g*0.5) > 1e-8 {
		t.Errorf("last dimension moved by %f expected %f", b[2]-a[2], g*0.5)
	}

	// Sigmoid gates keep every log-det entry negative.
	for i, x := range vectorToFloats(ld1.Output()) {
		if x >= 0 {
			t.Errorf("log-det %d: got %f", i, x)
		}
	}
}
