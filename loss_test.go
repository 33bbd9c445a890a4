package bucketseq

import (
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestFullSoftmaxLoss(t *testing.T) {
	c := anyvec64.DefaultCreator{}

	// Two timesteps over a batch of two with uniform
	// logits; every counted position costs ln(vocab).
	logits := []anydiff.Res{
		anydiff.NewConst(c.MakeVector(6)),
		anydiff.NewConst(c.MakeVector(6)),
	}
	targets := [][]int{{0, 2}, {1, 0}}
	weights := [][]float64{{1, 1}, {1, 0}}

	actual := vectorToFloats(fullSoftmaxLoss(logits, targets, weights, 3).Output())[0]
	expected := math.Log(3)
	if math.Abs(actual-expected) > 1e-6 {
		t.Errorf("got %f expected %f", actual, expected)
	}
}

func TestSampledSoftmaxLoss(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	proj := NewOutputProj(c, 4, 20)
	rng := rand.New(rand.NewSource(9))

	outputs := []anydiff.Res{
		anydiff.NewConst(c.MakeVectorData([]float64{
			0.1, -0.2, 0.4, 0.3,
			-0.4, 0.2, 0.1, 0.5,
		})),
	}
	targets := [][]int{{3, 7}}
	weights := [][]float64{{1, 1}}

	loss := sampledSoftmaxLoss(proj, outputs, targets, weights, 5, rng)
	if loss.Output().Len() != 1 {
		t.Fatal("loss must be a scalar")
	}
	if vectorToFloats(loss.Output())[0] <= 0 {
		t.Errorf("got %f", vectorToFloats(loss.Output())[0])
	}

	// The projection parameters must receive gradient
	// through the candidate gather.
	grad := anydiff.NewGrad(proj.Weights, proj.Biases)
	loss.Propagate(c.MakeVectorData([]float64{1}), grad)
	var sum float64
	for _, x := range vectorToFloats(grad[proj.Weights]) {
		sum += math.Abs(x)
	}
	if sum == 0 {
		t.Error("no gradient reached the projection weights")
	}
}
