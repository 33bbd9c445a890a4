package bucketseq

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// An OutputProj maps raw decoder outputs to
// full-vocabulary logits.
//
// Weights is row-major with one row per vocabulary
// entry, so rows double as the candidate vectors of the
// sampled softmax.
type OutputProj struct {
	In    int
	Vocab int

	Weights *anydiff.Var
	Biases  *anydiff.Var
}

// NewOutputProj creates a randomly initialized
// projection from in units to vocab logits.
func NewOutputProj(c anyvec.Creator, in, vocab int) *OutputProj {
	weights := c.MakeVector(in * vocab)
	anyvec.Rand(weights, anyvec.Normal, nil)
	weights.Scale(c.MakeNumeric(1 / math.Sqrt(float64(in))))
	return &OutputProj{
		In:      in,
		Vocab:   vocab,
		Weights: anydiff.NewVar(weights),
		Biases:  anydiff.NewVar(c.MakeVector(vocab)),
	}
}

// Apply projects a packed batch of n raw outputs.
func (p *OutputProj) Apply(in anydiff.Res, n int) anydiff.Res {
	inMat := &anydiff.Matrix{Data: in, Rows: n, Cols: p.In}
	weightMat := &anydiff.Matrix{Data: p.Weights, Rows: p.Vocab, Cols: p.In}
	product := anydiff.MatMul(false, true, inMat, weightMat)
	return anydiff.AddRepeated(product.Data, p.Biases)
}

// ApplyVec projects raw outputs without gradient
// tracking, for inference-time consumers.
func (p *OutputProj) ApplyVec(in anyvec.Vector, n int) anyvec.Vector {
	return p.Apply(anydiff.NewConst(in), n).Output()
}

// Parameters returns the projection pair.
func (p *OutputProj) Parameters() []*anydiff.Var {
	return []*anydiff.Var{p.Weights, p.Biases}
}
