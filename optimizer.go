package bucketseq

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// An EMA keeps an exponential moving average shadow of
// every parameter, for restoration at inference time.
type EMA struct {
	Decay  float64
	shadow map[*anydiff.Var]anyvec.Vector
	order  []*anydiff.Var
}

func newEMA(params []*anydiff.Var, decay float64) *EMA {
	res := &EMA{
		Decay:  decay,
		shadow: map[*anydiff.Var]anyvec.Vector{},
		order:  params,
	}
	for _, p := range params {
		res.shadow[p] = p.Vector.Copy()
	}
	return res
}

// Update folds the current parameter values into the
// shadow copies.
func (e *EMA) Update() {
	c := 1 - e.Decay
	for _, p := range e.order {
		s := e.shadow[p]
		s.Scale(s.Creator().MakeNumeric(e.Decay))
		scaled := p.Vector.Copy()
		scaled.Scale(scaled.Creator().MakeNumeric(c))
		s.Add(scaled)
	}
}

// Shadow returns the shadow copy for a parameter, or nil
// if the parameter is not tracked.
func (e *EMA) Shadow(p *anydiff.Var) anyvec.Vector {
	return e.shadow[p]
}

// Restore overwrites every tracked parameter with its
// shadow copy.
func (e *EMA) Restore() {
	for _, p := range e.order {
		p.Vector.Set(e.shadow[p])
	}
}

// applyGradients runs the backward pass for a combined
// per-bucket loss, clips the gradient to the configured
// global norm, transforms and applies it, and advances
// the global step.
//
// The returned norm is the pre-clip global norm.
func (m *Model) applyGradients(cost anydiff.Res) float64 {
	c := m.creator
	grad := anydiff.NewGrad(m.params...)

	oneData := c.MakeNumericList([]float64{1})
	cost.Propagate(c.MakeVectorData(oneData), grad)

	norm := gradNorm(grad)
	if m.conf.MaxGradNorm > 0 && norm > m.conf.MaxGradNorm {
		grad.Scale(c.MakeNumeric(m.conf.MaxGradNorm / norm))
	}
	if m.conf.Transformer != nil {
		grad = m.conf.Transformer.Transform(grad)
	}
	grad.Scale(c.MakeNumeric(-m.conf.LearningRate))
	grad.AddToVars()

	if m.EMA != nil {
		m.EMA.Update()
	}
	m.globalStep++
	return norm
}

func gradNorm(grad anydiff.Grad) float64 {
	var sum float64
	for _, vec := range grad {
		sum += numericToFloat(vec.Dot(vec))
	}
	return math.Sqrt(sum)
}
