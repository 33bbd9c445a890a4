package bucketseq

import (
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
)

// A LatentBridge maps encoder states to a latent
// distribution and latent samples back to decoder start
// states.
type LatentBridge struct {
	LatentDim int

	MeanNet   anynet.Layer
	LogvarNet anynet.Layer

	// StateNets map a latent sample to each decoder
	// state part.
	StateNets []anynet.Layer

	// Flows is non-empty when normalizing-flow sampling
	// is selected.
	Flows []*FlowStep
}

func newLatentBridge(c anyvec.Creator, conf *Config, stateSizes []int) *LatentBridge {
	res := &LatentBridge{
		LatentDim: conf.LatentDim,
		MeanNet:   anynet.NewFC(c, conf.Size, conf.LatentDim),
		LogvarNet: anynet.NewFC(c, conf.Size, conf.LatentDim),
	}
	for _, size := range stateSizes {
		res.StateNets = append(res.StateNets, anynet.Net{
			anynet.NewFC(c, conf.LatentDim, size),
			anynet.Tanh,
		})
	}
	if conf.Flow {
		for i := 0; i < conf.FlowDepth; i++ {
			res.Flows = append(res.Flows, newFlowStep(c, conf.LatentDim))
		}
	}
	return res
}

// Project computes the latent distribution parameters
// from a packed batch of n encoder states.
func (l *LatentBridge) Project(state anydiff.Res, n int) (mean, logvar anydiff.Res) {
	return l.MeanNet.Apply(state, n), l.LogvarNet.Apply(state, n)
}

// Sample draws z = mean + exp(logvar/2)*noise, then runs
// any configured flow steps.
//
// The second result is the summed log-determinant of the
// flow Jacobians, or nil without flows; divergence
// estimates must subtract its batch mean.
func (l *LatentBridge) Sample(mean, logvar anydiff.Res, n int, rng *rand.Rand) (anydiff.Res, anydiff.Res) {
	c := mean.Output().Creator()
	noise := c.MakeVector(mean.Output().Len())
	anyvec.Rand(noise, anyvec.Normal, rng)
	std := anydiff.Exp(anydiff.Scale(logvar, c.MakeNumeric(0.5)))
	z := anydiff.Add(mean, anydiff.Mul(std, anydiff.NewConst(noise)))
	if len(l.Flows) == 0 {
		return z, nil
	}
	var logdet anydiff.Res
	for _, f := range l.Flows {
		var det anydiff.Res
		z, det = f.Apply(z, n)
		if logdet == nil {
			logdet = det
		} else {
			logdet = anydiff.Add(logdet, det)
		}
	}
	return z, logdet
}

// DecoderState maps a latent sample to the decoder's
// start state parts.
func (l *LatentBridge) DecoderState(z anydiff.Res, n int) []anydiff.Res {
	res := make([]anydiff.Res, len(l.StateNets))
	for i, net := range l.StateNets {
		res[i] = net.Apply(z, n)
	}
	return res
}

// Parameters collects the bridge's parameters.
func (l *LatentBridge) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	layers := []anynet.Layer{l.MeanNet, l.LogvarNet}
	layers = append(layers, l.StateNets...)
	for _, layer := range layers {
		if p, ok := layer.(anynet.Parameterizer); ok {
			res = append(res, p.Parameters()...)
		}
	}
	for _, f := range l.Flows {
		res = append(res, f.Parameters()...)
	}
	return res
}

// An arLinear is a linear map whose weight matrix is
// masked strictly lower-triangular, so output i depends
// only on inputs before i.
type arLinear struct {
	Dim     int
	Weights *anydiff.Var
	Biases  *anydiff.Var

	mask anyvec.Vector
}

func newARLinear(c anyvec.Creator, dim int) *arLinear {
	weights := c.MakeVector(dim * dim)
	anyvec.Rand(weights, anyvec.Normal, nil)
	weights.Scale(c.MakeNumeric(1 / math.Sqrt(float64(dim))))
	maskData := make([]float64, dim*dim)
	for i := 0; i < dim; i++ {
		for j := 0; j < i; j++ {
			maskData[i*dim+j] = 1
		}
	}
	return &arLinear{
		Dim:     dim,
		Weights: anydiff.NewVar(weights),
		Biases:  anydiff.NewVar(c.MakeVector(dim)),
		mask:    c.MakeVectorData(c.MakeNumericList(maskData)),
	}
}

// Apply maps a packed batch of n rows.
func (a *arLinear) Apply(in anydiff.Res, n int) anydiff.Res {
	masked := anydiff.Mul(a.Weights, anydiff.NewConst(a.mask))
	inMat := &anydiff.Matrix{Data: in, Rows: n, Cols: a.Dim}
	weightMat := &anydiff.Matrix{Data: masked, Rows: a.Dim, Cols: a.Dim}
	product := anydiff.MatMul(false, true, inMat, weightMat)
	return anydiff.AddRepeated(product.Data, a.Biases)
}

// Parameters returns the weight matrix and biases.
func (a *arLinear) Parameters() []*anydiff.Var {
	return []*anydiff.Var{a.Weights, a.Biases}
}

// A FlowStep is one gated autoregressive transform in a
// normalizing flow: z'[i] = g[i]*z[i] + (1-g[i])*m[i],
// where the gate g[i] and shift m[i] depend only on
// dimensions before i. The Jacobian is triangular with
// diagonal g, so the log-determinant is sum(log g), and
// g in (0, 1) keeps the transform invertible.
type FlowStep struct {
	Mean *arLinear
	Gate *arLinear
}

func newFlowStep(c anyvec.Creator, dim int) *FlowStep {
	return &FlowStep{
		Mean: newARLinear(c, dim),
		Gate: newARLinear(c, dim),
	}
}

// Apply transforms a packed batch of n samples and
// returns the per-element log-determinant contribution.
func (f *FlowStep) Apply(z anydiff.Res, n int) (anydiff.Res, anydiff.Res) {
	c := z.Output().Creator()
	gatePre := f.Gate.Apply(z, n)
	gate := sigmoid(gatePre)
	shift := f.Mean.Apply(z, n)
	one := onesConst(c, z.Output().Len())
	newZ := anydiff.Add(anydiff.Mul(gate, z),
		anydiff.Mul(anydiff.Sub(one, gate), shift))
	return newZ, anydiff.LogSigmoid(gatePre)
}

// Parameters returns the step's parameters.
func (f *FlowStep) Parameters() []*anydiff.Var {
	return append(f.Mean.Parameters(), f.Gate.Parameters()...)
}

// A Divergence scores a latent distribution against the
// standard normal prior, averaged over the batch.
type Divergence interface {
	Divergence(mean, logvar anydiff.Res, n int) anydiff.Res
}

// ClosedFormKL is the analytic Kullback-Leibler
// divergence estimator.
type ClosedFormKL struct{}

// Divergence computes 0.5*sum(exp(lv) + m^2 - 1 - lv)
// averaged over the batch.
func (ClosedFormKL) Divergence(mean, logvar anydiff.Res, n int) anydiff.Res {
	c := mean.Output().Creator()
	sum := anydiff.Sum(klTerms(mean, logvar))
	return anydiff.Scale(sum, c.MakeNumeric(1/float64(n)))
}

// A LowerBoundedKL is the free-bits divergence
// estimator: latent dimensions are split into fixed
// groups, each group's divergence is forgiven a budget
// of FreeBits before contributing, and the clamped total
// is scaled by a Lagrange multiplier.
type LowerBoundedKL struct {
	Splits   int
	FreeBits float64
	Lambda   *Multiplier
}

// Divergence computes the lower-bounded estimate.
//
// The latent dimension must be divisible by Splits.
func (l *LowerBoundedKL) Divergence(mean, logvar anydiff.Res, n int) anydiff.Res {
	c := mean.Output().Creator()
	dim := mean.Output().Len() / n
	terms := klTerms(mean, logvar)
	mat := &anydiff.Matrix{Data: terms, Rows: n * l.Splits, Cols: dim / l.Splits}

	// One row per group; summing the columns of each row
	// yields the per-group totals.
	perGroup := anydiff.SumCols(mat)
	excess := anydiff.ClipPos(anydiff.AddScalar(perGroup, c.MakeNumeric(-l.FreeBits)))
	sum := anydiff.Sum(excess)
	return anydiff.Scale(sum, c.MakeNumeric(l.Lambda.Value()/float64(n)))
}

// klTerms computes the per-dimension closed-form KL
// contributions 0.5*(exp(lv) + m^2 - 1 - lv).
func klTerms(mean, logvar anydiff.Res) anydiff.Res {
	c := mean.Output().Creator()
	one := onesConst(c, mean.Output().Len())
	raw := anydiff.Sub(anydiff.Add(anydiff.Exp(logvar), anydiff.Mul(mean, mean)),
		anydiff.Add(one, logvar))
	return anydiff.Scale(raw, c.MakeNumeric(0.5))
}

// A Multiplier is a scalar coefficient that an external
// training driver can anneal.
type Multiplier struct {
	val float64
}

// NewMultiplier creates a Multiplier with a starting
// value.
func NewMultiplier(v float64) *Multiplier {
	return &Multiplier{val: v}
}

// Value returns the current value.
func (m *Multiplier) Value() float64 {
	return m.val
}

// Halve cuts the value in half.
func (m *Multiplier) Halve() {
	m.val /= 2
}

// A RiseRate is a scalar that starts at zero and rises
// by a fixed step on each Advance call. It anneals the
// divergence term into the training loss.
type RiseRate struct {
	val  float64
	step float64
}

// NewRiseRate creates a RiseRate with the given step.
func NewRiseRate(step float64) *RiseRate {
	return &RiseRate{step: step}
}

// Value returns the current rate.
func (r *RiseRate) Value() float64 {
	return r.val
}

// Advance raises the rate by its configured step.
func (r *RiseRate) Advance() {
	r.val += r.step
}
