package bucketseq

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
)

// A bucketGraph wires encoder, latent bridge, decoder
// and losses for one bucket. Every parameter is shared
// with the owning Model; the graph owns only its
// bucket's dimensions.
type bucketGraph struct {
	m      *Model
	bucket Bucket
}

// graphOut bundles the expressions produced by one
// forward construction.
type graphOut struct {
	Loss       anydiff.Res
	Divergence anydiff.Res
	Mean       anydiff.Res
	Logvar     anydiff.Res

	// Raw holds the unprojected per-step decoder outputs.
	Raw []anydiff.Res
}

// encode applies the encoder over the bucket's input
// rows and returns the final state.
func (g *bucketGraph) encode(encIn [][]int) anydiff.Res {
	n := len(encIn[0])
	present := make([]bool, n)
	for i := range present {
		present[i] = true
	}
	batches := make([]*anyseq.ResBatch, len(encIn))
	for t, row := range encIn {
		batches[t] = &anyseq.ResBatch{
			Packed:  g.m.EncEmbedding.Lookup(row),
			Present: present,
		}
	}
	seq := anyseq.ResSeq(g.m.creator, batches)

	var reversed anyseq.Seq
	if g.m.Encoder.Backward != nil {
		rev := make([]*anyseq.ResBatch, len(encIn))
		for t := range encIn {
			rev[t] = &anyseq.ResBatch{
				Packed:  g.m.EncEmbedding.Lookup(encIn[len(encIn)-1-t]),
				Present: present,
			}
		}
		reversed = anyseq.ResSeq(g.m.creator, rev)
	}
	return g.m.Encoder.Apply(seq, reversed)
}

// latentParams computes the latent distribution for the
// bucket's input rows.
func (g *bucketGraph) latentParams(encIn [][]int) (mean, logvar anydiff.Res) {
	encState := g.encode(encIn)
	return g.m.Bridge.Project(encState, len(encIn[0]))
}

// startState computes the deterministic decoder start
// state for the bucket's input rows, taking the latent
// mean when the model is variational.
func (g *bucketGraph) startState(encIn [][]int) []anydiff.Res {
	n := len(encIn[0])
	encState := g.encode(encIn)
	if !g.m.conf.Variational {
		state := make([]anydiff.Res, len(g.m.InitNets))
		for i, net := range g.m.InitNets {
			state[i] = net.Apply(encState, n)
		}
		return state
	}
	mean, _ := g.m.Bridge.Project(encState, n)
	return g.m.Bridge.DecoderState(mean, n)
}

// forward assembles the full encoder-to-loss graph.
// When sample is set (and the model is probabilistic)
// the latent is drawn with fresh noise; otherwise the
// mean is used directly.
func (g *bucketGraph) forward(encIn, decIn [][]int, weights [][]float64,
	sample bool) *graphOut {
	n := len(decIn[0])
	encState := g.encode(encIn)

	if !g.m.conf.Variational {
		state := make([]anydiff.Res, len(g.m.InitNets))
		for i, net := range g.m.InitNets {
			state[i] = net.Apply(encState, n)
		}
		out := g.decodeLoss(state, decIn, weights)
		out.Divergence = g.zeroScalar()
		return out
	}

	mean, logvar := g.m.Bridge.Project(encState, n)
	return g.fromLatent(mean, logvar, decIn, weights, sample)
}

// fromLatent assembles the decoder-to-loss graph from
// externally held (or freshly computed) latent
// distribution parameters.
func (g *bucketGraph) fromLatent(mean, logvar anydiff.Res, decIn [][]int,
	weights [][]float64, sample bool) *graphOut {
	n := len(decIn[0])
	c := g.m.creator

	if !g.m.conf.Probabilistic {
		// Sampling is disabled: the log-variance slot is a
		// zero-filled float vector and the mean is used
		// deterministically.
		logvar = anydiff.NewConst(c.MakeVector(mean.Output().Len()))
	}

	z := mean
	var logdet anydiff.Res
	if g.m.conf.Probabilistic && sample {
		z, logdet = g.m.Bridge.Sample(mean, logvar, n, g.m.rng)
	}

	out := g.decodeLoss(g.m.Bridge.DecoderState(z, n), decIn, weights)
	out.Mean = mean
	out.Logvar = logvar

	div := g.m.Divergence.Divergence(mean, logvar, n)
	if logdet != nil {
		div = anydiff.Sub(div,
			anydiff.Scale(anydiff.Sum(logdet), c.MakeNumeric(1/float64(n))))
	}
	out.Divergence = div
	return out
}

// decodeLoss unrolls the decoder and attaches the
// configured reconstruction loss.
func (g *bucketGraph) decodeLoss(state []anydiff.Res, decIn [][]int,
	weights [][]float64) *graphOut {
	n := len(decIn[0])
	raw := g.m.Decoder.Apply(state, decIn, g.m.rng)
	targets := g.shiftTargets(decIn)

	var loss anydiff.Res
	if g.m.sampledSoftmax() {
		loss = sampledSoftmaxLoss(g.m.Proj, raw, targets, weights,
			g.m.conf.NumSamples, g.m.rng)
	} else {
		loss = fullSoftmaxLoss(g.project(raw, n), targets, weights,
			g.m.conf.TargetVocab)
	}
	return &graphOut{Loss: loss, Raw: raw}
}

// project maps raw decoder outputs to full-vocabulary
// logits, one result per timestep.
func (g *bucketGraph) project(raw []anydiff.Res, n int) []anydiff.Res {
	res := make([]anydiff.Res, len(raw))
	for i, out := range raw {
		res[i] = g.m.Proj.Apply(out, n)
	}
	return res
}

// shiftTargets derives target rows: the decoder inputs
// shifted by one, with a synthetic all-PAD slot as the
// final target.
func (g *bucketGraph) shiftTargets(decIn [][]int) [][]int {
	n := len(decIn[0])
	targets := make([][]int, len(decIn))
	for t := 1; t < len(decIn); t++ {
		targets[t-1] = decIn[t]
	}
	last := make([]int, n)
	for i := range last {
		last[i] = g.m.conf.Symbols.PAD
	}
	targets[len(decIn)-1] = last
	return targets
}

func (g *bucketGraph) zeroScalar() anydiff.Res {
	return anydiff.NewConst(g.m.creator.MakeVector(1))
}
