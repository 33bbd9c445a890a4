package bucketseq

import (
	"math/rand"

	"github.com/unixpickle/anydiff"
)

// A Decoder unrolls the shared cell stack over decoder
// inputs, producing one raw (unprojected) output per
// timestep.
type Decoder struct {
	Cell      Cell
	Embedding *Embedding
	Proj      *OutputProj

	// KeepProb below 1 enables word dropout: ground-truth
	// input tokens are replaced with UNK at rate 1-keep.
	KeepProb float64
	UNK      int

	// FeedPrevious feeds the embedding of the previous
	// argmax prediction instead of the ground truth after
	// the first timestep.
	FeedPrevious bool
}

// Apply unrolls the decoder from an initial state over
// time-major input token rows.
//
// rng drives word dropout; it may be nil when KeepProb
// is 1.
func (d *Decoder) Apply(state []anydiff.Res, inputs [][]int, rng *rand.Rand) []anydiff.Res {
	n := len(inputs[0])
	outs := make([]anydiff.Res, 0, len(inputs))
	var prev anydiff.Res
	for t, row := range inputs {
		var in anydiff.Res
		if t > 0 && d.FeedPrevious {
			logits := d.Proj.Apply(prev, n)
			ids := argmaxRows(logits.Output(), d.Proj.Vocab)
			in = anydiff.NewConst(d.Embedding.LookupConst(ids))
		} else {
			in = d.Embedding.Lookup(d.dropWords(row, rng))
		}
		var out anydiff.Res
		out, state = d.Cell.Apply(state, in, n)
		outs = append(outs, out)
		prev = out
	}
	return outs
}

// Parameters collects the cell parameters. The embedding
// and projection are owned by the model and registered
// separately.
func (d *Decoder) Parameters() []*anydiff.Var {
	return d.Cell.Parameters()
}

func (d *Decoder) dropWords(row []int, rng *rand.Rand) []int {
	if d.KeepProb >= 1 || rng == nil {
		return row
	}
	out := append([]int{}, row...)
	for i := range out {
		if rng.Float64() >= d.KeepProb {
			out[i] = d.UNK
		}
	}
	return out
}
