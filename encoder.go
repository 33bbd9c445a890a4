package bucketseq

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
)

// An Encoder maps an embedded input sequence to a fixed
// size final hidden state.
type Encoder struct {
	Forward anyrnn.Block

	// Backward, FwdTrans and BackTrans are set in
	// bidirectional mode. Backward reads the reversed
	// sequence; the two transforms combine the final
	// states of both passes.
	Backward  anyrnn.Block
	FwdTrans  anynet.Layer
	BackTrans anynet.Layer
}

func newEncoder(c anyvec.Creator, conf *Config) *Encoder {
	res := &Encoder{Forward: encoderBlock(c, conf)}
	if conf.Bidirectional {
		res.Backward = encoderBlock(c, conf)
		res.FwdTrans = anynet.NewFC(c, conf.Size, conf.Size)
		res.BackTrans = anynet.NewFC(c, conf.Size, conf.Size)
	}
	return res
}

func encoderBlock(c anyvec.Creator, conf *Config) anyrnn.Block {
	var stack anyrnn.Stack
	for i := 0; i < conf.Layers; i++ {
		if conf.UseLSTM {
			stack = append(stack, anyrnn.NewLSTM(c, conf.Size, conf.Size))
		} else {
			stack = append(stack, anyrnn.NewVanilla(c, conf.Size, conf.Size, anynet.Tanh))
		}
	}
	return stack
}

// Apply encodes a batch of embedded sequences, given in
// both time orders. The reversed sequence may be nil
// when the encoder is unidirectional.
//
// There must be at least one sequence, and all sequences
// must be non-empty.
func (e *Encoder) Apply(seqs, reversed anyseq.Seq) anydiff.Res {
	if len(seqs.Output()) == 0 {
		panic("must have at least one sequence")
	}
	if seqs.Output()[0].NumPresent() != len(seqs.Output()[0].Present) {
		panic("input sequences must be non-empty")
	}
	tail := anyseq.Tail(anyrnn.Map(seqs, e.Forward))
	if e.Backward == nil {
		return tail
	}
	n := seqs.Output()[0].NumPresent()
	backTail := anyseq.Tail(anyrnn.Map(reversed, e.Backward))
	return anydiff.Tanh(anydiff.Add(e.FwdTrans.Apply(tail, n),
		e.BackTrans.Apply(backTail, n)))
}

// Parameters collects the parameters of every pass.
func (e *Encoder) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, obj := range []interface{}{e.Forward, e.Backward, e.FwdTrans, e.BackTrans} {
		if p, ok := obj.(anynet.Parameterizer); ok {
			res = append(res, p.Parameters()...)
		}
	}
	return res
}
