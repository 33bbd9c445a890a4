package bucketseq

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
)

// A Cell applies one timestep of a recurrent unit to a
// packed batch of inputs.
//
// State is carried as one or more packed differentiable
// vectors, so callers can substitute their own start
// state (e.g. one derived from a latent sample).
type Cell interface {
	anynet.Parameterizer

	// StateSizes returns the per-sequence size of each
	// state vector.
	StateSizes() []int

	// Start produces the learned start state for n
	// sequences.
	Start(n int) []anydiff.Res

	// Apply runs one timestep over n sequences.
	Apply(state []anydiff.Res, in anydiff.Res, n int) (out anydiff.Res, next []anydiff.Res)
}

// A GRUCell is a gated recurrent unit.
type GRUCell struct {
	Hidden int

	UpdateX *anynet.FC
	UpdateH *anynet.FC
	ResetX  *anynet.FC
	ResetH  *anynet.FC
	CandX   *anynet.FC
	CandH   *anynet.FC

	InitState *anydiff.Var
}

// NewGRUCell creates a GRUCell with in inputs and hidden
// units.
func NewGRUCell(c anyvec.Creator, in, hidden int) *GRUCell {
	return &GRUCell{
		Hidden:    hidden,
		UpdateX:   anynet.NewFC(c, in, hidden),
		UpdateH:   anynet.NewFC(c, hidden, hidden),
		ResetX:    anynet.NewFC(c, in, hidden),
		ResetH:    anynet.NewFC(c, hidden, hidden),
		CandX:     anynet.NewFC(c, in, hidden),
		CandH:     anynet.NewFC(c, hidden, hidden),
		InitState: anydiff.NewVar(c.MakeVector(hidden)),
	}
}

// StateSizes returns the hidden state size.
func (g *GRUCell) StateSizes() []int {
	return []int{g.Hidden}
}

// Start repeats the learned start state n times.
func (g *GRUCell) Start(n int) []anydiff.Res {
	return []anydiff.Res{repeatRes(g.InitState, n)}
}

// Apply runs one GRU timestep.
func (g *GRUCell) Apply(state []anydiff.Res, in anydiff.Res, n int) (anydiff.Res, []anydiff.Res) {
	h := state[0]
	update := sigmoid(anydiff.Add(g.UpdateX.Apply(in, n), g.UpdateH.Apply(h, n)))
	reset := sigmoid(anydiff.Add(g.ResetX.Apply(in, n), g.ResetH.Apply(h, n)))
	cand := anydiff.Tanh(anydiff.Add(g.CandX.Apply(in, n),
		g.CandH.Apply(anydiff.Mul(reset, h), n)))
	newH := anydiff.Add(h, anydiff.Mul(update, anydiff.Sub(cand, h)))
	return newH, []anydiff.Res{newH}
}

// Parameters returns the gate parameters and the start
// state.
func (g *GRUCell) Parameters() []*anydiff.Var {
	res := []*anydiff.Var{g.InitState}
	fcs := []*anynet.FC{g.UpdateX, g.UpdateH, g.ResetX, g.ResetH, g.CandX, g.CandH}
	for _, fc := range fcs {
		res = append(res, fc.Parameters()...)
	}
	return res
}

// An LSTMCell is a long short-term memory unit.
type LSTMCell struct {
	Hidden int

	InX     *anynet.FC
	InH     *anynet.FC
	ForgetX *anynet.FC
	ForgetH *anynet.FC
	OutX    *anynet.FC
	OutH    *anynet.FC
	CandX   *anynet.FC
	CandH   *anynet.FC

	InitHidden *anydiff.Var
	InitCell   *anydiff.Var
}

// NewLSTMCell creates an LSTMCell with in inputs and
// hidden units.
func NewLSTMCell(c anyvec.Creator, in, hidden int) *LSTMCell {
	return &LSTMCell{
		Hidden:     hidden,
		InX:        anynet.NewFC(c, in, hidden),
		InH:        anynet.NewFC(c, hidden, hidden),
		ForgetX:    anynet.NewFC(c, in, hidden),
		ForgetH:    anynet.NewFC(c, hidden, hidden),
		OutX:       anynet.NewFC(c, in, hidden),
		OutH:       anynet.NewFC(c, hidden, hidden),
		CandX:      anynet.NewFC(c, in, hidden),
		CandH:      anynet.NewFC(c, hidden, hidden),
		InitHidden: anydiff.NewVar(c.MakeVector(hidden)),
		InitCell:   anydiff.NewVar(c.MakeVector(hidden)),
	}
}

// StateSizes returns the hidden and cell state sizes.
func (l *LSTMCell) StateSizes() []int {
	return []int{l.Hidden, l.Hidden}
}

// Start repeats the learned start states n times.
func (l *LSTMCell) Start(n int) []anydiff.Res {
	return []anydiff.Res{repeatRes(l.InitHidden, n), repeatRes(l.InitCell, n)}
}

// Apply runs one LSTM timestep.
func (l *LSTMCell) Apply(state []anydiff.Res, in anydiff.Res, n int) (anydiff.Res, []anydiff.Res) {
	h, cell := state[0], state[1]
	inGate := sigmoid(anydiff.Add(l.InX.Apply(in, n), l.InH.Apply(h, n)))
	forget := sigmoid(anydiff.Add(l.ForgetX.Apply(in, n), l.ForgetH.Apply(h, n)))
	outGate := sigmoid(anydiff.Add(l.OutX.Apply(in, n), l.OutH.Apply(h, n)))
	cand := anydiff.Tanh(anydiff.Add(l.CandX.Apply(in, n), l.CandH.Apply(h, n)))
	newCell := anydiff.Add(anydiff.Mul(forget, cell), anydiff.Mul(inGate, cand))
	newH := anydiff.Mul(outGate, anydiff.Tanh(newCell))
	return newH, []anydiff.Res{newH, newCell}
}

// Parameters returns the gate parameters and the start
// states.
func (l *LSTMCell) Parameters() []*anydiff.Var {
	res := []*anydiff.Var{l.InitHidden, l.InitCell}
	fcs := []*anynet.FC{l.InX, l.InH, l.ForgetX, l.ForgetH, l.OutX, l.OutH,
		l.CandX, l.CandH}
	for _, fc := range fcs {
		res = append(res, fc.Parameters()...)
	}
	return res
}

// A StackCell feeds each timestep through a stack of
// cells, layer by layer.
type StackCell []Cell

// StateSizes concatenates the per-layer state sizes.
func (s StackCell) StateSizes() []int {
	var res []int
	for _, cell := range s {
		res = append(res, cell.StateSizes()...)
	}
	return res
}

// Start concatenates the per-layer start states.
func (s StackCell) Start(n int) []anydiff.Res {
	var res []anydiff.Res
	for _, cell := range s {
		res = append(res, cell.Start(n)...)
	}
	return res
}

// Apply runs one timestep of every layer.
func (s StackCell) Apply(state []anydiff.Res, in anydiff.Res, n int) (anydiff.Res, []anydiff.Res) {
	var next []anydiff.Res
	out := in
	for _, cell := range s {
		k := len(cell.StateSizes())
		var sub []anydiff.Res
		out, sub = cell.Apply(state[:k], out, n)
		state = state[k:]
		next = append(next, sub...)
	}
	return out, next
}

// Parameters collects the parameters of every layer.
func (s StackCell) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, cell := range s {
		res = append(res, cell.Parameters()...)
	}
	return res
}

// repeatRes tiles a per-sequence vector across a batch.
func repeatRes(v *anydiff.Var, n int) anydiff.Res {
	c := v.Vector.Creator()
	zero := anydiff.NewConst(c.MakeVector(n * v.Vector.Len()))
	return anydiff.AddRepeated(zero, v)
}
