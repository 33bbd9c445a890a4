package bucketseq

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// An Embedding maps token IDs to dense vectors.
type Embedding struct {
	Dim     int
	Weights *anydiff.Var
}

// NewEmbedding creates a randomly initialized table with
// vocab rows of size dim.
func NewEmbedding(c anyvec.Creator, vocab, dim int) *Embedding {
	data := c.MakeVector(vocab * dim)
	anyvec.Rand(data, anyvec.Normal, nil)
	data.Scale(c.MakeNumeric(1 / math.Sqrt(float64(dim))))
	return &Embedding{Dim: dim, Weights: anydiff.NewVar(data)}
}

// Vocab returns the number of rows in the table.
func (e *Embedding) Vocab() int {
	return e.Weights.Vector.Len() / e.Dim
}

// Replace overwrites the entire table, e.g. with
// pre-trained vectors laid out row-major.
//
// It is meant for startup injection only; replacing the
// table after training has begun is unsupported.
func (e *Embedding) Replace(values anyvec.Vector) {
	if values.Len() != e.Weights.Vector.Len() {
		panic("replacement size mismatch")
	}
	e.Weights.Vector.Set(values)
}

// Lookup produces the packed batch of rows for the given
// IDs. Gradients propagate back into the table.
func (e *Embedding) Lookup(ids []int) anydiff.Res {
	return gatherRows(e.Weights, e.Dim, ids)
}

// LookupConst fetches rows without gradient tracking,
// for inference-time feedback inputs.
func (e *Embedding) LookupConst(ids []int) anyvec.Vector {
	return gatherRows(e.Weights, e.Dim, ids).Output().Copy()
}

// Parameters returns the table itself.
func (e *Embedding) Parameters() []*anydiff.Var {
	return []*anydiff.Var{e.Weights}
}

// gatherRows slices rows out of a row-major matrix
// variable and concatenates them.
// Its backward pass scatter-adds the upstream back into
// the matrix through slice views.
func gatherRows(matrix *anydiff.Var, dim int, ids []int) anydiff.Res {
	vocab := matrix.Vector.Len() / dim
	rows := make([]anyvec.Vector, len(ids))
	for i, id := range ids {
		if id < 0 || id >= vocab {
			panic("row index out of range")
		}
		rows[i] = matrix.Vector.Slice(id*dim, (id+1)*dim)
	}
	c := matrix.Vector.Creator()
	return &gatherRes{
		Matrix: matrix,
		Dim:    dim,
		IDs:    ids,
		Out:    c.Concat(rows...),
		V:      anydiff.NewVarSet(matrix),
	}
}

type gatherRes struct {
	Matrix *anydiff.Var
	Dim    int
	IDs    []int
	Out    anyvec.Vector
	V      anydiff.VarSet
}

func (g *gatherRes) Output() anyvec.Vector {
	return g.Out
}

func (g *gatherRes) Vars() anydiff.VarSet {
	return g.V
}

func (g *gatherRes) Propagate(u anyvec.Vector, grad anydiff.Grad) {
	vec, ok := grad[g.Matrix]
	if !ok {
		return
	}
	for i, id := range g.IDs {
		row := vec.Slice(id*g.Dim, (id+1)*g.Dim)
		row.Add(u.Slice(i*g.Dim, (i+1)*g.Dim))
	}
}
