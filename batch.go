package bucketseq

import "math/rand"

// An Example is one unpadded pair of token ID sequences.
type Example struct {
	Input  []int
	Output []int
}

// A Batch holds time-major model inputs for one bucket.
//
// Each field has one row per timestep and one column per
// sampled example. EncoderIn rows span the bucket's
// input length; DecoderIn and Weights rows span its
// output length.
type Batch struct {
	// EncoderIn holds the padded, reversed input tokens.
	EncoderIn [][]int

	// DecoderIn holds the GO-prefixed, padded output
	// tokens.
	DecoderIn [][]int

	// Weights is 1 at real-target positions and 0 at the
	// final position and wherever the next decoder input
	// is padding.
	Weights [][]float64
}

// NewBatch samples batchSize examples uniformly with
// replacement from pool and lays them out for bucket b.
//
// Encoder inputs are left-padded to b.In with syms.PAD
// and then reversed. Decoder inputs get a leading
// syms.GO and are right-padded to b.Out.
//
// The pool must be non-empty.
func NewBatch(b Bucket, pool []Example, batchSize int, syms Symbols, rng *rand.Rand) *Batch {
	if len(pool) == 0 {
		panic("empty example pool")
	}

	encRows := make([][]int, batchSize)
	decRows := make([][]int, batchSize)
	for i := range encRows {
		example := pool[rng.Intn(len(pool))]

		// Right-pad the input and reverse the whole padded
		// sequence, leaving the padding up front.
		enc := make([]int, b.In)
		for j := 0; j < b.In-len(example.Input); j++ {
			enc[j] = syms.PAD
		}
		for j, tok := range example.Input {
			enc[b.In-1-j] = tok
		}
		encRows[i] = enc

		dec := make([]int, b.Out)
		dec[0] = syms.GO
		copy(dec[1:], example.Output)
		for j := len(example.Output) + 1; j < b.Out; j++ {
			dec[j] = syms.PAD
		}
		decRows[i] = dec
	}

	res := &Batch{
		EncoderIn: make([][]int, b.In),
		DecoderIn: make([][]int, b.Out),
		Weights:   make([][]float64, b.Out),
	}
	for t := range res.EncoderIn {
		row := make([]int, batchSize)
		for i, enc := range encRows {
			row[i] = enc[t]
		}
		res.EncoderIn[t] = row
	}
	for t := range res.DecoderIn {
		row := make([]int, batchSize)
		weights := make([]float64, batchSize)
		for i, dec := range decRows {
			row[i] = dec[t]
			// The target for position t is the decoder input
			// at t+1; the last position's target lies one
			// past the array and is always padding.
			if t < b.Out-1 && dec[t+1] != syms.PAD {
				weights[i] = 1
			}
		}
		res.DecoderIn[t] = row
		res.Weights[t] = weights
	}
	return res
}
