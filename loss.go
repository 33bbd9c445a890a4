package bucketseq

import (
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// fullSoftmaxLoss computes the weighted cross entropy of
// full-vocabulary logits against target token rows,
// summed over every timestep and normalized by the total
// target weight.
func fullSoftmaxLoss(logits []anydiff.Res, targets [][]int, weights [][]float64,
	vocab int) anydiff.Res {
	c := logits[0].Output().Creator()
	var total anydiff.Res
	for t, stepLogits := range logits {
		logProbs := anydiff.LogSoftmax(stepLogits, vocab)
		mask := selectionMask(c, vocab, targets[t], weights[t], 0)
		term := anydiff.Sum(anydiff.Mul(logProbs, mask))
		if total == nil {
			total = term
		} else {
			total = anydiff.Add(total, term)
		}
	}
	return anydiff.Scale(total, c.MakeNumeric(-1/(weightTotal(weights)+1e-12)))
}

// sampledSoftmaxLoss trains the output projection
// against a candidate subset of the vocabulary: a shared
// random draw per timestep plus the batch's own targets.
func sampledSoftmaxLoss(proj *OutputProj, outputs []anydiff.Res, targets [][]int,
	weights [][]float64, numSamples int, rng *rand.Rand) anydiff.Res {
	c := outputs[0].Output().Creator()
	var total anydiff.Res
	for t, out := range outputs {
		n := len(targets[t])
		cands := make([]int, 0, numSamples+n)
		for i := 0; i < numSamples; i++ {
			cands = append(cands, rng.Intn(proj.Vocab))
		}
		cands = append(cands, targets[t]...)

		candWeights := gatherRows(proj.Weights, proj.In, cands)
		candBiases := gatherRows(proj.Biases, 1, cands)
		outMat := &anydiff.Matrix{Data: out, Rows: n, Cols: proj.In}
		candMat := &anydiff.Matrix{Data: candWeights, Rows: len(cands), Cols: proj.In}
		logits := anydiff.AddRepeated(anydiff.MatMul(false, true, outMat, candMat).Data,
			candBiases)

		logProbs := anydiff.LogSoftmax(logits, len(cands))
		mask := selectionMask(c, len(cands), nil, weights[t], numSamples)
		term := anydiff.Sum(anydiff.Mul(logProbs, mask))
		if total == nil {
			total = term
		} else {
			total = anydiff.Add(total, term)
		}
	}
	return anydiff.Scale(total, c.MakeNumeric(-1/(weightTotal(weights)+1e-12)))
}

// selectionMask builds a constant that picks one
// weighted entry per row of a packed [n x cols] result.
// With targets set, row b picks column targets[b];
// otherwise row b picks column diagOffset+b.
func selectionMask(c anyvec.Creator, cols int, targets []int, weights []float64,
	diagOffset int) anydiff.Res {
	data := make([]float64, len(weights)*cols)
	for b, w := range weights {
		col := diagOffset + b
		if targets != nil {
			col = targets[b]
		}
		data[b*cols+col] = w
	}
	return anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(data)))
}

func weightTotal(weights [][]float64) float64 {
	var total float64
	for _, row := range weights {
		for _, w := range row {
			total += w
		}
	}
	return total
}
