package bucketseq

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

func numericToFloat(n anyvec.Numeric) float64 {
	switch n := n.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	}
	panic("unsupported numeric type")
}

func vectorToFloats(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float64:
		return append([]float64{}, data...)
	case []float32:
		res := make([]float64, len(data))
		for i, x := range data {
			res[i] = float64(x)
		}
		return res
	}
	panic("unsupported numeric type")
}

// argmaxRows returns the index of the maximum entry in
// each row of a packed row-major vector.
func argmaxRows(v anyvec.Vector, cols int) []int {
	data := vectorToFloats(v)
	res := make([]int, len(data)/cols)
	for i := range res {
		row := data[i*cols : (i+1)*cols]
		best := 0
		for j, x := range row {
			if x > row[best] {
				best = j
			}
		}
		res[i] = best
	}
	return res
}

// logSoftmaxRows computes per-row log-softmax values in
// float64 space, for inference-time scoring.
func logSoftmaxRows(v anyvec.Vector, cols int) [][]float64 {
	data := vectorToFloats(v)
	res := make([][]float64, len(data)/cols)
	for i := range res {
		row := append([]float64{}, data[i*cols:(i+1)*cols]...)
		max := math.Inf(-1)
		for _, x := range row {
			max = math.Max(max, x)
		}
		var sum float64
		for _, x := range row {
			sum += math.Exp(x - max)
		}
		logSum := max + math.Log(sum)
		for j, x := range row {
			row[j] = x - logSum
		}
		res[i] = row
	}
	return res
}

func onesConst(c anyvec.Creator, n int) anydiff.Res {
	data := make([]float64, n)
	for i := range data {
		data[i] = 1
	}
	return anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(data)))
}

// sigmoid is expressed through tanh so that the gate
// math stays on stock anydiff ops.
func sigmoid(in anydiff.Res) anydiff.Res {
	c := in.Output().Creator()
	half := c.MakeNumeric(0.5)
	return anydiff.AddScalar(anydiff.Scale(anydiff.Tanh(anydiff.Scale(in, half)), half), half)
}
