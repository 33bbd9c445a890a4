package bucketseq

import (
	"math/rand"
	"reflect"
	"testing"
)

func TestNewBatchLayout(t *testing.T) {
	syms := Symbols{PAD: 0, GO: 1, UNK: 2}
	bucket := Bucket{In: 5, Out: 6}
	pool := []Example{{Input: []int{7, 8, 9}, Output: []int{3, 4}}}
	batch := NewBatch(bucket, pool, 2, syms, rand.New(rand.NewSource(3)))

	// The input is right-padded and then reversed, so
	// padding ends up in front of the reversed tokens.
	expectedEnc := []int{0, 0, 9, 8, 7}
	expectedDec := []int{1, 3, 4, 0, 0, 0}
	expectedWeights := []float64{1, 1, 0, 0, 0, 0}

	for col := 0; col < 2; col++ {
		for t1, row := range batch.EncoderIn {
			if row[col] != expectedEnc[t1] {
				t.Errorf("encoder step %d col %d: got %d expected %d",
					t1, col, row[col], expectedEnc[t1])
			}
		}
		for t1, row := range batch.DecoderIn {
			if row[col] != expectedDec[t1] {
				t.Errorf("decoder step %d col %d: got %d expected %d",
					t1, col, row[col], expectedDec[t1])
			}
		}
		for t1, row := range batch.Weights {
			if row[col] != expectedWeights[t1] {
				t.Errorf("weight step %d col %d: got %f expected %f",
					t1, col, row[col], expectedWeights[t1])
			}
		}
	}
}

func TestNewBatchReproducible(t *testing.T) {
	syms := Symbols{PAD: 0, GO: 1, UNK: 2}
	bucket := Bucket{In: 6, Out: 7}
	var pool []Example
	gen := rand.New(rand.NewSource(5))
	for i := 0; i < 20; i++ {
		in := make([]int, 1+gen.Intn(6))
		out := make([]int, gen.Intn(6))
		for j := range in {
			in[j] = 3 + gen.Intn(7)
		}
		for j := range out {
			out[j] = 3 + gen.Intn(7)
		}
		pool = append(pool, Example{Input: in, Output: out})
	}

	b1 := NewBatch(bucket, pool, 8, syms, rand.New(rand.NewSource(13)))
	b2 := NewBatch(bucket, pool, 8, syms, rand.New(rand.NewSource(13)))
	if !reflect.DeepEqual(b1, b2) {
		t.Error("batches differ under identical sampling sources")
	}
}
