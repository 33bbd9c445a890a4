package bucketseq

// A Bucket bounds the lengths of the example pairs that
// share one unrolled computation.
//
// In is the maximum input length and Out the maximum
// output length. Outputs need one slot of headroom for
// the shifted-target layout, so an example fits when its
// input is at most In tokens and its output is strictly
// shorter than Out tokens.
type Bucket struct {
	In  int
	Out int
}

// Fits reports whether an example with the given lengths
// can be placed in the bucket.
func (b Bucket) Fits(inLen, outLen int) bool {
	return inLen <= b.In && outLen < b.Out
}

// Classify finds the first bucket that fits an example
// with the given input and output lengths.
//
// The second return value is false when no bucket fits;
// such examples should be dropped by the caller.
func Classify(buckets []Bucket, inLen, outLen int) (int, bool) {
	for i, b := range buckets {
		if b.Fits(inLen, outLen) {
			return i, true
		}
	}
	return 0, false
}
