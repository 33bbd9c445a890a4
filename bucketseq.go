// Package bucketseq implements the training and
// inference core of a bucketed sequence-to-sequence
// model with an optional variational latent bottleneck.
//
// Variable-length example pairs are grouped into fixed
// size buckets so that every bucket unrolls one bounded
// computation. All parameters are shared across buckets;
// a bucket owns nothing but its dimensions.
package bucketseq

import (
	"math/rand"

	"github.com/unixpickle/anynet/anysgd"
)

// Symbols holds the reserved token IDs consumed by the
// batch builder and the decoder.
type Symbols struct {
	PAD int
	GO  int
	UNK int
}

// A Config describes every construction-time choice of a
// Model.
//
// The bucket list must be sorted in ascending order by
// both components; unsorted buckets are undefined
// behavior.
type Config struct {
	SourceVocab int
	TargetVocab int
	Buckets     []Bucket
	Symbols     Symbols

	// Size is the number of units per recurrent layer and
	// the width of both embedding tables.
	Size   int
	Layers int

	// Variational inserts the latent bridge between the
	// encoder and the decoder.
	// Probabilistic additionally enables sampling and the
	// divergence penalty; it implies Variational.
	Variational   bool
	Probabilistic bool
	LatentDim     int

	MaxGradNorm  float64
	BatchSize    int
	LearningRate float64

	// LatentSplits, FreeBits and Lambda configure the
	// lower-bounded divergence estimator.
	// LowerBoundKL selects it over the closed form.
	LatentSplits    int
	FreeBits        float64
	Lambda          float64
	LambdaAnnealing bool
	LowerBoundKL    bool

	// Annealing scales the divergence by a rate that
	// rises by KLRateRise on each external advance.
	Annealing  bool
	KLRateRise float64

	// WordDropoutKeepProb below 1 replaces decoder input
	// tokens with Symbols.UNK at rate 1-keep.
	WordDropoutKeepProb float64

	// FeedPrevious feeds the decoder its own previous
	// prediction after the first timestep. It is forced
	// on in forward-only mode.
	FeedPrevious bool

	// BeamSize above 1 enables the beam decoding path.
	BeamSize int

	UseLSTM       bool
	Bidirectional bool

	// NumSamples enables sampled softmax when it is
	// positive and less than TargetVocab; otherwise the
	// full softmax is used.
	NumSamples int

	// Flow replaces gaussian latent sampling with a chain
	// of FlowDepth invertible transforms.
	Flow      bool
	FlowDepth int

	// ForwardOnly skips the optimizer harness entirely.
	ForwardOnly bool

	// MovingAverage tracks an exponential moving average
	// of every parameter (decay 0.999).
	MovingAverage bool

	// Transformer post-processes clipped gradients, e.g.
	// &anysgd.Adam{}. Nil means plain SGD.
	Transformer anysgd.Transformer

	// Rand drives batch sampling, word dropout and latent
	// noise. Nil selects a time-seeded source.
	Rand *rand.Rand
}

// A ConfigError describes a contradictory construction
// option.
type ConfigError struct {
	Option string
	Reason string
}

// Error returns a human-readable message.
func (c *ConfigError) Error() string {
	return "configure model: " + c.Option + ": " + c.Reason
}

func (c *Config) fillDefaults() {
	if c.Layers == 0 {
		c.Layers = 1
	}
	if c.LatentSplits == 0 {
		c.LatentSplits = 8
	}
	if c.FreeBits == 0 {
		c.FreeBits = 2
	}
	if c.Lambda == 0 {
		c.Lambda = 2
	}
	if c.WordDropoutKeepProb == 0 {
		c.WordDropoutKeepProb = 1
	}
	if c.BeamSize == 0 {
		c.BeamSize = 1
	}
	if c.FlowDepth == 0 {
		c.FlowDepth = 2
	}
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
	if c.Probabilistic {
		c.Variational = true
	}
	if c.ForwardOnly {
		c.FeedPrevious = true
	}
}

func (c *Config) validate() error {
	if c.SourceVocab <= 0 || c.TargetVocab <= 0 {
		return &ConfigError{"vocabulary", "sizes must be positive"}
	}
	if len(c.Buckets) == 0 {
		return &ConfigError{"buckets", "at least one bucket is required"}
	}
	for _, b := range c.Buckets {
		if b.In <= 0 || b.Out <= 1 {
			return &ConfigError{"buckets", "dimensions too small"}
		}
	}
	if c.Size <= 0 {
		return &ConfigError{"size", "must be positive"}
	}
	if c.Variational && c.LatentDim <= 0 {
		return &ConfigError{"latent dim", "must be positive in variational mode"}
	}
	if c.Probabilistic && c.LowerBoundKL && c.LatentDim%c.LatentSplits != 0 {
		return &ConfigError{"latent splits", "must evenly divide the latent dimension"}
	}
	if c.WordDropoutKeepProb < 0 || c.WordDropoutKeepProb > 1 {
		return &ConfigError{"word dropout", "keep probability must be in [0, 1]"}
	}
	return nil
}
