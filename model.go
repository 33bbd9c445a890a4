package bucketseq

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// A ShapeError indicates that an input's length does not
// match the bucket's declared dimensions.
type ShapeError struct {
	Slot string
	Want int
	Got  int
}

// Error returns a human-readable message.
func (s *ShapeError) Error() string {
	return fmt.Sprintf("%s length must be equal to the one in bucket, %d != %d",
		s.Slot, s.Got, s.Want)
}

// A Model holds the shared parameters of every bucket's
// computation and exposes the step-level operations.
//
// A Model is not safe for concurrent use; callers
// sharing one instance must serialize their calls.
type Model struct {
	EncEmbedding *Embedding
	DecEmbedding *Embedding
	Encoder      *Encoder
	Bridge       *LatentBridge
	Decoder      *Decoder
	Proj         *OutputProj
	Divergence   Divergence

	// InitNets map the encoder state to the decoder start
	// state in non-variational mode.
	InitNets []anynet.Layer

	// KLRate and Lambda are annealing scalars advanced
	// only by an external training driver.
	KLRate *RiseRate
	Lambda *Multiplier

	// EMA is non-nil when the model tracks a moving
	// average of its parameters.
	EMA *EMA

	conf       *Config
	creator    anyvec.Creator
	rng        *rand.Rand
	graphs     []*bucketGraph
	params     []*anydiff.Var
	globalStep int64
}

// StepResult holds the outcome of a Step call.
type StepResult struct {
	// GradNorm is the pre-clip global gradient norm. It
	// is zero in forward-only steps.
	GradNorm float64

	Loss       float64
	Divergence float64

	// Outputs holds the per-position full-vocabulary
	// logits. It is nil in training steps.
	Outputs []anyvec.Vector
}

// NewModel creates a model with freshly initialized
// parameters.
func NewModel(c anyvec.Creator, conf *Config) (*Model, error) {
	cp := *conf
	cp.fillDefaults()
	if err := cp.validate(); err != nil {
		return nil, err
	}

	rng := cp.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	m := &Model{
		EncEmbedding: NewEmbedding(c, cp.SourceVocab, cp.Size),
		DecEmbedding: NewEmbedding(c, cp.TargetVocab, cp.Size),
		Encoder:      newEncoder(c, &cp),
		Proj:         NewOutputProj(c, cp.Size, cp.TargetVocab),
		Lambda:       NewMultiplier(cp.Lambda),
		KLRate:       NewRiseRate(cp.KLRateRise),
		conf:         &cp,
		creator:      c,
		rng:          rng,
	}

	cell := make(StackCell, cp.Layers)
	for i := range cell {
		if cp.UseLSTM {
			cell[i] = NewLSTMCell(c, cp.Size, cp.Size)
		} else {
			cell[i] = NewGRUCell(c, cp.Size, cp.Size)
		}
	}
	m.Decoder = &Decoder{
		Cell:         cell,
		Embedding:    m.DecEmbedding,
		Proj:         m.Proj,
		KeepProb:     cp.WordDropoutKeepProb,
		UNK:          cp.Symbols.UNK,
		FeedPrevious: cp.FeedPrevious,
	}

	if cp.Variational {
		m.Bridge = newLatentBridge(c, &cp, cell.StateSizes())
		if cp.LowerBoundKL {
			m.Divergence = &LowerBoundedKL{
				Splits:   cp.LatentSplits,
				FreeBits: cp.FreeBits,
				Lambda:   m.Lambda,
			}
		} else {
			m.Divergence = ClosedFormKL{}
		}
	} else {
		for _, size := range cell.StateSizes() {
			m.InitNets = append(m.InitNets, anynet.Net{
				anynet.NewFC(c, cp.Size, size),
				anynet.Tanh,
			})
		}
	}

	m.collectParams()
	for _, b := range cp.Buckets {
		m.graphs = append(m.graphs, &bucketGraph{m: m, bucket: b})
	}
	if cp.MovingAverage && !cp.ForwardOnly {
		m.EMA = newEMA(m.params, 0.999)
	}
	return m, nil
}

func (m *Model) collectParams() {
	m.params = append(m.params, m.EncEmbedding.Parameters()...)
	m.params = append(m.params, m.DecEmbedding.Parameters()...)
	m.params = append(m.params, m.Encoder.Parameters()...)
	m.params = append(m.params, m.Decoder.Parameters()...)
	m.params = append(m.params, m.Proj.Parameters()...)
	if m.Bridge != nil {
		m.params = append(m.params, m.Bridge.Parameters()...)
	}
	for _, net := range m.InitNets {
		if p, ok := net.(anynet.Parameterizer); ok {
			m.params = append(m.params, p.Parameters()...)
		}
	}
}

// Parameters returns the shared parameter registry in a
// stable order.
func (m *Model) Parameters() []*anydiff.Var {
	return m.params
}

// AdvanceKLRate raises the divergence annealing rate by
// its configured step. It is a no-op unless annealing is
// enabled.
func (m *Model) AdvanceKLRate() {
	if m.conf.Annealing {
		m.KLRate.Advance()
	}
}

// HalveLambda halves the free-bits Lagrange multiplier.
// It is a no-op unless lambda annealing is enabled.
func (m *Model) HalveLambda() {
	if m.conf.LambdaAnnealing {
		m.Lambda.Halve()
	}
}

// GlobalStep returns the number of applied updates.
func (m *Model) GlobalStep() int64 {
	return m.globalStep
}

// Buckets returns the model's bucket table.
func (m *Model) Buckets() []Bucket {
	return m.conf.Buckets
}

// Step runs one training or inference step for a bucket.
//
// In training mode (forwardOnly false) the gradient is
// computed, clipped and applied, and the result carries
// the pre-clip gradient norm with nil outputs. In
// forward-only mode no update happens and the result
// carries the per-position full-vocabulary logits.
func (m *Model) Step(bucket int, batch *Batch, forwardOnly bool) (*StepResult, error) {
	if err := m.checkBucket(bucket); err != nil {
		return nil, err
	}
	b := m.conf.Buckets[bucket]
	if len(batch.EncoderIn) != b.In {
		return nil, &ShapeError{Slot: "encoder", Want: b.In, Got: len(batch.EncoderIn)}
	}
	if len(batch.DecoderIn) != b.Out {
		return nil, &ShapeError{Slot: "decoder", Want: b.Out, Got: len(batch.DecoderIn)}
	}
	if len(batch.Weights) != b.Out {
		return nil, &ShapeError{Slot: "weights", Want: b.Out, Got: len(batch.Weights)}
	}
	if !forwardOnly && m.conf.ForwardOnly {
		return nil, errors.New("step: model was built forward-only")
	}

	g := m.graphs[bucket]
	out := g.forward(batch.EncoderIn, batch.DecoderIn, batch.Weights, !forwardOnly)

	res := &StepResult{
		Loss:       scalarValue(out.Loss),
		Divergence: scalarValue(out.Divergence),
	}
	if forwardOnly {
		n := len(batch.DecoderIn[0])
		for _, logits := range g.project(out.Raw, n) {
			res.Outputs = append(res.Outputs, logits.Output())
		}
		return res, nil
	}

	res.GradNorm = m.applyGradients(m.combineLosses(out))
	return res, nil
}

// combineLosses merges reconstruction and divergence
// terms per the annealing configuration.
func (m *Model) combineLosses(out *graphOut) anydiff.Res {
	if !m.conf.Probabilistic {
		return out.Loss
	}
	div := out.Divergence
	if m.conf.Annealing {
		div = anydiff.Scale(div, m.creator.MakeNumeric(m.KLRate.Value()))
	}
	return anydiff.Add(out.Loss, div)
}

// EncodeToLatent maps a batch of encoder inputs to the
// latent distribution parameters for a bucket.
func (m *Model) EncodeToLatent(bucket int, encoderIn [][]int) (mean, logvar anyvec.Vector, err error) {
	if err := m.checkBucket(bucket); err != nil {
		return nil, nil, err
	}
	if m.Bridge == nil {
		return nil, nil, errors.New("encode to latent: model has no latent bridge")
	}
	b := m.conf.Buckets[bucket]
	if len(encoderIn) != b.In {
		return nil, nil, &ShapeError{Slot: "encoder", Want: b.In, Got: len(encoderIn)}
	}
	meanRes, logvarRes := m.graphs[bucket].latentParams(encoderIn)
	return meanRes.Output(), logvarRes.Output(), nil
}

// DecodeFromLatent decodes from externally held latent
// parameters, bypassing the encoder entirely.
//
// In non-probabilistic mode the supplied logvar is
// ignored (the feed is zero-filled) and the output is
// deterministic across repeated calls.
func (m *Model) DecodeFromLatent(bucket int, mean, logvar anyvec.Vector,
	decoderIn [][]int, weights [][]float64) ([]anyvec.Vector, error) {
	if err := m.checkBucket(bucket); err != nil {
		return nil, err
	}
	if m.Bridge == nil {
		return nil, errors.New("decode from latent: model has no latent bridge")
	}
	b := m.conf.Buckets[bucket]
	if len(decoderIn) != b.Out {
		return nil, &ShapeError{Slot: "decoder", Want: b.Out, Got: len(decoderIn)}
	}
	if len(weights) != b.Out {
		return nil, &ShapeError{Slot: "weights", Want: b.Out, Got: len(weights)}
	}
	n := len(decoderIn[0])
	if mean.Len() != n*m.conf.LatentDim {
		return nil, &ShapeError{Slot: "mean", Want: n * m.conf.LatentDim, Got: mean.Len()}
	}

	meanRes := anydiff.NewConst(mean)
	var logvarRes anydiff.Res
	if m.conf.Probabilistic {
		if logvar == nil || logvar.Len() != mean.Len() {
			got := 0
			if logvar != nil {
				got = logvar.Len()
			}
			return nil, &ShapeError{Slot: "logvar", Want: mean.Len(), Got: got}
		}
		logvarRes = anydiff.NewConst(logvar)
	} else {
		logvarRes = anydiff.NewConst(m.creator.MakeVector(mean.Len()))
	}

	g := m.graphs[bucket]
	out := g.fromLatent(meanRes, logvarRes, decoderIn, weights, true)
	var res []anyvec.Vector
	for _, logits := range g.project(out.Raw, n) {
		res = append(res, logits.Output())
	}
	return res, nil
}

// GetBatch samples a training batch for a bucket from
// example pools pre-partitioned by bucket.
func (m *Model) GetBatch(bucket int, pools [][]Example) (*Batch, error) {
	if err := m.checkBucket(bucket); err != nil {
		return nil, err
	}
	if len(pools) != len(m.conf.Buckets) {
		return nil, fmt.Errorf("get batch: have %d pools for %d buckets",
			len(pools), len(m.conf.Buckets))
	}
	if len(pools[bucket]) == 0 {
		return nil, errors.New("get batch: empty example pool")
	}
	return NewBatch(m.conf.Buckets[bucket], pools[bucket], m.conf.BatchSize,
		m.conf.Symbols, m.rng), nil
}

func (m *Model) checkBucket(bucket int) error {
	if bucket < 0 || bucket >= len(m.conf.Buckets) {
		return essentials.AddCtx("lookup bucket",
			fmt.Errorf("index %d out of range [0, %d)", bucket, len(m.conf.Buckets)))
	}
	return nil
}

func (m *Model) sampledSoftmax() bool {
	return m.conf.NumSamples > 0 && m.conf.NumSamples < m.conf.TargetVocab
}

func scalarValue(res anydiff.Res) float64 {
	return numericToFloat(anyvec.Sum(res.Output()))
}
