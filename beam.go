package bucketseq

import (
	"sort"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A BeamResult holds beam search outputs in two layouts.
//
// Dense gives one row per input example, right-aligned
// to the bucket's output length with PAD slots on the
// left. Indices and Values give the same tokens as a
// sparse list, where Indices[i] is an (example, offset)
// pair into the unpadded sequence.
type BeamResult struct {
	Dense   [][]int
	Indices [][2]int
	Values  []int
}

// beamHyp is one decoding hypothesis. State vectors are
// per-example slices of the decoder cell state.
type beamHyp struct {
	state  []anyvec.Vector
	tokens []int
	score  float64
	done   bool
}

// beamCand references a proposed extension of a live
// hypothesis. A token of -1 carries a finished
// hypothesis over unchanged.
type beamCand struct {
	hyp   int
	token int
	score float64
}

// BeamDecode runs beam search over the decoder for a
// batch of encoder inputs.
//
// The latent is taken at its mean, so repeated calls on
// the same inputs give the same result. A hypothesis
// finishes when it emits PAD.
func (m *Model) BeamDecode(bucket int, encoderIn [][]int) (*BeamResult, error) {
	if err := m.checkBucket(bucket); err != nil {
		return nil, err
	}
	b := m.conf.Buckets[bucket]
	if len(encoderIn) != b.In {
		return nil, &ShapeError{Slot: "encoder", Want: b.In, Got: len(encoderIn)}
	}

	n := len(encoderIn[0])
	state := m.graphs[bucket].startState(encoderIn)
	sizes := m.Decoder.Cell.StateSizes()

	res := &BeamResult{Dense: make([][]int, n)}
	for i := 0; i < n; i++ {
		parts := make([]anyvec.Vector, len(state))
		for p, full := range state {
			parts[p] = full.Output().Slice(i*sizes[p], (i+1)*sizes[p])
		}
		tokens := m.beamSearch(parts, b.Out)

		row := make([]int, b.Out)
		for j := range row {
			row[j] = m.conf.Symbols.PAD
		}
		copy(row[b.Out-len(tokens):], tokens)
		res.Dense[i] = row
		for j, tok := range tokens {
			res.Indices = append(res.Indices, [2]int{i, j})
			res.Values = append(res.Values, tok)
		}
	}
	return res, nil
}

// beamSearch decodes a single example from its start
// state, returning the best token sequence with trailing
// PADs stripped.
func (m *Model) beamSearch(start []anyvec.Vector, maxLen int) []int {
	width := m.conf.BeamSize
	hyps := []*beamHyp{{state: start}}

	for t := 0; t < maxLen; t++ {
		var live []*beamHyp
		var cands []beamCand
		for i, h := range hyps {
			if h.done {
				cands = append(cands, beamCand{hyp: i, token: -1, score: h.score})
			} else {
				live = append(live, h)
			}
		}
		if len(live) == 0 {
			break
		}

		rows := m.beamStep(live)
		liveIdx := 0
		for i, h := range hyps {
			if h.done {
				continue
			}
			for tok, lp := range rows[liveIdx] {
				cands = append(cands, beamCand{hyp: i, token: tok, score: h.score + lp})
			}
			liveIdx++
		}

		sort.Slice(cands, func(i, j int) bool {
			return cands[i].score > cands[j].score
		})
		if len(cands) > width {
			cands = cands[:width]
		}

		next := make([]*beamHyp, len(cands))
		for i, cand := range cands {
			parent := hyps[cand.hyp]
			if cand.token < 0 {
				next[i] = parent
				continue
			}
			tokens := make([]int, len(parent.tokens), len(parent.tokens)+1)
			copy(tokens, parent.tokens)
			// Siblings share the advanced state vectors but
			// need separate headers for the next step.
			state := make([]anyvec.Vector, len(parent.state))
			copy(state, parent.state)
			next[i] = &beamHyp{
				state:  state,
				tokens: append(tokens, cand.token),
				score:  cand.score,
				done:   cand.token == m.conf.Symbols.PAD,
			}
		}
		hyps = next
	}

	best := hyps[0]
	for _, h := range hyps[1:] {
		if h.score > best.score {
			best = h
		}
	}
	tokens := best.tokens
	for len(tokens) > 0 && tokens[len(tokens)-1] == m.conf.Symbols.PAD {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

// beamStep advances every live hypothesis by one decoder
// step, updating the hypothesis states in place and
// returning per-hypothesis log-probability rows.
func (m *Model) beamStep(live []*beamHyp) [][]float64 {
	c := m.creator
	sizes := m.Decoder.Cell.StateSizes()

	inIDs := make([]int, len(live))
	for i, h := range live {
		if len(h.tokens) == 0 {
			inIDs[i] = m.conf.Symbols.GO
		} else {
			inIDs[i] = h.tokens[len(h.tokens)-1]
		}
	}
	in := anydiff.NewConst(m.DecEmbedding.LookupConst(inIDs))

	state := make([]anydiff.Res, len(sizes))
	for p := range sizes {
		parts := make([]anyvec.Vector, len(live))
		for i, h := range live {
			parts[i] = h.state[p]
		}
		state[p] = anydiff.NewConst(c.Concat(parts...))
	}

	out, next := m.Decoder.Cell.Apply(state, in, len(live))
	for p, full := range next {
		vec := full.Output()
		for i, h := range live {
			h.state[p] = vec.Slice(i*sizes[p], (i+1)*sizes[p])
		}
	}

	logits := m.Proj.Apply(out, len(live))
	return logSoftmaxRows(logits.Output(), m.conf.TargetVocab)
}
