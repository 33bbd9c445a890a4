package bucketseq

import (
	"fmt"

	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

// Snapshot serializes the model parameters as a single
// contiguous vector.
//
// When useAverage is set and the model tracks a moving
// average, the averaged parameter values are stored
// instead of the raw ones.
func (m *Model) Snapshot(useAverage bool) (data []byte, err error) {
	defer essentials.AddCtxTo("snapshot", &err)
	parts := make([]anyvec.Vector, len(m.params))
	for i, p := range m.params {
		if useAverage && m.EMA != nil {
			parts[i] = m.EMA.Shadow(p)
		} else {
			parts[i] = p.Vector
		}
	}
	joined := m.creator.Concat(parts...)
	return serializer.SerializeAny(&anyvecsave.S{Vector: joined})
}

// Restore overwrites the model parameters with a
// Snapshot payload.
//
// The snapshot must come from a model with the same
// configuration; a size mismatch is reported without
// touching any parameter. Moving-average shadows are
// reset to the restored values.
func (m *Model) Restore(data []byte) (err error) {
	defer essentials.AddCtxTo("restore snapshot", &err)
	var saved *anyvecsave.S
	if err := serializer.DeserializeAny(data, &saved); err != nil {
		return err
	}

	var total int
	for _, p := range m.params {
		total += p.Vector.Len()
	}
	if saved.Vector.Len() != total {
		return fmt.Errorf("have %d values but need %d",
			saved.Vector.Len(), total)
	}

	var offset int
	for _, p := range m.params {
		p.Vector.Set(saved.Vector.Slice(offset, offset+p.Vector.Len()))
		offset += p.Vector.Len()
	}
	if m.EMA != nil {
		m.EMA = newEMA(m.params, m.EMA.Decay)
	}
	return nil
}
