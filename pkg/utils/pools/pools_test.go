package pools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlicePool(t *testing.T) {
	p := NewSlicePool[float64](8)

	s := p.Get()
	assert.Len(t, s, 0)
	assert.GreaterOrEqual(t, cap(s), 8)

	s = append(s, 1, 2, 3)
	p.Put(s)

	again := p.Get()
	assert.Len(t, again, 0)

	// undersized buffers are dropped rather than pooled
	assert.NotPanics(t, func() { p.Put(make([]float64, 0, 2)) })
	assert.Len(t, p.Get(), 0)
}
