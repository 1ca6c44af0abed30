package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/tagflow/internal/ir"
)

func TestExecutingSet(t *testing.T) {
	low := reaction("low", 0, 0b01)
	high := reaction("high", 1, 0b01)
	other := reaction("other", 1, 0b10)

	s := NewExecutingSet()
	s.Add(0, low)
	assert.Equal(t, 1, s.Len())

	assert.Equal(t, ir.ErrCodeLevelOverflow, fatalCode(func() { s.Add(1, high) }))

	s.Add(1, other)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, ir.ErrCodeDoubleQueue, fatalCode(func() { s.Add(2, other) }))

	s.Remove(low)
	s.Add(0, high)
	assert.Equal(t, 2, s.Len())

	s.Remove(high)
	s.Remove(other)
	assert.Equal(t, 0, s.Len())
}

func TestExecutingSet_RequireIdle(t *testing.T) {
	s := NewExecutingSet()
	assert.Empty(t, fatalCode(s.RequireIdle))

	r := reaction("r", 0, 1)
	s.Add(0, r)
	assert.Equal(t, ir.ErrCodeLevelOverflow, fatalCode(s.RequireIdle))

	s.Remove(r)
	assert.Empty(t, fatalCode(s.RequireIdle))
}
