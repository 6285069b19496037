package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeAndClassSurviveWrapping(t *testing.T) {
	base := Computation(CodeTreeFit, "forward rate not positive at step 12")
	wrapped := fmt.Errorf("fit lattice: %w", Wrap(base, "par shift +40bp"))

	assert.Equal(t, CodeTreeFit, CodeOf(wrapped))
	assert.Equal(t, ClassComputation, ClassOf(wrapped))
	assert.True(t, HasCode(wrapped, CodeTreeFit))
	assert.False(t, HasCode(nil, CodeTreeFit))
	assert.Contains(t, wrapped.Error(), "par shift +40bp")
}

func TestWrapForeignError(t *testing.T) {
	cause := stderrors.New("boom")
	err := Wrap(cause, "unexpected")

	require.Error(t, err)
	assert.Equal(t, ClassInternal, ClassOf(err))
	assert.True(t, Is(err, cause))
	assert.Nil(t, Wrap(nil, "nothing"))
}

func TestWarningsCap(t *testing.T) {
	var w Warnings
	for i := 0; i < MaxWarnings+3; i++ {
		w.Addf(WarnPayDay, "warning %d", i)
	}

	list := w.List()
	require.Len(t, list, MaxWarnings+1)
	assert.Equal(t, WarnTooMany, list[MaxWarnings].Code)
	assert.True(t, w.Overflowed())
	assert.True(t, w.Has(WarnTooMany))
	assert.Equal(t, MaxWarnings, w.Len())
}

func TestWarningsMerge(t *testing.T) {
	var a, b Warnings
	a.Add(WarnFrequency, "frequency 3 replaced by semi-annual")
	b.Merge(a.List())
	b.Add(WarnDayCount, "day count 9 replaced by 30/360")

	assert.True(t, b.Has(WarnFrequency))
	assert.True(t, b.Has(WarnDayCount))
	assert.False(t, b.Has(WarnSinkSumLow))

	var empty Warnings
	assert.Nil(t, empty.List())
}
