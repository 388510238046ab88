package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFake_AdvanceAndSet(t *testing.T) {
	t0 := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	f := NewFake(t0)

	require.Equal(t, t0, f.Now())
	require.Equal(t, t0, f.Now(), "non-ticking clock stands still")

	f.Advance(time.Minute)
	require.Equal(t, t0.Add(time.Minute), f.Now())

	f.Set(t0)
	require.Equal(t, t0, f.Now())
}

func TestTicking_AdvancesPerRead(t *testing.T) {
	t0 := time.Unix(100, 0)
	f := NewTicking(t0, time.Millisecond)

	first := f.Now()
	second := f.Now()
	require.Equal(t, time.Millisecond, second.Sub(first))
}

func TestReal_IsCurrent(t *testing.T) {
	before := time.Now()
	got := Real().Now()
	require.False(t, got.Before(before))
}
