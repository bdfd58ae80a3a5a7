package timer

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestClockWheelPrepareAndDispatch(t *testing.T) {
	clock := clockwork.NewFakeClock()
	w := NewClockWheel(clock, 10*time.Millisecond, time.Second)

	w.Prepare("nak-1")

	d, ok := w.Check()
	require.True(t, ok)
	require.Greater(t, d, time.Duration(0))

	clock.Advance(d)

	var fired []string
	w.Dispatch(clock.Now(), func(id string) { fired = append(fired, id) })
	require.Equal(t, []string{"nak-1"}, fired)
}

func TestClockWheelResetStopsRetry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	w := NewClockWheel(clock, time.Millisecond, time.Second)

	w.Prepare("nak-2")
	w.Reset("nak-2")

	_, ok := w.Check()
	require.False(t, ok)
}

func TestClockWheelBacksOffOnRepeatedPrepare(t *testing.T) {
	clock := clockwork.NewFakeClock()
	w := NewClockWheel(clock, 10*time.Millisecond, time.Second)

	first := w.Prepare("nak-3")
	clock.Advance(time.Hour) // the second deadline is measured from a later now
	second := w.Prepare("nak-3")

	require.True(t, second.After(first))
}

func TestClockWheelCheckEmpty(t *testing.T) {
	clock := clockwork.NewFakeClock()
	w := NewClockWheel(clock, time.Millisecond, time.Second)
	_, ok := w.Check()
	require.False(t, ok)
}
