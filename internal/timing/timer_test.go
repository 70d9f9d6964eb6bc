package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerSpans(t *testing.T) {
	timer := NewTimer()

	timer.Start("load")
	time.Sleep(time.Millisecond)
	timer.Stop("load")

	timer.Start("compute")
	timer.Stop("compute")

	spans := timer.Spans()
	require.Len(t, spans, 2)
	assert.Equal(t, "load", spans[0].Name)
	assert.Equal(t, "compute", spans[1].Name)
	assert.Greater(t, spans[0].Elapsed, time.Duration(0))
}

func TestTimerAccumulatesReopenedSpans(t *testing.T) {
	timer := NewTimer()

	timer.Start("phase")
	timer.Stop("phase")
	timer.Start("phase")
	timer.Stop("phase")

	spans := timer.Spans()
	require.Len(t, spans, 1)
}

func TestTimerIgnoresUnstartedStop(t *testing.T) {
	timer := NewTimer()
	timer.Stop("never")

	assert.Empty(t, timer.Spans())
}

func TestTimerOpenSpansAreNotReported(t *testing.T) {
	timer := NewTimer()
	timer.Start("running")

	assert.Empty(t, timer.Spans())
	assert.Empty(t, timer.Fields())
}

func TestNilTimerIsSafe(t *testing.T) {
	var timer *Timer
	timer.Start("x")
	timer.Stop("x")
	assert.Nil(t, timer.Spans())
}

func TestFieldsSortedByElapsed(t *testing.T) {
	timer := NewTimer()

	timer.Start("fast")
	timer.Stop("fast")
	timer.Start("slow")
	time.Sleep(2 * time.Millisecond)
	timer.Stop("slow")

	fields := timer.Fields()
	require.Len(t, fields, 2)
	assert.Equal(t, "slow", fields[0].Key)
	assert.Equal(t, "fast", fields[1].Key)
}
