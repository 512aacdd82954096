package trailstop

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pms-engine/execcore/internal/symbolfmt"
)

func TestTrailStopLongRatchetsUpOnly(t *testing.T) {
	ts := New(Params{Side: symbolfmt.PositionLong, TrailPct: 2})

	trig, stop := ts.OnTick(100)
	assert.False(t, trig)
	assert.InDelta(t, 98, stop, 1e-9)

	trig, stop = ts.OnTick(110)
	assert.False(t, trig)
	assert.InDelta(t, 107.8, stop, 1e-9)

	// Retrace but not below watermark-derived stop: no ratchet down.
	trig, _ = ts.OnTick(108)
	assert.False(t, trig)

	trig, _ = ts.OnTick(107)
	assert.True(t, trig)
	assert.Equal(t, 110.0, ts.Watermark())
}

func TestTrailStopShortRatchetsDownOnly(t *testing.T) {
	ts := New(Params{Side: symbolfmt.PositionShort, TrailPct: 2})

	ts.OnTick(100)
	ts.OnTick(90)
	assert.Equal(t, 90.0, ts.Watermark())

	trig, stop := ts.OnTick(91)
	assert.False(t, trig)
	assert.InDelta(t, 91.8, stop, 1e-9)

	trig, _ = ts.OnTick(92)
	assert.True(t, trig)
}

func TestTrailStopLatchesAfterTrigger(t *testing.T) {
	ts := New(Params{Side: symbolfmt.PositionLong, TrailPct: 1})
	ts.OnTick(100)
	trig, _ := ts.OnTick(98)
	assert.True(t, trig)

	trig, _ = ts.OnTick(200)
	assert.False(t, trig)
	assert.True(t, ts.Triggered())
}

func TestTrailStopActivationGate(t *testing.T) {
	ts := New(Params{Side: symbolfmt.PositionLong, TrailPct: 2, ActivatePx: 105})

	trig, stop := ts.OnTick(101)
	assert.False(t, trig)
	assert.Equal(t, 0.0, stop)
	assert.Equal(t, 0.0, ts.Watermark())

	trig, stop = ts.OnTick(106)
	assert.False(t, trig)
	assert.InDelta(t, 103.88, stop, 1e-9)
}
