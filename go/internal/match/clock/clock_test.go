package clock

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func TestSegment_StartAndElapsed(t *testing.T) {
	var s Segment
	assert.False(t, s.Running())
	assert.Equal(t, 0, s.Elapsed(t0))

	s.Start(t0)
	require.True(t, s.Running())
	assert.Equal(t, 0, s.Elapsed(t0))
	assert.Equal(t, 0, s.Elapsed(t0.Add(999*time.Millisecond)))
	assert.Equal(t, 1, s.Elapsed(t0.Add(time.Second)))
	assert.Equal(t, 90, s.Elapsed(t0.Add(90*time.Second+500*time.Millisecond)))

	anchor := *s.Anchor
	s.Start(t0.Add(time.Minute))
	assert.Equal(t, anchor, *s.Anchor, "starting a running segment keeps its anchor")
}

func TestSegment_PauseResume(t *testing.T) {
	var s Segment
	s.Start(t0)
	s.Pause(t0.Add(30 * time.Second))
	assert.False(t, s.Running())
	assert.Equal(t, 30, s.Elapsed(t0.Add(time.Hour)))

	s.Start(t0.Add(10 * time.Minute))
	assert.Equal(t, 30, s.Elapsed(t0.Add(10*time.Minute)))
	assert.Equal(t, 45, s.Elapsed(t0.Add(10*time.Minute+15*time.Second)))

	started := s.StartedAt()
	require.NotNil(t, started)
	assert.Equal(t, t0.Add(10*time.Minute-30*time.Second), *started)
}

func TestSegment_OutOfOrderTimestamps(t *testing.T) {
	var s Segment
	s.Pause(t0)
	assert.Equal(t, 0, s.Elapsed(t0))

	s = Stopped(12)
	s.Start(t0)
	assert.Equal(t, 12, s.Elapsed(t0.Add(-5*time.Second)), "a timestamp before the anchor clamps")
	assert.Equal(t, 0, SecondsBetween(t0, t0.Add(-time.Minute)))
}

func TestSegment_Reset(t *testing.T) {
	tests := []struct {
		name        string
		running     bool
		wantRunning bool
	}{
		{name: "running stays anchored", running: true, wantRunning: true},
		{name: "stopped stays stopped", running: false, wantRunning: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Stopped(40)
			if tt.running {
				s.Start(t0)
			}
			now := t0.Add(20 * time.Second)
			s.Reset(now)
			assert.Equal(t, tt.wantRunning, s.Running())
			assert.Equal(t, 0, s.Elapsed(now))
			if tt.wantRunning {
				assert.Equal(t, 5, s.Elapsed(now.Add(5*time.Second)))
			}
		})
	}
}

func TestSegment_Freeze(t *testing.T) {
	var s Segment
	s.Start(t0)
	s.Freeze(1200)
	assert.False(t, s.Running())
	assert.Equal(t, 1200, s.Elapsed(t0.Add(time.Hour)))

	s.Freeze(-4)
	assert.Equal(t, 0, s.Elapsed(t0))
}

// Any interleaving of pauses and resumes sums to the running wall time,
// within one second per pause for flooring.
func TestSegment_PauseResumeJitter(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		var s Segment
		now := t0
		var running time.Duration
		pauses := 0
		for step := 0; step < 20; step++ {
			gap := time.Duration(rng.Int63n(int64(90 * time.Second)))
			if s.Running() {
				running += gap
			}
			now = now.Add(gap)
			if s.Running() {
				s.Pause(now)
				pauses++
			} else {
				s.Start(now)
			}
		}
		want := int(running / time.Second)
		got := s.Elapsed(now)
		assert.LessOrEqual(t, got, want, "round %d", round)
		assert.GreaterOrEqual(t, got, want-pauses, "round %d", round)
	}
}

func TestResume(t *testing.T) {
	s := Resume(t0)
	assert.True(t, s.Running())
	assert.Equal(t, 47, s.Elapsed(t0.Add(47*time.Second)))

	s.Anchor = nil
	assert.Nil(t, s.StartedAt())
}

func TestFormat(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "0:00"},
		{7, "0:07"},
		{65, "1:05"},
		{1200, "20:00"},
		{3725, "62:05"},
		{-3, "0:00"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.seconds))
		})
	}
}
