// Package clock converts wall-clock timestamps into elapsed-second counters.
//
// A Segment never counts ticks. Its value is always recomputed from an
// anchor timestamp, so a delayed, coalesced or skipped tick (a backgrounded
// tab, a locked phone, a throttled timer) cannot make it drift.
package clock

import (
	"fmt"
	"time"
)

// Segment is a pausable elapsed-seconds counter.
//
// While running, Anchor is the absolute virtual start of the counter
// (now minus everything elapsed so far) and Banked is zero. While stopped,
// Anchor is nil and Banked holds the frozen value.
type Segment struct {
	Anchor *time.Time
	Banked int
}

// Running reports whether the segment is anchored.
func (s *Segment) Running() bool {
	return s.Anchor != nil
}

// Start anchors the segment so that it resumes from its banked value.
// Starting a running segment is a no-op.
func (s *Segment) Start(now time.Time) {
	if s.Anchor != nil {
		return
	}
	anchor := now.Add(-time.Duration(s.Banked) * time.Second)
	s.Anchor = &anchor
	s.Banked = 0
}

// Elapsed returns the whole seconds counted at now.
func (s *Segment) Elapsed(now time.Time) int {
	if s.Anchor == nil {
		return s.Banked
	}
	return s.Banked + SecondsBetween(*s.Anchor, now)
}

// Pause banks the elapsed value at now and clears the anchor.
func (s *Segment) Pause(now time.Time) {
	if s.Anchor == nil {
		return
	}
	s.Banked = s.Elapsed(now)
	s.Anchor = nil
}

// Reset zeroes the segment, keeping it running if it was.
func (s *Segment) Reset(now time.Time) {
	running := s.Running()
	s.Anchor = nil
	s.Banked = 0
	if running {
		s.Start(now)
	}
}

// Freeze stops the segment at exactly value seconds.
func (s *Segment) Freeze(value int) {
	if value < 0 {
		value = 0
	}
	s.Anchor = nil
	s.Banked = value
}

// StartedAt returns the absolute virtual start of a running segment,
// or nil when it is stopped.
func (s *Segment) StartedAt() *time.Time {
	if s.Anchor == nil {
		return nil
	}
	t := *s.Anchor
	return &t
}

// Resume rebuilds a running segment from a virtual start timestamp.
func Resume(startedAt time.Time) Segment {
	anchor := startedAt
	return Segment{Anchor: &anchor}
}

// Stopped builds a stopped segment holding value seconds.
func Stopped(value int) Segment {
	if value < 0 {
		value = 0
	}
	return Segment{Banked: value}
}

// SecondsBetween returns floor((to - from) / 1s), clamped at zero.
func SecondsBetween(from, to time.Time) int {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}

// Format renders seconds as "m:ss", the way match times are shown and logged.
func Format(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
