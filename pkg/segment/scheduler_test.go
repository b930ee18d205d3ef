// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package segment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/fairplaysec/sentinel/pkg/signal"
)

type fakeSegment struct {
	name     string
	interval time.Duration
	ticks    atomic.Int32
	cleanups atomic.Int32
	panics   bool
}

func (f *fakeSegment) Name() string              { return f.name }
func (f *fakeSegment) Category() signal.Category { return signal.CategoryPrograms }
func (f *fakeSegment) Interval() time.Duration   { return f.interval }
func (f *fakeSegment) Cleanup()                  { f.cleanups.Add(1) }

func (f *fakeSegment) Tick(ctx context.Context) error {
	f.ticks.Add(1)
	if f.panics {
		panic("segment blew up")
	}
	return nil
}

func TestStartOffsetsStaggered(t *testing.T) {
	offsets := StartOffsets(4, 60*time.Second, false)
	assert.Equal(t, []time.Duration{
		0,
		15 * time.Second,
		30 * time.Second,
		45 * time.Second,
	}, offsets)
}

func TestStartOffsetsSyncMode(t *testing.T) {
	offsets := StartOffsets(4, 60*time.Second, true)
	assert.Equal(t, make([]time.Duration, 4), offsets)
}

func TestStartOffsetsEmpty(t *testing.T) {
	assert.Empty(t, StartOffsets(0, 60*time.Second, false))
}

func TestIntervalDefaultsAndSyncFloor(t *testing.T) {
	staggered := NewScheduler(nil, 60*time.Second, false)
	synced := NewScheduler(nil, 60*time.Second, true)

	// zero interval always falls back to the batch interval
	assert.Equal(t, 60*time.Second, staggered.interval(&fakeSegment{}))
	assert.Equal(t, 60*time.Second, synced.interval(&fakeSegment{}))

	// short intervals survive staggered mode, rise to the window in sync mode
	short := &fakeSegment{interval: 10 * time.Second}
	assert.Equal(t, 10*time.Second, staggered.interval(short))
	assert.Equal(t, 60*time.Second, synced.interval(short))

	// long intervals are never shortened
	long := &fakeSegment{interval: 5 * time.Minute}
	assert.Equal(t, 5*time.Minute, synced.interval(long))
}

func TestSchedulerRunsAndStops(t *testing.T) {
	segA := &fakeSegment{name: "a", interval: time.Hour}
	segB := &fakeSegment{name: "b", interval: time.Hour}
	s := NewScheduler([]Segment{segA, segB}, time.Hour, true)

	assert.Equal(t, 0, s.Running())
	s.Start()
	assert.Equal(t, 2, s.Running())
	assert.Equal(t, []string{"a", "b"}, s.Names())
	assert.False(t, s.Staggered())

	// sync mode ticks immediately, once per segment
	require.Eventually(t, func() bool {
		return segA.ticks.Load() == 1 && segB.ticks.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	assert.Equal(t, 0, s.Running())
	assert.Equal(t, int32(1), segA.cleanups.Load())
	assert.Equal(t, int32(1), segB.cleanups.Load())

	s.Stop() // idempotent
	assert.Equal(t, int32(1), segA.cleanups.Load())
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	seg := &fakeSegment{name: "a", interval: time.Hour}
	s := NewScheduler([]Segment{seg}, time.Hour, true)
	defer s.Stop()

	s.Start()
	s.Start()
	require.Eventually(t, func() bool { return seg.ticks.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), seg.ticks.Load(), "a second Start must not double the loops")
}

func TestSchedulerIsolatesPanickingSegment(t *testing.T) {
	bad := &fakeSegment{name: "bad", interval: 20 * time.Millisecond, panics: true}
	good := &fakeSegment{name: "good", interval: 20 * time.Millisecond}
	s := NewScheduler([]Segment{bad, good}, 20*time.Millisecond, true)
	defer s.Stop()

	s.Start()
	require.Eventually(t, func() bool {
		return bad.ticks.Load() >= 2 && good.ticks.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond, "both segments keep ticking despite the panic")
}

func TestStaggeredStartDelaysLaterSegments(t *testing.T) {
	segA := &fakeSegment{name: "a", interval: time.Hour}
	segB := &fakeSegment{name: "b", interval: time.Hour}
	s := NewScheduler([]Segment{segA, segB}, 200*time.Millisecond, false)
	defer s.Stop()

	s.Start()
	assert.True(t, s.Staggered())

	// segment a ticks at offset 0, segment b only after its 100ms offset
	require.Eventually(t, func() bool { return segA.ticks.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), segB.ticks.Load())
	require.Eventually(t, func() bool { return segB.ticks.Load() == 1 }, time.Second, 5*time.Millisecond)
}
