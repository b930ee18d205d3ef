// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package segment

import (
	"context"
	"sync"
	"time"

	"github.com/fairplaysec/sentinel/pkg/util/log"
)

// joinTimeout bounds how long Stop waits for segment goroutines. Segments
// that do not exit in time are abandoned so the process can always exit.
const joinTimeout = 500 * time.Millisecond

// Scheduler runs each segment in its own goroutine, distributing initial
// offsets uniformly across the batch window to avoid a thundering herd.
type Scheduler struct {
	m        sync.Mutex
	segments []Segment
	running  bool

	batchInterval time.Duration
	syncSegments  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler returns a scheduler for the given segments. When syncSegments
// is set, start offsets are zeroed and intervals shorter than the batch
// interval are raised to it, so every window holds one tick per segment.
func NewScheduler(segments []Segment, batchInterval time.Duration, syncSegments bool) *Scheduler {
	return &Scheduler{
		segments:      segments,
		batchInterval: batchInterval,
		syncSegments:  syncSegments,
	}
}

// StartOffsets computes the initial tick offsets for n segments across the
// batch window: offset_i = i * (window / n), or all zero in sync mode.
func StartOffsets(n int, window time.Duration, syncSegments bool) []time.Duration {
	offsets := make([]time.Duration, n)
	if syncSegments || n == 0 {
		return offsets
	}
	step := window / time.Duration(n)
	for i := range offsets {
		offsets[i] = time.Duration(i) * step
	}
	return offsets
}

// Start launches all segment loops. Idempotent while running.
func (s *Scheduler) Start() {
	s.m.Lock()
	defer s.m.Unlock()
	if s.running {
		return
	}
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	offsets := StartOffsets(len(s.segments), s.batchInterval, s.syncSegments)
	for i, seg := range s.segments {
		s.wg.Add(1)
		go s.runSegment(ctx, seg, offsets[i])
	}
	log.Infof("scheduler: started %d segment(s) over a %s window (stagger=%v)",
		len(s.segments), s.batchInterval, !s.syncSegments)
}

// Stop is the two-phase shutdown: signal every segment, run cleanups, then
// join with a short timeout.
func (s *Scheduler) Stop() {
	s.m.Lock()
	defer s.m.Unlock()
	if !s.running {
		return
	}
	s.running = false

	s.cancel()
	for _, seg := range s.segments {
		s.cleanupSegment(seg)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(joinTimeout):
		log.Warnf("scheduler: segment goroutines did not stop within %s, abandoning", joinTimeout)
	}
	log.Info("scheduler: stopped")
}

// Running reports how many segments are scheduled.
func (s *Scheduler) Running() int {
	s.m.Lock()
	defer s.m.Unlock()
	if !s.running {
		return 0
	}
	return len(s.segments)
}

// Names returns the segment names in scheduling order.
func (s *Scheduler) Names() []string {
	names := make([]string, len(s.segments))
	for i, seg := range s.segments {
		names[i] = seg.Name()
	}
	return names
}

// Staggered reports whether offsets are distributed.
func (s *Scheduler) Staggered() bool {
	return !s.syncSegments
}

func (s *Scheduler) interval(seg Segment) time.Duration {
	interval := seg.Interval()
	if interval <= 0 {
		interval = s.batchInterval
	}
	if s.syncSegments && interval < s.batchInterval {
		interval = s.batchInterval
	}
	return interval
}

func (s *Scheduler) runSegment(ctx context.Context, seg Segment, offset time.Duration) {
	defer s.wg.Done()

	if offset > 0 {
		select {
		case <-time.After(offset):
		case <-ctx.Done():
			return
		}
	}

	s.tick(ctx, seg)
	ticker := time.NewTicker(s.interval(seg))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tick(ctx, seg)
		case <-ctx.Done():
			return
		}
	}
}

// tick runs one scan pass with panic isolation: a broken segment never takes
// down its siblings or the scheduler.
func (s *Scheduler) tick(ctx context.Context, seg Segment) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("scheduler: segment %s panicked: %v", seg.Name(), r)
		}
	}()
	if err := seg.Tick(ctx); err != nil {
		log.Warnf("scheduler: segment %s tick failed: %v", seg.Name(), err)
	}
}

func (s *Scheduler) cleanupSegment(seg Segment) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("scheduler: segment %s cleanup panicked: %v", seg.Name(), r)
		}
	}()
	seg.Cleanup()
}
