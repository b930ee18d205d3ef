// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package segments

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/fairplaysec/sentinel/pkg/segment"
	"github.com/fairplaysec/sentinel/pkg/signal"
)

func init() {
	segment.Register("system", func(emit segment.Emitter) segment.Segment {
		return &systemSegment{emit: emit}
	})
}

// systemSegment emits an OK heartbeat with host load so the dashboard can
// tell a quiet device from a dead one.
type systemSegment struct {
	emit segment.Emitter
}

func (s *systemSegment) Name() string              { return "system" }
func (s *systemSegment) Category() signal.Category { return signal.CategorySystem }
func (s *systemSegment) Interval() time.Duration   { return 0 }
func (s *systemSegment) Cleanup()                  {}

func (s *systemSegment) Tick(ctx context.Context) error {
	cpuPct, memPct := Sample(ctx)
	s.emit(&signal.Signal{
		Category:    signal.CategorySystem,
		Name:        "System Heartbeat",
		Status:      signal.StatusOK,
		Details:     fmt.Sprintf("cpu %.1f%% mem %.1f%%", cpuPct, memPct),
		SegmentName: s.Name(),
	})
	return nil
}

// Sample returns current cpu and memory utilization percentages. Shared with
// the batch loop for the report's system block.
func Sample(ctx context.Context) (cpuPct, memPct float64) {
	if percents, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false); err == nil && len(percents) > 0 {
		cpuPct = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		memPct = vm.UsedPercent
	}
	return cpuPct, memPct
}
