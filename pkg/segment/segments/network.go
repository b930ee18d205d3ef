// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package segments

import (
	"context"
	"fmt"
	"time"

	gopsnet "github.com/shirou/gopsutil/v3/net"

	"github.com/fairplaysec/sentinel/pkg/segment"
	"github.com/fairplaysec/sentinel/pkg/signal"
)

// suspectPorts are local listening ports associated with remote-control and
// scripting tooling.
var suspectPorts = map[uint32]string{
	5900: "VNC",
	3389: "RDP",
	4723: "Appium",
	9222: "Chrome remote debugging",
}

func init() {
	segment.Register("network", func(emit segment.Emitter) segment.Segment {
		return &networkSegment{emit: emit}
	})
}

type networkSegment struct {
	emit segment.Emitter
}

func (s *networkSegment) Name() string              { return "network" }
func (s *networkSegment) Category() signal.Category { return signal.CategoryNetwork }
func (s *networkSegment) Interval() time.Duration   { return 0 }
func (s *networkSegment) Cleanup()                  {}

func (s *networkSegment) Tick(ctx context.Context) error {
	conns, err := gopsnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return err
	}
	for _, c := range conns {
		if c.Status != "LISTEN" {
			continue
		}
		label, ok := suspectPorts[c.Laddr.Port]
		if !ok {
			continue
		}
		s.emit(&signal.Signal{
			Category:    signal.CategoryNetwork,
			Name:        fmt.Sprintf("Remote Control Port: %s", label),
			Status:      signal.StatusWarn,
			Details:     fmt.Sprintf("%s listener on port %d (pid %d)", label, c.Laddr.Port, c.Pid),
			SegmentName: s.Name(),
		})
	}
	return nil
}
