// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package segments

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/fairplaysec/sentinel/pkg/segment"
	"github.com/fairplaysec/sentinel/pkg/signal"
)

// vmMACPrefixes are OUI prefixes of common hypervisor NICs.
var vmMACPrefixes = map[string]string{
	"00:05:69": "VMware",
	"00:0c:29": "VMware",
	"00:50:56": "VMware",
	"08:00:27": "VirtualBox",
	"00:15:5d": "Hyper-V",
	"52:54:00": "QEMU/KVM",
}

func init() {
	segment.Register("vm", func(emit segment.Emitter) segment.Segment {
		return &vmSegment{emit: emit}
	})
}

type vmSegment struct {
	emit segment.Emitter
}

func (s *vmSegment) Name() string              { return "vm" }
func (s *vmSegment) Category() signal.Category { return signal.CategoryVM }
func (s *vmSegment) Interval() time.Duration   { return 0 }
func (s *vmSegment) Cleanup()                  {}

func (s *vmSegment) Tick(ctx context.Context) error {
	system, role, err := host.VirtualizationWithContext(ctx)
	if err == nil && system != "" && role == "guest" {
		s.emit(&signal.Signal{
			Category:    signal.CategoryVM,
			Name:        "Virtual Machine Detected",
			Status:      signal.StatusWarn,
			Details:     fmt.Sprintf("running as a %s guest", system),
			SegmentName: s.Name(),
		})
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return err
	}
	for _, iface := range ifaces {
		mac := iface.HardwareAddr.String()
		if len(mac) < 8 {
			continue
		}
		if vendor, ok := vmMACPrefixes[strings.ToLower(mac[:8])]; ok {
			s.emit(&signal.Signal{
				Category:    signal.CategoryVM,
				Name:        fmt.Sprintf("Hypervisor NIC: %s", vendor),
				Status:      signal.StatusWarn,
				Details:     fmt.Sprintf("interface %s has %s MAC %s", iface.Name, vendor, mac),
				SegmentName: s.Name(),
			})
		}
	}
	return nil
}
