// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

// Package segments holds the built-in detection segments. Each registers
// itself with the segment catalog at init time; the scanner runtime decides
// which to schedule.
package segments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fairplaysec/sentinel/pkg/hostos"
	"github.com/fairplaysec/sentinel/pkg/segment"
	"github.com/fairplaysec/sentinel/pkg/signal"
)

// suspectPrograms maps lowercased process basenames to the severity of the
// resulting detection. The heuristics stay deliberately thin; deeper binary
// analysis lives in dedicated segments shipped separately.
var suspectPrograms = map[string]signal.Status{
	"autohotkey.exe":  signal.StatusAlert,
	"autoit3.exe":     signal.StatusAlert,
	"openholdem.exe":  signal.StatusAlert,
	"warbot.exe":      signal.StatusAlert,
	"python.exe":      signal.StatusWarn,
	"pythonw.exe":     signal.StatusWarn,
	"node.exe":        signal.StatusWarn,
	"cheatengine.exe": signal.StatusAlert,
}

func init() {
	segment.Register("programs", func(emit segment.Emitter) segment.Segment {
		return &programsSegment{emit: emit, host: hostos.Default()}
	})
}

type programsSegment struct {
	emit segment.Emitter
	host hostos.HostOS
}

func (s *programsSegment) Name() string              { return "programs" }
func (s *programsSegment) Category() signal.Category { return signal.CategoryPrograms }
func (s *programsSegment) Interval() time.Duration   { return 0 }
func (s *programsSegment) Cleanup()                  {}

func (s *programsSegment) Tick(ctx context.Context) error {
	procs, err := s.host.Processes()
	if err != nil {
		return err
	}
	for _, p := range procs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		status, ok := suspectPrograms[strings.ToLower(p.Name)]
		if !ok {
			continue
		}
		s.emit(&signal.Signal{
			Category:    signal.CategoryPrograms,
			Name:        fmt.Sprintf("Suspicious Program: %s", strings.ToLower(p.Name)),
			Status:      status,
			Details:     fmt.Sprintf("%s running (pid %d, path %s)", p.Name, p.PID, p.Exe),
			SegmentName: s.Name(),
		})
	}
	return nil
}
