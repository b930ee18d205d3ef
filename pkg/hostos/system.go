// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package hostos

import (
	"fmt"
	"image"

	"github.com/shirou/gopsutil/v3/process"
)

// systemOS is the production backend. Process observation goes through
// gopsutil; window enumeration and capture are platform files.
type systemOS struct{}

func newSystemOS() *systemOS {
	return &systemOS{}
}

func (s *systemOS) Processes() ([]ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}
	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		info, err := inspect(p)
		if err != nil {
			// processes die or deny access mid-scan, skip them
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

func (s *systemOS) Process(pid int32) (ProcessInfo, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return ProcessInfo{}, err
	}
	return inspect(p)
}

func (s *systemOS) Children(pid int32) ([]ProcessInfo, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}
	children, err := p.Children()
	if err != nil {
		return nil, err
	}
	out := make([]ProcessInfo, 0, len(children))
	for _, c := range children {
		info, err := inspect(c)
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

func (s *systemOS) PIDExists(pid int32) (bool, error) {
	return process.PidExists(pid)
}

func (s *systemOS) Terminate(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	return p.Terminate()
}

func (s *systemOS) Kill(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func (s *systemOS) Windows() ([]WindowInfo, error) {
	return enumWindows()
}

func (s *systemOS) CaptureWindow(w WindowInfo) (image.Image, error) {
	return captureWindow(w)
}

func (s *systemOS) IsElevated() bool {
	return isElevated()
}

func inspect(p *process.Process) (ProcessInfo, error) {
	name, err := p.Name()
	if err != nil {
		return ProcessInfo{}, err
	}
	info := ProcessInfo{PID: p.Pid, Name: name}
	// best effort for the rest, access is frequently denied
	info.Exe, _ = p.Exe()
	info.Cwd, _ = p.Cwd()
	info.Cmdline, _ = p.CmdlineSlice()
	info.ParentPID, _ = p.Ppid()
	return info, nil
}
