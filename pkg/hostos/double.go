// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package hostos

import (
	"errors"
	"image"
	"sync"
)

// Double is a deterministic in-memory HostOS used by tests across the
// repository. All fields may be mutated between calls; access is locked.
type Double struct {
	m sync.Mutex

	Procs      []ProcessInfo
	Wins       []WindowInfo
	Elevated   bool
	Terminated []int32
	Killed     []int32

	// CaptureImage is returned by CaptureWindow when set.
	CaptureImage image.Image
}

// NewDouble returns an empty Double.
func NewDouble() *Double {
	return &Double{}
}

// AddProcess registers a fake process.
func (d *Double) AddProcess(p ProcessInfo) {
	d.m.Lock()
	defer d.m.Unlock()
	d.Procs = append(d.Procs, p)
}

// AddWindow registers a fake window.
func (d *Double) AddWindow(w WindowInfo) {
	d.m.Lock()
	defer d.m.Unlock()
	d.Wins = append(d.Wins, w)
}

// Processes implements HostOS.
func (d *Double) Processes() ([]ProcessInfo, error) {
	d.m.Lock()
	defer d.m.Unlock()
	out := make([]ProcessInfo, len(d.Procs))
	copy(out, d.Procs)
	return out, nil
}

// Process implements HostOS.
func (d *Double) Process(pid int32) (ProcessInfo, error) {
	d.m.Lock()
	defer d.m.Unlock()
	for _, p := range d.Procs {
		if p.PID == pid {
			return p, nil
		}
	}
	return ProcessInfo{}, errors.New("no such process")
}

// Children implements HostOS.
func (d *Double) Children(pid int32) ([]ProcessInfo, error) {
	d.m.Lock()
	defer d.m.Unlock()
	var out []ProcessInfo
	for _, p := range d.Procs {
		if p.ParentPID == pid {
			out = append(out, p)
		}
	}
	return out, nil
}

// PIDExists implements HostOS.
func (d *Double) PIDExists(pid int32) (bool, error) {
	_, err := d.Process(pid)
	return err == nil, nil
}

// Terminate implements HostOS and records the call.
func (d *Double) Terminate(pid int32) error {
	d.m.Lock()
	defer d.m.Unlock()
	d.Terminated = append(d.Terminated, pid)
	return nil
}

// Kill implements HostOS, records the call and removes the process.
func (d *Double) Kill(pid int32) error {
	d.m.Lock()
	defer d.m.Unlock()
	d.Killed = append(d.Killed, pid)
	kept := d.Procs[:0]
	for _, p := range d.Procs {
		if p.PID != pid {
			kept = append(kept, p)
		}
	}
	d.Procs = kept
	return nil
}

// Windows implements HostOS.
func (d *Double) Windows() ([]WindowInfo, error) {
	d.m.Lock()
	defer d.m.Unlock()
	out := make([]WindowInfo, len(d.Wins))
	copy(out, d.Wins)
	return out, nil
}

// CaptureWindow implements HostOS.
func (d *Double) CaptureWindow(WindowInfo) (image.Image, error) {
	d.m.Lock()
	defer d.m.Unlock()
	if d.CaptureImage == nil {
		return nil, ErrUnsupported
	}
	return d.CaptureImage, nil
}

// IsElevated implements HostOS.
func (d *Double) IsElevated() bool {
	d.m.Lock()
	defer d.m.Unlock()
	return d.Elevated
}
