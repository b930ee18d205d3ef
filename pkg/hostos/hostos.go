// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

// Package hostos isolates every OS observation the agent makes (processes,
// windows, screenshots, elevation) behind one interface so the pipeline can
// run against a deterministic double in tests and a platform backend in
// production.
package hostos

import (
	"errors"
	"image"
)

// ErrUnsupported is returned by platform backends that cannot serve a
// request on the current OS (e.g. window enumeration outside Windows).
var ErrUnsupported = errors.New("hostos: not supported on this platform")

// ProcessInfo is a point-in-time observation of one process.
type ProcessInfo struct {
	PID       int32
	ParentPID int32
	Name      string
	Exe       string
	Cwd       string
	Cmdline   []string
}

// WindowInfo describes one top-level window.
type WindowInfo struct {
	PID    int32
	Handle uintptr
	Title  string
	Class  string
}

// HostOS is the full host observation surface the core depends on.
type HostOS interface {
	// Processes lists all visible processes. Partial results with a nil
	// error are acceptable: unreadable processes are skipped.
	Processes() ([]ProcessInfo, error)
	// Process inspects a single PID.
	Process(pid int32) (ProcessInfo, error)
	// Children lists direct children of a PID.
	Children(pid int32) ([]ProcessInfo, error)
	// PIDExists reports whether a PID is alive.
	PIDExists(pid int32) (bool, error)
	// Terminate asks a process to exit gracefully.
	Terminate(pid int32) error
	// Kill force-kills a process.
	Kill(pid int32) error
	// Windows lists top-level windows. ErrUnsupported off Windows.
	Windows() ([]WindowInfo, error)
	// CaptureWindow captures a window's client area. ErrUnsupported off
	// Windows.
	CaptureWindow(w WindowInfo) (image.Image, error)
	// IsElevated reports whether the agent runs with admin rights.
	IsElevated() bool
}

var defaultOS HostOS = newSystemOS()

// Default returns the process-wide host backend.
func Default() HostOS {
	return defaultOS
}

// SetDefault replaces the process-wide backend. Tests use this to install a
// Double; production code never calls it.
func SetDefault(h HostOS) {
	defaultOS = h
}
