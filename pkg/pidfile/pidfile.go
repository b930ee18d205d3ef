// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

// Package pidfile keeps a single agent instance per host. The lock file
// holds the owner PID; a file left behind by a dead or recycled PID is
// reclaimed instead of blocking startup.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

// agentProcessToken identifies our own binary when deciding whether a
// pidfile owner is a live agent or a recycled PID.
const agentProcessToken = "sentinel"

// Path returns the default pidfile location.
func Path() string {
	return filepath.Join(os.TempDir(), "sentinel-agent.pid")
}

// WritePID claims the pidfile at path. It fails when another live agent
// holds it and silently reclaims stale locks.
func WritePID(path string) error {
	if pid, ok := readPID(path); ok {
		if isLiveAgent(pid) {
			return fmt.Errorf("another agent instance is running (pid %d)", pid)
		}
		// stale lock: owner is gone or the PID was recycled by an
		// unrelated process
		_ = os.Remove(path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// Remove deletes the pidfile if this process owns it.
func Remove(path string) {
	if pid, ok := readPID(path); ok && pid == os.Getpid() {
		_ = os.Remove(path)
	}
}

func readPID(path string) (int, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// isLiveAgent reports whether pid belongs to a running agent process and
// not to some unrelated program that inherited the number.
func isLiveAgent(pid int) bool {
	if pid == os.Getpid() {
		return false
	}
	proc, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	name, err := proc.Name()
	if err != nil {
		// process exists but is unreadable, err on the safe side
		return true
	}
	return strings.Contains(strings.ToLower(name), agentProcessToken)
}
