// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package command

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/fairplaysec/sentinel/pkg/hostos"
	"github.com/fairplaysec/sentinel/pkg/util/log"
)

const (
	// KillCommand terminates the protected-client processes.
	KillCommand = "kill_coinpoker"
	// SnapshotCommand captures the protected-client table windows.
	SnapshotCommand = "take_snapshot"

	gracefulWait = 3 * time.Second
	pollStep     = 200 * time.Millisecond
)

// TargetProvider exposes what the lifecycle supervisor currently knows about
// the protected client. Executors depend on this interface instead of the
// supervisor itself to keep construction order one-directional.
type TargetProvider interface {
	// TargetPIDs lists the PIDs classified as the protected client.
	TargetPIDs() []int32
	// WindowMatches reports whether a window belongs to the protected
	// client's table/lobby surface.
	WindowMatches(w hostos.WindowInfo) bool
}

// RegisterBuiltins wires the built-in executors against the given host
// backend and target provider.
func RegisterBuiltins(os hostos.HostOS, targets TargetProvider) {
	RegisterExecutor(KillCommand, killExecutor(os, targets))
	RegisterExecutor(SnapshotCommand, snapshotExecutor(os, targets))
}

// killExecutor terminates every identified target process, asking nicely
// first and force-killing whatever survives the grace window.
func killExecutor(os hostos.HostOS, targets TargetProvider) Executor {
	return func(ctx context.Context) (string, error) {
		pids := targets.TargetPIDs()
		if len(pids) == 0 {
			return "no target processes running", nil
		}

		for _, pid := range pids {
			if err := os.Terminate(pid); err != nil {
				log.Debugf("command: terminate %d: %v", pid, err)
			}
		}

		survivors := waitForExit(ctx, os, pids)
		for _, pid := range survivors {
			if err := os.Kill(pid); err != nil {
				log.Warnf("command: force-kill %d: %v", pid, err)
			}
		}

		if len(survivors) > 0 {
			return fmt.Sprintf("terminated %d process(es), force-killed %d",
				len(pids)-len(survivors), len(survivors)), nil
		}
		return fmt.Sprintf("terminated %d process(es)", len(pids)), nil
	}
}

func waitForExit(ctx context.Context, os hostos.HostOS, pids []int32) []int32 {
	deadline := time.Now().Add(gracefulWait)
	remaining := append([]int32(nil), pids...)
	for time.Now().Before(deadline) && len(remaining) > 0 {
		select {
		case <-ctx.Done():
			return remaining
		case <-time.After(pollStep):
		}
		alive := remaining[:0]
		for _, pid := range remaining {
			if exists, _ := os.PIDExists(pid); exists {
				alive = append(alive, pid)
			}
		}
		remaining = alive
	}
	return remaining
}

type snapshotEntry struct {
	Title       string `json:"title"`
	ImageBase64 string `json:"image_base64"`
}

// snapshotExecutor captures every protected-client window as a PNG and
// returns them base64-encoded in a JSON array.
func snapshotExecutor(os hostos.HostOS, targets TargetProvider) Executor {
	return func(ctx context.Context) (string, error) {
		windows, err := os.Windows()
		if err != nil {
			return "", fmt.Errorf("enumerating windows: %w", err)
		}

		var entries []snapshotEntry
		var failures []string
		for _, w := range windows {
			if !targets.WindowMatches(w) {
				continue
			}
			img, err := os.CaptureWindow(w)
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", w.Title, err))
				continue
			}
			var buf bytes.Buffer
			if err := png.Encode(&buf, img); err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", w.Title, err))
				continue
			}
			entries = append(entries, snapshotEntry{
				Title:       w.Title,
				ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
			})
		}

		if len(entries) == 0 {
			if len(failures) > 0 {
				return "", fmt.Errorf("no window captured: %s", strings.Join(failures, "; "))
			}
			return "", fmt.Errorf("no target window found")
		}
		out, err := json.Marshal(entries)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}
