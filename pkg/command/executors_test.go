// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package command

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairplaysec/sentinel/pkg/hostos"
)

type stubTargets struct {
	pids   []int32
	titles []string
}

func (s *stubTargets) TargetPIDs() []int32 { return s.pids }

func (s *stubTargets) WindowMatches(w hostos.WindowInfo) bool {
	for _, t := range s.titles {
		if strings.Contains(strings.ToLower(w.Title), strings.ToLower(t)) {
			return true
		}
	}
	return false
}

func TestKillExecutorNoTargets(t *testing.T) {
	out, err := killExecutor(hostos.NewDouble(), &stubTargets{})(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "no target processes running", out)
}

func TestKillExecutorForceKillsSurvivors(t *testing.T) {
	double := hostos.NewDouble()
	double.AddProcess(hostos.ProcessInfo{PID: 100, Name: "coinpoker.exe"})
	double.AddProcess(hostos.ProcessInfo{PID: 101, Name: "updater.exe"})
	targets := &stubTargets{pids: []int32{100, 101}}

	// the Double ignores Terminate, so both processes survive the grace
	// window and must be force-killed
	out, err := killExecutor(double, targets)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "terminated 0 process(es), force-killed 2", out)
	assert.ElementsMatch(t, []int32{100, 101}, double.Terminated)
	assert.ElementsMatch(t, []int32{100, 101}, double.Killed)
	assert.Empty(t, double.Procs)
}

func TestKillExecutorSkipsAlreadyGonePIDs(t *testing.T) {
	double := hostos.NewDouble()
	targets := &stubTargets{pids: []int32{100}}

	// PID 100 is not in the process table: terminate is attempted but the
	// grace-window poll sees it gone immediately, so no force kill
	out, err := killExecutor(double, targets)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "terminated 1 process(es)", out)
	assert.Empty(t, double.Killed)
}

func TestSnapshotExecutorCapturesMatchingWindows(t *testing.T) {
	double := hostos.NewDouble()
	double.CaptureImage = image.NewRGBA(image.Rect(0, 0, 2, 2))
	double.AddWindow(hostos.WindowInfo{PID: 100, Title: "CoinPoker Table 42"})
	double.AddWindow(hostos.WindowInfo{PID: 200, Title: "Notepad"})
	targets := &stubTargets{titles: []string{"coinpoker"}}

	out, err := snapshotExecutor(double, targets)(context.Background())
	require.NoError(t, err)

	var entries []snapshotEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "CoinPoker Table 42", entries[0].Title)

	raw, err := base64.StdEncoding.DecodeString(entries[0].ImageBase64)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 2), img.Bounds())
}

func TestSnapshotExecutorNoTargetWindow(t *testing.T) {
	double := hostos.NewDouble()
	double.AddWindow(hostos.WindowInfo{PID: 200, Title: "Notepad"})

	_, err := snapshotExecutor(double, &stubTargets{titles: []string{"coinpoker"}})(context.Background())
	assert.ErrorContains(t, err, "no target window found")
}

func TestSnapshotExecutorCaptureUnsupported(t *testing.T) {
	double := hostos.NewDouble() // CaptureImage unset: CaptureWindow fails
	double.AddWindow(hostos.WindowInfo{PID: 100, Title: "CoinPoker Lobby"})

	_, err := snapshotExecutor(double, &stubTargets{titles: []string{"coinpoker"}})(context.Background())
	assert.ErrorContains(t, err, "no window captured")
}

func TestExecutorNamesSorted(t *testing.T) {
	RegisterBuiltins(hostos.NewDouble(), &stubTargets{})
	names := ExecutorNames()
	assert.Contains(t, names, KillCommand)
	assert.Contains(t, names, SnapshotCommand)
	assert.IsIncreasing(t, names)
}
