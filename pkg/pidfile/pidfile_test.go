// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "agent.pid")
}

func TestWriteAndRemove(t *testing.T) {
	path := testPath(t)
	require.NoError(t, WritePID(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(raw))

	Remove(path)
	assert.NoFileExists(t, path)
}

func TestWriteReclaimsOwnPID(t *testing.T) {
	path := testPath(t)
	require.NoError(t, WritePID(path))
	// a second claim by the same process succeeds
	require.NoError(t, WritePID(path))
}

func TestWriteReclaimsDeadPID(t *testing.T) {
	path := testPath(t)
	// far beyond any default pid_max
	require.NoError(t, os.WriteFile(path, []byte("99999999"), 0o644))

	require.NoError(t, WritePID(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(raw))
}

func TestWriteReclaimsGarbageContent(t *testing.T) {
	path := testPath(t)
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))
	require.NoError(t, WritePID(path))
}

func TestWriteReclaimsRecycledPID(t *testing.T) {
	path := testPath(t)
	// PID 1 is alive on every platform this runs on but is never an agent
	require.NoError(t, os.WriteFile(path, []byte("1"), 0o644))
	require.NoError(t, WritePID(path))
}

func TestRemoveLeavesForeignPidfile(t *testing.T) {
	path := testPath(t)
	require.NoError(t, os.WriteFile(path, []byte("99999999"), 0o644))

	Remove(path)
	assert.FileExists(t, path, "a pidfile owned by another PID is left alone")
}

func TestWriteCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "agent.pid")
	require.NoError(t, WritePID(path))
	assert.FileExists(t, path)
}

func TestPathIsStable(t *testing.T) {
	assert.Equal(t, Path(), Path())
	assert.Contains(t, Path(), "sentinel-agent.pid")
}
