// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairplaysec/sentinel/pkg/hostos"
)

type fakeSource struct {
	pending  []Command
	fetchErr error
	results  []Result
}

func (f *fakeSource) Fetch(ctx context.Context) ([]Command, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	cmds := f.pending
	f.pending = nil
	return cmds, nil
}

func (f *fakeSource) Report(ctx context.Context, res Result) error {
	f.results = append(f.results, res)
	return nil
}

func TestPollExecutesAndReports(t *testing.T) {
	RegisterExecutor("echo_test", func(ctx context.Context) (string, error) {
		return "hello", nil
	})

	src := &fakeSource{pending: []Command{{ID: "c1", Command: "echo_test"}}}
	p := NewPoller(src, "device-1", WithHostOS(hostos.NewDouble()))
	p.Poll(context.Background())

	require.Len(t, src.results, 1)
	res := src.results[0]
	assert.Equal(t, "c1", res.CommandID)
	assert.Equal(t, "device-1", res.DeviceID)
	assert.Equal(t, "echo_test", res.Command)
	assert.True(t, res.Success)
	assert.Equal(t, "hello", res.Output)
}

func TestPollReportsExecutorFailure(t *testing.T) {
	RegisterExecutor("fail_test", func(ctx context.Context) (string, error) {
		return "", errors.New("boom")
	})

	src := &fakeSource{pending: []Command{{ID: "c1", Command: "fail_test"}}}
	p := NewPoller(src, "device-1", WithHostOS(hostos.NewDouble()))
	p.Poll(context.Background())

	require.Len(t, src.results, 1)
	assert.False(t, src.results[0].Success)
	assert.Equal(t, "boom", src.results[0].Error)
	assert.False(t, src.results[0].AdminRequired)
}

func TestPollUnknownCommand(t *testing.T) {
	src := &fakeSource{pending: []Command{{ID: "c1", Command: "no_such_thing"}}}
	p := NewPoller(src, "device-1", WithHostOS(hostos.NewDouble()))
	p.Poll(context.Background())

	require.Len(t, src.results, 1)
	assert.False(t, src.results[0].Success)
	assert.Contains(t, src.results[0].Error, "unknown command")
}

func TestRequireAdminFailsFastWithoutElevation(t *testing.T) {
	executed := false
	RegisterExecutor("admin_test", func(ctx context.Context) (string, error) {
		executed = true
		return "", nil
	})

	double := hostos.NewDouble() // Elevated defaults to false
	src := &fakeSource{pending: []Command{{ID: "c1", Command: "admin_test", RequireAdmin: true}}}
	p := NewPoller(src, "device-1", WithHostOS(double))
	p.Poll(context.Background())

	require.Len(t, src.results, 1)
	res := src.results[0]
	assert.False(t, executed, "executor must not run without elevation")
	assert.False(t, res.Success)
	assert.True(t, res.AdminRequired)
	assert.True(t, res.RequireAdmin)
}

func TestRequireAdminRunsWhenElevated(t *testing.T) {
	RegisterExecutor("admin_ok_test", func(ctx context.Context) (string, error) {
		return "done", nil
	})

	double := hostos.NewDouble()
	double.Elevated = true
	src := &fakeSource{pending: []Command{{ID: "c1", Command: "admin_ok_test", RequireAdmin: true}}}
	p := NewPoller(src, "device-1", WithHostOS(double))
	p.Poll(context.Background())

	require.Len(t, src.results, 1)
	assert.True(t, src.results[0].Success)
}

func TestOverloadTriggersBackoff(t *testing.T) {
	clk := clock.NewMock()
	src := &fakeSource{fetchErr: &overloadError{cause: "HTTP 503"}}
	p := NewPoller(src, "device-1", WithHostOS(hostos.NewDouble()), WithPollerClock(clk))

	p.Poll(context.Background())
	require.Equal(t, 1, p.policy.NumErrors())

	// inside the block window polls are skipped entirely
	src.fetchErr = nil
	src.pending = []Command{{ID: "c1", Command: "echo_test"}}
	p.Poll(context.Background())
	assert.Empty(t, src.results)
	assert.Len(t, src.pending, 1, "fetch not attempted while blocked")

	// past the window the poll resumes and the streak resets
	clk.Add(31 * time.Second)
	p.Poll(context.Background())
	assert.Equal(t, 0, p.policy.NumErrors())
	assert.Len(t, src.results, 1)
}

func TestGenericFetchErrorDoesNotBackoff(t *testing.T) {
	src := &fakeSource{fetchErr: errors.New("connection refused")}
	p := NewPoller(src, "device-1", WithHostOS(hostos.NewDouble()))

	p.Poll(context.Background())
	assert.Equal(t, 0, p.policy.NumErrors())
}

func TestPollIntervalFloor(t *testing.T) {
	p := NewPoller(&fakeSource{}, "d", WithPollInterval(time.Second))
	assert.Equal(t, minPollInterval, p.interval)
}
