// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

// Package command polls the dashboard for remote actions addressed to this
// device, executes them and reports results. Two sources share the contract:
// the HTTP API and direct Redis queue access.
package command

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// pollLimit caps how many pending commands one poll may claim.
const pollLimit = 5

// Command is one remote action pulled from the dashboard.
type Command struct {
	ID           string `json:"id"`
	Command      string `json:"command"`
	RequireAdmin bool   `json:"requireAdmin"`
}

// Result is the execution outcome posted back to the dashboard.
type Result struct {
	CommandID     string `json:"commandId"`
	DeviceID      string `json:"deviceId"`
	Command       string `json:"command"`
	Success       bool   `json:"success"`
	Output        string `json:"output"`
	Error         string `json:"error"`
	AdminRequired bool   `json:"adminRequired"`
	RequireAdmin  bool   `json:"requireAdmin"`
}

// Source fetches pending commands and reports results. Implementations must
// be safe to call from the poller goroutine only.
type Source interface {
	// Fetch claims up to pollLimit pending commands for the device.
	Fetch(ctx context.Context) ([]Command, error)
	// Report delivers one execution result.
	Report(ctx context.Context, res Result) error
}

// Executor runs one command kind and returns its output payload.
type Executor func(ctx context.Context) (output string, err error)

var (
	executorsMu sync.Mutex
	executors   = make(map[string]Executor)
)

// RegisterExecutor binds an executor to a command name. Later registrations
// for the same name win, so deployments can override the built-ins.
func RegisterExecutor(name string, exec Executor) {
	executorsMu.Lock()
	defer executorsMu.Unlock()
	executors[name] = exec
}

func lookupExecutor(name string) (Executor, bool) {
	executorsMu.Lock()
	defer executorsMu.Unlock()
	exec, ok := executors[name]
	return exec, ok
}

// ExecutorNames lists the registered command kinds, sorted.
func ExecutorNames() []string {
	executorsMu.Lock()
	defer executorsMu.Unlock()
	names := make([]string, 0, len(executors))
	for name := range executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func unknownCommandError(name string) error {
	return fmt.Errorf("unknown command %q", name)
}

// overloadError marks fetch failures that should trigger the poll backoff
// (HTTP 503/429, unreachable Redis).
type overloadError struct {
	cause string
}

func (e *overloadError) Error() string {
	return "command source overloaded: " + e.cause
}

func isOverload(err error) bool {
	_, ok := err.(*overloadError)
	return ok
}
