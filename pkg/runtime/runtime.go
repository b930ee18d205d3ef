// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

// Package runtime owns the shared agent plumbing: the event bus, the threat
// manager and the batcher, wired together behind PostSignal. Everything is
// carried by an explicit Runtime value; the package-level default exists for
// the simple single-instance agent and for tests.
package runtime

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/fairplaysec/sentinel/pkg/batcher"
	"github.com/fairplaysec/sentinel/pkg/eventbus"
	"github.com/fairplaysec/sentinel/pkg/hostidentity"
	"github.com/fairplaysec/sentinel/pkg/signal"
	"github.com/fairplaysec/sentinel/pkg/threat"
)

// Runtime bundles the signal pipeline's shared state.
type Runtime struct {
	Bus      *eventbus.Bus
	Identity hostidentity.Provider
	Threats  *threat.Manager
	Batcher  *batcher.Batcher

	clk         clock.Clock
	env         string
	batchLogDir string
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock injects a test clock into the runtime and its batcher.
func WithClock(c clock.Clock) Option {
	return func(r *Runtime) { r.clk = c }
}

// WithEnv sets the deployment environment stamped on batch reports.
func WithEnv(env string) Option {
	return func(r *Runtime) { r.env = env }
}

// WithBatchLogDir enables on-disk batch logs under dir.
func WithBatchLogDir(dir string) Option {
	return func(r *Runtime) { r.batchLogDir = dir }
}

// New assembles a Runtime. The batcher subscribes to "detection" so every
// emitted signal lands in the current batch window.
func New(identity hostidentity.Provider, batchInterval time.Duration, opts ...Option) *Runtime {
	r := &Runtime{
		Bus:      eventbus.New(),
		Identity: identity,
		clk:      clock.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.Threats = threat.NewManager(batchInterval, threat.WithClock(r.clk))
	batcherOpts := []batcher.Option{
		batcher.WithClock(r.clk),
		batcher.WithInterval(batchInterval),
	}
	if r.env != "" {
		batcherOpts = append(batcherOpts, batcher.WithEnv(r.env))
	}
	if r.batchLogDir != "" {
		batcherOpts = append(batcherOpts, batcher.WithLogDir(r.batchLogDir))
	}
	r.Batcher = batcher.New(r.Bus, identity, batcherOpts...)
	r.Bus.Subscribe(eventbus.EventDetection, r.Batcher.AddSignal)
	return r
}

// PostSignal is the single ingress point for detections. It stamps the
// current time when missing, fills identity fields from the host, updates
// threat aggregation, and emits on "detection" unless a strictly
// higher-severity active threat already covers the same threat id (keep the
// worst on screen).
func (r *Runtime) PostSignal(sig *signal.Signal) {
	if sig.Timestamp == 0 {
		sig.Timestamp = float64(r.clk.Now().UnixNano()) / 1e9
	}
	if sig.DeviceID == "" {
		sig.DeviceID = r.Identity.DeviceID()
	}
	if sig.DeviceName == "" {
		sig.DeviceName = r.Identity.DeviceName()
	}
	if sig.DeviceIP == "" {
		sig.DeviceIP = r.Identity.DeviceIP()
	}

	_, suppress := r.Threats.Update(sig)
	if suppress {
		return
	}
	r.Bus.Emit(eventbus.EventDetection, sig)
}

// Shutdown tears the pipeline down: sweeper stopped, listeners cleared.
func (r *Runtime) Shutdown() {
	r.Threats.StopSweeper()
	r.Bus.Cleanup()
}

var defaultRuntime *Runtime

// Default returns the process-wide runtime, creating it on first use.
func Default() *Runtime {
	if defaultRuntime == nil {
		defaultRuntime = New(hostidentity.Default(), batcher.DefaultInterval)
	}
	return defaultRuntime
}

// SetDefault replaces the process-wide runtime. The agent entrypoint calls
// this once after loading settings; tests use it to install a mock clock.
func SetDefault(r *Runtime) {
	defaultRuntime = r
}
