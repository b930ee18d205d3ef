// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package command

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"github.com/fairplaysec/sentinel/pkg/hostos"
	"github.com/fairplaysec/sentinel/pkg/util/backoff"
	"github.com/fairplaysec/sentinel/pkg/util/log"
)

const (
	// minPollInterval is the floor between polls regardless of configuration.
	minPollInterval = 10 * time.Second

	executeTimeout = 30 * time.Second
)

// Poller drives the fetch/execute/report loop against one Source.
type Poller struct {
	source   Source
	deviceID string
	interval time.Duration

	clk    clock.Clock
	policy *backoff.Policy
	os     hostos.HostOS

	started *atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollInterval sets the poll cadence, floored at minPollInterval.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

// WithPollerClock injects a test clock.
func WithPollerClock(c clock.Clock) PollerOption {
	return func(p *Poller) { p.clk = c }
}

// WithHostOS injects a host backend, mainly for tests.
func WithHostOS(os hostos.HostOS) PollerOption {
	return func(p *Poller) { p.os = os }
}

// NewPoller returns a Poller for the given source and device.
func NewPoller(source Source, deviceID string, opts ...PollerOption) *Poller {
	p := &Poller{
		source:   source,
		deviceID: deviceID,
		interval: minPollInterval,
		clk:      clock.New(),
		policy:   backoff.NewPolicy(),
		os:       hostos.Default(),
		started:  atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.interval < minPollInterval {
		p.interval = minPollInterval
	}
	return p
}

// Start launches the poll loop.
func (p *Poller) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return nil
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop(p.stop, p.done)
	log.Infof("command poller: started (interval %s)", p.interval)
	return nil
}

// Stop halts the poll loop.
func (p *Poller) Stop() {
	if !p.started.CompareAndSwap(true, false) {
		return
	}
	close(p.stop)
	<-p.done
	log.Info("command poller: stopped")
}

func (p *Poller) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := p.clk.Ticker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Poll(context.Background())
		case <-stop:
			return
		}
	}
}

// Poll runs one fetch/execute/report cycle. Exposed for tests and for the
// supervisor's on-demand polls.
func (p *Poller) Poll(ctx context.Context) {
	now := p.clk.Now()
	if p.policy.Blocked(now) {
		return
	}

	commands, err := p.source.Fetch(ctx)
	if err != nil {
		if isOverload(err) {
			p.policy.Failure(now)
			log.Warnf("command poller: source overloaded (streak %d), backing off until %s",
				p.policy.NumErrors(), p.policy.Until().Format(time.RFC3339))
		} else {
			log.Warnf("command poller: fetch failed: %v", err)
		}
		return
	}
	p.policy.Success()

	for _, cmd := range commands {
		res := p.execute(ctx, cmd)
		if err := p.source.Report(ctx, res); err != nil {
			log.Warnf("command poller: reporting result for %s failed: %v", cmd.ID, err)
		}
	}
}

func (p *Poller) execute(ctx context.Context, cmd Command) Result {
	res := Result{
		CommandID:    cmd.ID,
		DeviceID:     p.deviceID,
		Command:      cmd.Command,
		RequireAdmin: cmd.RequireAdmin,
	}

	if cmd.RequireAdmin && !p.os.IsElevated() {
		res.AdminRequired = true
		res.Error = "command requires elevation"
		log.Warnf("command poller: %s (%s) needs elevation, skipping", cmd.Command, cmd.ID)
		return res
	}

	exec, ok := lookupExecutor(cmd.Command)
	if !ok {
		res.Error = unknownCommandError(cmd.Command).Error()
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, executeTimeout)
	defer cancel()

	output, err := exec(ctx)
	if err != nil {
		res.Error = err.Error()
		log.Warnf("command poller: %s (%s) failed: %v", cmd.Command, cmd.ID, err)
		return res
	}
	res.Success = true
	res.Output = output
	log.Infof("command poller: executed %s (%s)", cmd.Command, cmd.ID)
	return res
}
