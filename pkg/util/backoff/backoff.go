// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

// Package backoff implements the server-overload backoff policy shared by the
// config loader and the command pollers: 30s doubling per consecutive
// overload response, capped at 600s.
package backoff

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	baseInterval = 30 * time.Second
	maxInterval  = 600 * time.Second
)

// Policy tracks a consecutive-failure streak and derives the wait imposed on
// the caller before the next remote attempt. It is not safe for concurrent
// use; callers guard it with their own lock.
type Policy struct {
	exp        *backoff.ExponentialBackOff
	numErrors  int
	blockUntil time.Time
}

// NewPolicy returns a Policy with a zeroed streak.
func NewPolicy() *Policy {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = baseInterval
	exp.Multiplier = 2
	exp.MaxInterval = maxInterval
	// the wait must be reproducible across agents, no jitter
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()
	return &Policy{exp: exp}
}

// Failure records one more overload response and extends the block window.
func (p *Policy) Failure(now time.Time) {
	p.numErrors++
	p.blockUntil = now.Add(p.exp.NextBackOff())
}

// Success resets the streak.
func (p *Policy) Success() {
	p.numErrors = 0
	p.blockUntil = time.Time{}
	p.exp.Reset()
}

// Blocked reports whether remote calls are still suspended at `now`.
func (p *Policy) Blocked(now time.Time) bool {
	return p.numErrors > 0 && now.Before(p.blockUntil)
}

// NumErrors returns the current consecutive-failure streak.
func (p *Policy) NumErrors() int {
	return p.numErrors
}

// Until returns the end of the current block window.
func (p *Policy) Until() time.Time {
	return p.blockUntil
}
