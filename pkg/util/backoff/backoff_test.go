// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDoublingProgressionWithCap(t *testing.T) {
	p := NewPolicy()
	now := time.Date(2024, 11, 5, 12, 0, 0, 0, time.UTC)

	expected := []time.Duration{
		30 * time.Second,
		60 * time.Second,
		120 * time.Second,
		240 * time.Second,
		480 * time.Second,
		600 * time.Second, // capped
		600 * time.Second,
	}
	for i, want := range expected {
		p.Failure(now)
		assert.Equal(t, want, p.Until().Sub(now), "failure #%d", i+1)
		assert.Equal(t, i+1, p.NumErrors())
	}
}

func TestBlockedWindow(t *testing.T) {
	p := NewPolicy()
	now := time.Date(2024, 11, 5, 12, 0, 0, 0, time.UTC)

	assert.False(t, p.Blocked(now), "fresh policy never blocks")

	p.Failure(now)
	assert.True(t, p.Blocked(now.Add(29*time.Second)))
	assert.False(t, p.Blocked(now.Add(30*time.Second)), "window is half-open")
}

func TestSuccessResets(t *testing.T) {
	p := NewPolicy()
	now := time.Date(2024, 11, 5, 12, 0, 0, 0, time.UTC)

	p.Failure(now)
	p.Failure(now)
	p.Success()

	assert.Equal(t, 0, p.NumErrors())
	assert.False(t, p.Blocked(now))

	// the progression restarts from the base interval
	p.Failure(now)
	assert.Equal(t, 30*time.Second, p.Until().Sub(now))
}
