// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package app

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairplaysec/sentinel/pkg/config"
	"github.com/fairplaysec/sentinel/pkg/signal"
	"github.com/fairplaysec/sentinel/pkg/threat"
)

func TestApplyDetectionConfigSetsHeartbeatTimeouts(t *testing.T) {
	clk := clock.NewMock()
	threats := threat.NewManager(30*time.Second, threat.WithClock(clk))

	bundle := config.Bundle{
		"shared": json.RawMessage(`{"heartbeat_timeouts": {"AUTO": 60, "PROGRAMS": 200}}`),
	}
	applyDetectionConfig(threats, bundle)

	threats.Update(&signal.Signal{Category: signal.CategoryAuto, Name: "Macro cadence", Status: signal.StatusAlert})
	threats.Update(&signal.Signal{Category: signal.CategoryPrograms, Name: "Suspicious Code: warbot.exe", Status: signal.StatusAlert})
	require.Equal(t, 2, threats.ActiveCount())

	// past the auto timeout but well inside the programs one
	clk.Add(61 * time.Second)
	threats.Expire()
	assert.Equal(t, 1, threats.ActiveCount())
	_, ok := threats.Get("warbot")
	assert.True(t, ok, "programs threat keeps its longer timeout")
}

func TestApplyDetectionConfigSkipsBadEntries(t *testing.T) {
	clk := clock.NewMock()
	threats := threat.NewManager(30*time.Second, threat.WithClock(clk))

	bundle := config.Bundle{
		"shared": json.RawMessage(`{"heartbeat_timeouts": {"BOGUS": 60, "VM": 0, "AUTO": -5}}`),
	}
	applyDetectionConfig(threats, bundle)

	// every entry was rejected, so the 3x default still governs expiry
	threats.Update(&signal.Signal{Category: signal.CategoryAuto, Name: "Macro cadence", Status: signal.StatusAlert})
	clk.Add(61 * time.Second)
	threats.Expire()
	assert.Equal(t, 1, threats.ActiveCount(), "default 90s timeout untouched")

	clk.Add(30 * time.Second)
	threats.Expire()
	assert.Equal(t, 0, threats.ActiveCount())
}

func TestApplyDetectionConfigWithoutSharedDomainIsNoop(t *testing.T) {
	threats := threat.NewManager(30 * time.Second)
	applyDetectionConfig(threats, config.Bundle{})
}
