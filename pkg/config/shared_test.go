// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSharedDecodesTimeouts(t *testing.T) {
	bundle := Bundle{
		"shared": json.RawMessage(`{
			"scan_interval_seconds": 30,
			"heartbeat_timeouts": {"PROGRAMS": 90, "VM": 300}
		}`),
	}

	shared := bundle.Shared()
	assert.Equal(t, 30, shared.ScanIntervalSeconds)
	assert.Equal(t, 90, shared.HeartbeatTimeouts["PROGRAMS"])
	assert.Equal(t, 300, shared.HeartbeatTimeouts["VM"])
}

func TestSharedMissingDomainIsZero(t *testing.T) {
	bundle := Bundle{"programs": json.RawMessage(`{}`)}

	shared := bundle.Shared()
	assert.Zero(t, shared.ScanIntervalSeconds)
	assert.Empty(t, shared.HeartbeatTimeouts)
}

func TestSharedMalformedDomainIsZero(t *testing.T) {
	bundle := Bundle{"shared": json.RawMessage(`{"heartbeat_timeouts": "nope"`)}

	shared := bundle.Shared()
	assert.Empty(t, shared.HeartbeatTimeouts)
}

func TestEmbeddedDefaultsCarrySharedDomain(t *testing.T) {
	bundle, err := embeddedBundle()
	assert.NoError(t, err)

	shared := bundle.Shared()
	assert.Equal(t, 30, shared.ScanIntervalSeconds)
	assert.NotEmpty(t, shared.HeartbeatTimeouts)
}
