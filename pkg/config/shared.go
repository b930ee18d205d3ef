// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package config

import (
	"github.com/fairplaysec/sentinel/pkg/util/log"
)

// sharedDomain is the bundle document carrying cross-segment knobs.
const sharedDomain = "shared"

// SharedConfig is the decoded form of the bundle's shared domain. Heartbeat
// timeouts are keyed by uppercase category name (PROGRAMS, AUTO, NETWORK,
// BEHAVIOUR, VM, SCREEN, SYSTEM), in seconds.
type SharedConfig struct {
	ScanIntervalSeconds int            `json:"scan_interval_seconds"`
	HeartbeatTimeouts   map[string]int `json:"heartbeat_timeouts"`
}

// Shared decodes the bundle's shared domain. A missing or malformed domain
// yields the zero value; callers treat that as "keep current settings".
func (b Bundle) Shared() SharedConfig {
	var cfg SharedConfig
	raw, ok := b[sharedDomain]
	if !ok {
		return cfg
	}
	if err := jsonAPI.Unmarshal(raw, &cfg); err != nil {
		log.Warnf("config: malformed shared domain: %v", err)
	}
	return cfg
}
