// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package config

import (
	_ "embed"
	"fmt"
)

// defaultConfigs ships inside the binary so a first run with no network and
// no cache still scans with sane detection rules.
//
//go:embed default_configs.json
var defaultConfigs []byte

func embeddedBundle() (Bundle, error) {
	var bundle Bundle
	if err := jsonAPI.Unmarshal(defaultConfigs, &bundle); err != nil {
		return nil, fmt.Errorf("parsing embedded configs: %w", err)
	}
	return bundle, nil
}
