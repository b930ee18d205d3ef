// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

// Package app implements the agent's command line.
package app

import (
	"github.com/spf13/cobra"

	"github.com/fairplaysec/sentinel/pkg/version"
)

var (
	// AgentCmd is the root command.
	AgentCmd = &cobra.Command{
		Use:          "sentinel-agent [command]",
		Short:        "FairPlay Sentinel endpoint agent",
		Long:         `Monitors a protected poker client for automation, RTA tooling and remote-play setups, and reports findings to the FairPlay dashboard.`,
		SilenceUsage: true,
	}

	confFilePath string
	logLevel     string
)

func init() {
	AgentCmd.PersistentFlags().StringVarP(&confFilePath, "cfgpath", "c", "", "path to the settings file")
	AgentCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error)")
	AgentCmd.Version = version.Full()
}
