// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package app

import (
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fairplaysec/sentinel/pkg/version"
)

func init() {
	AgentCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(
			color.Output,
			fmt.Sprintf("Sentinel Agent %s - Go version: %s",
				color.CyanString(version.Full()),
				color.RedString(runtime.Version()),
			),
		)
	},
}
