// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fairplaysec/sentinel/pkg/hostidentity"
)

func init() {
	AgentCmd.AddCommand(hostnameCmd)
}

var hostnameCmd = &cobra.Command{
	Use:   "hostname",
	Short: "Print the device identity the agent reports with",
	Run: func(cmd *cobra.Command, args []string) {
		identity := hostidentity.Default()
		fmt.Printf("device_id:   %s\n", identity.DeviceID())
		fmt.Printf("device_name: %s\n", identity.DeviceName())
		fmt.Printf("device_ip:   %s\n", identity.DeviceIP())
	},
}
