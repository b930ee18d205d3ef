// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

// Package version holds the build identity of the agent, stamped via ldflags.
package version

import "fmt"

var (
	// AgentVersion is the version of the agent, set at build time.
	AgentVersion = "0.0.0-dev"
	// Commit is the git commit the agent was built from.
	Commit = ""
)

// Full returns the version string shown to users and sent to the dashboard.
func Full() string {
	if Commit == "" {
		return AgentVersion
	}
	return fmt.Sprintf("%s (%s)", AgentVersion, Commit)
}
