// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package supervisor

import (
	"strings"

	"github.com/google/uuid"

	"github.com/fairplaysec/sentinel/pkg/hostos"
)

// Indicator weights for target classification.
const (
	weightBasename    = 0.10
	weightExePath     = 0.30
	weightCwd         = 0.20
	weightParentPath  = 0.15
	weightUUIDArg     = 0.15
	weightWindowClass = 0.20
	weightWindowTitle = 0.10
	weightChildren    = 0.20
	weightOneChild    = 0.10
)

// classifyThreshold accepts a process as the target outright.
const classifyThreshold = 0.6

// pathTokenThreshold accepts a process whose executable path carries the
// target token even when the overall confidence is weaker.
const pathTokenThreshold = 0.4

// TargetProfile describes what the protected client looks like on a host.
type TargetProfile struct {
	// ProcessName is the expected executable basename, lowercase.
	ProcessName string
	// PathToken marks executables, working dirs and parents as ours when it
	// appears in their paths, lowercase.
	PathToken string
	// WindowClass is the expected top-level window class.
	WindowClass string
	// TitlePatterns match lobby and table window titles, lowercase
	// substrings.
	TitlePatterns []string
	// LobbyPattern identifies the main lobby window among the matches.
	LobbyPattern string
	// ChildNames are expected helper-process basenames, lowercase.
	ChildNames []string
}

// DefaultProfile returns the CoinPoker desktop client profile.
func DefaultProfile() TargetProfile {
	return TargetProfile{
		ProcessName:   "coinpoker.exe",
		PathToken:     "coinpoker",
		WindowClass:   "Qt5QWindowIcon",
		TitlePatterns: []string{"coinpoker", "table", "lobby"},
		LobbyPattern:  "lobby",
		ChildNames:    []string{"coinpoker.exe", "updater.exe", "crashhandler.exe"},
	}
}

// score is one process's classification evidence.
type score struct {
	confidence float64
	pathToken  bool
}

// isTarget applies the classification rule: strong confidence alone, or a
// path-token hit backed by moderate confidence.
func (s score) isTarget() bool {
	if s.confidence >= classifyThreshold {
		return true
	}
	return s.pathToken && s.confidence >= pathTokenThreshold
}

// scoreProcess accumulates indicator weights for one process. windowsByPID
// is the current window table, nil when unavailable on this platform.
func scoreProcess(os hostos.HostOS, proc hostos.ProcessInfo, windowsByPID map[int32][]hostos.WindowInfo, profile TargetProfile) score {
	var s score
	token := profile.PathToken

	if strings.EqualFold(proc.Name, profile.ProcessName) {
		s.confidence += weightBasename
	}
	if containsFold(proc.Exe, token) {
		s.confidence += weightExePath
		s.pathToken = true
	}
	if containsFold(proc.Cwd, token) {
		s.confidence += weightCwd
	}
	if parent, err := os.Process(proc.ParentPID); err == nil && containsFold(parent.Exe, token) {
		s.confidence += weightParentPath
	}
	if hasUUIDArg(proc.Cmdline) {
		s.confidence += weightUUIDArg
	}

	for _, w := range windowsByPID[proc.PID] {
		var classHit, titleHit bool
		if profile.WindowClass != "" && strings.EqualFold(w.Class, profile.WindowClass) {
			classHit = true
		}
		if matchesAnyTitle(w.Title, profile.TitlePatterns) {
			titleHit = true
		}
		if classHit {
			s.confidence += weightWindowClass
		}
		if titleHit {
			s.confidence += weightWindowTitle
		}
		if classHit || titleHit {
			break
		}
	}

	if children, err := os.Children(proc.PID); err == nil {
		expected := 0
		for _, child := range children {
			for _, name := range profile.ChildNames {
				if strings.EqualFold(child.Name, name) {
					expected++
					break
				}
			}
		}
		switch {
		case expected >= 2:
			s.confidence += weightChildren
		case expected == 1:
			s.confidence += weightOneChild
		}
	}

	return s
}

func containsFold(haystack, token string) bool {
	if haystack == "" || token == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), token)
}

func matchesAnyTitle(title string, patterns []string) bool {
	lower := strings.ToLower(title)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// hasUUIDArg reports whether any command-line argument is UUID-shaped. The
// protected client passes a session UUID to its table processes.
func hasUUIDArg(cmdline []string) bool {
	for _, arg := range cmdline {
		candidate := strings.Trim(arg, `"'`)
		if len(candidate) != 36 {
			continue
		}
		if _, err := uuid.Parse(candidate); err == nil {
			return true
		}
	}
	return false
}
