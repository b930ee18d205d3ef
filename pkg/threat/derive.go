// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package threat

import (
	"regexp"
	"strings"

	"github.com/fairplaysec/sentinel/pkg/signal"
)

// messagingKeyword groups every signal about the messaging client used to
// remote-control bots under one threat, keyed by PID when visible.
const messagingKeyword = "telegram"

// botTokens are names that mark a detection as a known poker bot when they
// appear in an ALERT signal.
var botTokens = []string{
	"openholdem",
	"warbot",
	"shanky",
	"holdembot",
	"pokerbot",
	"neobot",
}

// rtaTokens are known real-time-assistance tools, treated like bots.
var rtaTokens = []string{
	"piosolver",
	"gtowizard",
	"gto+",
	"monkersolver",
	"simplepostflop",
}

// interpreterFamilies collapses the many spellings of scripting runtimes to
// one canonical threat id each. The slice order is the match order: a name
// carrying several runtime tokens must always resolve to the same id.
var interpreterFamilies = []struct{ token, canonical string }{
	{"python3", "python"},
	{"pythonw", "python"},
	{"python", "python"},
	{"autohotkey", "autohotkey"},
	{"ahk", "autohotkey"},
	{"autoit3", "autoit"},
	{"autoit", "autoit"},
	{"powershell", "powershell"},
	{"pwsh", "powershell"},
	{"discord", "discord"},
	{"nodejs", "node"},
	{"node", "node"},
}

// knownTools maps lowercased display names to canonical threat ids, checked
// in declaration order.
var knownTools = []struct{ display, canonical string }{
	{"cheat engine", "cheatengine"},
	{"open holdem", "openholdem"},
	{"warbot poker", "warbot"},
	{"shanky bot", "shanky"},
	{"auto clicker", "autoclicker"},
	{"macro recorder", "macrorecorder"},
	{"process hacker", "processhacker"},
	{"sandboxie", "sandboxie"},
}

// genericPrefixes are skipped when falling back to the first word of a name.
var genericPrefixes = map[string]bool{
	"suspicious": true,
	"unsigned":   true,
	"compiled":   true,
	"obfuscated": true,
	"protected":  true,
}

// falsePositivePatterns never become threats: Windows system processes,
// normal protected-client chatter and status messages.
var falsePositivePatterns = []string{
	"svchost.exe",
	"csrss.exe",
	"dwm.exe",
	"runtimebroker.exe",
	"explorer.exe",
	"searchindexer.exe",
	"coinpoker client running",
	"coinpoker update",
	"scanner started",
	"scanner stopping",
	"heartbeat",
	"status ok",
	"player name detected",
}

var (
	exePattern      = regexp.MustCompile(`([\w~#$@!%^&()\-+=.]+)\.exe`)
	pidPattern      = regexp.MustCompile(`(?i)pid\D{0,3}(\d+)`)
	tokenBotPattern = regexp.MustCompile(`\b\d{8,10}:[A-Za-z0-9_-]{30,}`)
)

// DeriveID canonicalizes a signal into the threat id that groups related
// detections. ok=false means the signal must not create or refresh a threat.
func DeriveID(sig *signal.Signal) (id string, ok bool) {
	name := strings.ToLower(strings.TrimSpace(sig.Name))
	details := strings.ToLower(sig.Details)

	// rule 1: system chatter and known false positives
	if sig.Category == signal.CategorySystem {
		return "", false
	}
	for _, pattern := range falsePositivePatterns {
		if strings.Contains(name, pattern) || strings.Contains(details, pattern) {
			return "", false
		}
	}

	// rule 2: messaging client grouped by pid
	if strings.Contains(name, messagingKeyword) || strings.Contains(details, messagingKeyword) {
		if m := pidPattern.FindStringSubmatch(sig.Name + " " + sig.Details); m != nil {
			return messagingKeyword + ":" + m[1], true
		}
		return messagingKeyword, true
	}

	// rule 3: interpreter families
	for _, family := range interpreterFamilies {
		if containsWord(name, family.token) {
			return family.canonical, true
		}
	}

	// rule 4: first executable token from name or details
	if m := exePattern.FindStringSubmatch(name); m != nil {
		return strings.TrimSuffix(strings.ToLower(m[0]), ".exe"), true
	}
	if m := exePattern.FindStringSubmatch(details); m != nil {
		return strings.TrimSuffix(strings.ToLower(m[0]), ".exe"), true
	}

	// rule 5: known tool dictionary
	for _, tool := range knownTools {
		if strings.Contains(name, tool.display) {
			return tool.canonical, true
		}
	}

	// rule 6: first non-generic word of the name
	for _, word := range strings.Fields(name) {
		word = strings.Trim(word, ":,.()[]")
		if word == "" || genericPrefixes[word] {
			continue
		}
		return word, true
	}
	return "", false
}

// Level applies the severity escalation rules to a signal, first match wins.
// The result drives the device threat level shown on the dashboard; merge
// scoring escalates only the CRITICAL cases (a WARN keeps its own points).
func Level(sig *signal.Signal) signal.Status {
	name := strings.ToLower(sig.Name)
	details := strings.ToLower(sig.Details)

	switch {
	case sig.Status == signal.StatusCritical:
		return signal.StatusCritical
	case sig.Status == signal.StatusAlert && (containsAny(name, botTokens) || containsAny(name, rtaTokens)):
		return signal.StatusCritical
	case sig.Status == signal.StatusAlert && (tokenBotPattern.MatchString(details) || tokenBotPattern.MatchString(name)):
		return signal.StatusCritical
	case sig.Status == signal.StatusAlert:
		return signal.StatusAlert
	case sig.Status == signal.StatusWarn &&
		(sig.Category == signal.CategoryAuto || sig.Category == signal.CategoryVM ||
			strings.Contains(name, "python") || strings.Contains(name, "autohotkey")):
		return signal.StatusAlert
	case sig.Status == signal.StatusWarn:
		return signal.StatusWarn
	default:
		return signal.StatusInfo
	}
}

// mergeStatus is the status a signal contributes to scoring: its own status,
// escalated to CRITICAL when the bot/RTA rules fire.
func mergeStatus(sig *signal.Signal) signal.Status {
	if lvl := Level(sig); lvl == signal.StatusCritical {
		return signal.StatusCritical
	}
	return sig.Status
}

// moreSpecificName reports whether candidate should replace current: it
// carries an executable token the current name lacks, or is strictly longer
// at equal specificity.
func moreSpecificName(current, candidate string) bool {
	if candidate == current || candidate == "" {
		return false
	}
	curExe := exePattern.MatchString(strings.ToLower(current))
	candExe := exePattern.MatchString(strings.ToLower(candidate))
	if candExe && !curExe {
		return true
	}
	if curExe && !candExe {
		return false
	}
	return len(candidate) > len(current)
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// containsWord matches token as a whole word so "nodepad" does not collapse
// to "node".
func containsWord(s, token string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], token)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(token)
		beforeOK := start == 0 || !isWordChar(s[start-1])
		afterOK := end == len(s) || !isWordChar(s[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
