// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

// Package threat aggregates heterogeneous detection signals into persistent
// active threats, scores them and expires them when their source goes quiet.
package threat

import (
	"time"

	"github.com/fairplaysec/sentinel/pkg/signal"
)

// ActiveThreat is the aggregated view of one underlying threat across all
// signals merged into it. Owned and mutated exclusively by the Manager.
type ActiveThreat struct {
	ThreatID         string          `json:"threat_id"`
	Category         signal.Category `json:"category"`
	Name             string          `json:"name"`
	Status           signal.Status   `json:"status"`
	Details          string          `json:"details"`
	FirstSeen        time.Time       `json:"-"`
	LastSeen         time.Time       `json:"-"`
	DetectionCount   int             `json:"detections"`
	ThreatScore      int             `json:"score"`
	DetectionSources []string        `json:"sources"`
	ConfidenceScore  int             `json:"confidence"`
}

// hasSource reports whether a "{category}/{name}" source was already merged.
func (t *ActiveThreat) hasSource(source string) bool {
	for _, s := range t.DetectionSources {
		if s == source {
			return true
		}
	}
	return false
}

// SummaryThreat is one entry of a summary snapshot, ordered by score.
type SummaryThreat struct {
	ThreatID   string          `json:"threat_id"`
	Name       string          `json:"name"`
	Category   signal.Category `json:"category"`
	Status     signal.Status   `json:"status"`
	Score      int             `json:"score"`
	AgeSeconds float64         `json:"age_seconds"`
	Confidence int             `json:"confidence"`
	Sources    []string        `json:"sources"`
	Detections int             `json:"detections"`
}

// Summary is a consistent snapshot of the manager state, taken under the
// manager lock for the batcher.
type Summary struct {
	TotalThreats   int                     `json:"total_threats"`
	TotalScore     int                     `json:"threat_score"`
	BotProbability float64                 `json:"bot_probability"`
	ByCategory     map[signal.Category]int `json:"by_category"`
	ByStatus       map[string]int          `json:"by_status"`
	Top            []SummaryThreat         `json:"top_threats"`
}
