// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package batcher

import (
	"github.com/fairplaysec/sentinel/pkg/signal"
	"github.com/fairplaysec/sentinel/pkg/threat"
)

// ReportName is the signal name every unified batch report is emitted under.
const ReportName = "Unified Scan Report"

// Detection is one deduplicated display entry in a batch report.
type Detection struct {
	Category    signal.Category `json:"category"`
	Name        string          `json:"name"`
	Status      signal.Status   `json:"status"`
	Details     string          `json:"details"`
	Segment     string          `json:"segment,omitempty"`
	Occurrences int             `json:"occurrences"`
	ThreatID    string          `json:"threat_id,omitempty"`
	Sources     []string        `json:"sources,omitempty"`
	Confidence  int             `json:"confidence,omitempty"`
	Score       int             `json:"score,omitempty"`
}

// ReportSummary carries the per-severity counters of one window.
type ReportSummary struct {
	Critical          int `json:"critical"`
	Alert             int `json:"alert"`
	Warn              int `json:"warn"`
	Info              int `json:"info"`
	TotalDetections   int `json:"total_detections"`
	TotalThreats      int `json:"total_threats"`
	ThreatScore       int `json:"threat_score"`
	RawDetectionScore int `json:"raw_detection_score"`
}

// SystemBlock describes the host at batch time.
type SystemBlock struct {
	CPUPercent      float64 `json:"cpu_percent"`
	MemPercent      float64 `json:"mem_percent"`
	SegmentsRunning int     `json:"segments_running"`
	Env             string  `json:"env"`
	Host            string  `json:"host"`
}

// Metadata optionally describes the pipeline topology, behind a config flag.
type Metadata struct {
	Flow          string   `json:"flow"`
	Segments      []string `json:"segments"`
	BatchInterval float64  `json:"batch_interval_s"`
	Staggered     bool     `json:"staggered"`
	AgentVersion  string   `json:"agent_version"`
}

// Report is the unified scan report emitted once per window. The wire form
// is this structure serialized to JSON inside a system signal's details.
type Report struct {
	ScanType          string                  `json:"scan_type"`
	BatchNumber       uint64                  `json:"batch_number"`
	Timestamp         float64                 `json:"timestamp"`
	BatchSentAt       float64                 `json:"batch_sent_at"`
	BotProbability    float64                 `json:"bot_probability"`
	DeviceID          string                  `json:"device_id"`
	DeviceName        string                  `json:"device_name"`
	DeviceIP          string                  `json:"device_ip"`
	Nickname          string                  `json:"nickname,omitempty"`
	Summary           ReportSummary           `json:"summary"`
	Categories        map[signal.Category]int `json:"categories"`
	AggregatedThreats []threat.SummaryThreat  `json:"aggregated_threats"`
	ActiveThreats     []Detection             `json:"active_threats"`
	VMProbability     float64                 `json:"vm_probability"`
	FileAnalysisCount int                     `json:"file_analysis_count"`
	System            SystemBlock             `json:"system"`
	Metadata          *Metadata               `json:"metadata,omitempty"`
}
