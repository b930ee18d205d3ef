// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

// Package signal defines the detection event model shared by every stage of
// the pipeline: segments emit Signals, the threat manager aggregates them and
// the forwarders ship them.
package signal

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the ordered severity of a detection.
type Status int

// Severity levels, ordered. The wire representation is the string form.
const (
	StatusOK Status = iota
	StatusInfo
	StatusWarn
	StatusAlert
	StatusCritical
)

// Points returns the threat score contribution of a status.
func (s Status) Points() int {
	switch s {
	case StatusCritical:
		return 15
	case StatusAlert:
		return 10
	case StatusWarn:
		return 5
	default:
		return 0
	}
}

// String returns the canonical wire form of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInfo:
		return "INFO"
	case StatusWarn:
		return "WARN"
	case StatusAlert:
		return "ALERT"
	case StatusCritical:
		return "CRITICAL"
	}
	return "INFO"
}

// ParseStatus maps a wire string back to a Status. Unknown values map to
// INFO so a malformed signal never gains severity.
func ParseStatus(s string) Status {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OK":
		return StatusOK
	case "WARN", "WARNING":
		return StatusWarn
	case "ALERT":
		return StatusAlert
	case "CRITICAL":
		return StatusCritical
	default:
		return StatusInfo
	}
}

// MarshalJSON implements json.Marshaler.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	*s = ParseStatus(str)
	return nil
}

// Category identifies which family of evidence a signal belongs to.
type Category string

// The closed set of signal categories.
const (
	CategoryPrograms  Category = "programs"
	CategoryNetwork   Category = "network"
	CategoryBehaviour Category = "behaviour"
	CategoryAuto      Category = "auto"
	CategoryVM        Category = "vm"
	CategoryScreen    Category = "screen"
	CategorySecurity  Category = "security"
	CategorySystem    Category = "system"
)

// Categories lists every valid category, in report order.
func Categories() []Category {
	return []Category{
		CategoryPrograms,
		CategoryNetwork,
		CategoryBehaviour,
		CategoryAuto,
		CategoryVM,
		CategoryScreen,
		CategorySecurity,
		CategorySystem,
	}
}

// Valid reports whether c belongs to the closed category set.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// Signal is a single detection event. It is immutable once emitted on the
// event bus.
type Signal struct {
	Timestamp   float64  `json:"timestamp"`
	Category    Category `json:"category"`
	Name        string   `json:"name"`
	Status      Status   `json:"status"`
	Details     string   `json:"details"`
	DeviceID    string   `json:"device_id,omitempty"`
	DeviceName  string   `json:"device_name,omitempty"`
	DeviceIP    string   `json:"device_ip,omitempty"`
	SegmentName string   `json:"segment_name,omitempty"`
}

// IsBatchReport reports whether the signal carries a unified scan report in
// its details payload.
func (s *Signal) IsBatchReport() bool {
	return s.Category == CategorySystem && strings.Contains(s.Name, "Scan Report")
}

// String implements fmt.Stringer for log lines.
func (s *Signal) String() string {
	return fmt.Sprintf("%s/%s [%s]", s.Category, s.Name, s.Status)
}
