// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package redisforwarder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairplaysec/sentinel/pkg/batcher"
	"github.com/fairplaysec/sentinel/pkg/eventbus"
	"github.com/fairplaysec/sentinel/pkg/signal"
)

func sampleReport() *batcher.Report {
	return &batcher.Report{
		ScanType:       "unified",
		BatchNumber:    7,
		Timestamp:      1730845800,
		BatchSentAt:    1730845830,
		BotProbability: 25.0,
		DeviceID:       "0123456789abcdef0123456789abcdef",
		DeviceName:     "DESKTOP-AB",
		DeviceIP:       "10.0.0.5",
		Summary:        batcher.ReportSummary{Alert: 2, Warn: 1},
		System:         batcher.SystemBlock{Host: "DESKTOP-AB"},
	}
}

func TestThreatLevel(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*batcher.Report)
		want   string
	}{
		{
			name:   "critical detections dominate",
			mutate: func(r *batcher.Report) { r.Summary.Critical = 1; r.BotProbability = 15 },
			want:   "CRITICAL",
		},
		{
			name:   "probability 50 is critical without critical detections",
			mutate: func(r *batcher.Report) { r.Summary = batcher.ReportSummary{}; r.BotProbability = 50 },
			want:   "CRITICAL",
		},
		{
			name:   "alert detections",
			mutate: func(r *batcher.Report) { r.Summary = batcher.ReportSummary{Alert: 1}; r.BotProbability = 10 },
			want:   "ALERT",
		},
		{
			name:   "probability 20 is alert",
			mutate: func(r *batcher.Report) { r.Summary = batcher.ReportSummary{}; r.BotProbability = 20 },
			want:   "ALERT",
		},
		{
			name:   "warn detections",
			mutate: func(r *batcher.Report) { r.Summary = batcher.ReportSummary{Warn: 1}; r.BotProbability = 5 },
			want:   "WARN",
		},
		{
			name:   "clean device",
			mutate: func(r *batcher.Report) { r.Summary = batcher.ReportSummary{}; r.BotProbability = 0 },
			want:   "OK",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := sampleReport()
			tt.mutate(report)
			assert.Equal(t, tt.want, ThreatLevel(report))
		})
	}
}

func TestDeviceHashFields(t *testing.T) {
	fields := DeviceHashFields(sampleReport())
	require.Len(t, fields, 12)

	asMap := make(map[string]string)
	for i := 0; i < len(fields); i += 2 {
		asMap[fields[i].(string)] = fields[i+1].(string)
	}
	assert.Equal(t, "1730845830", asMap["last_seen"])
	assert.Equal(t, "ALERT", asMap["threat_level"])
	assert.Equal(t, "DESKTOP-AB", asMap["device_name"])
	assert.Equal(t, "DESKTOP-AB", asMap["device_hostname"])
	assert.Equal(t, "10.0.0.5", asMap["ip_address"])
	assert.Equal(t, "25.0", asMap["bot_probability"])
}

// Replaying a same-timestamp batch must produce the same hash fields: every
// value is derived from the report alone.
func TestDeviceHashFieldsReplayStable(t *testing.T) {
	first := DeviceHashFields(sampleReport())
	second := DeviceHashFields(sampleReport())
	assert.Equal(t, first, second)
}

func TestBufferFiltersAndCaps(t *testing.T) {
	f := New(nil, 0)
	bus := eventbus.New()
	f.Register(bus)

	bus.Emit(eventbus.EventDetection, &signal.Signal{
		Category: signal.CategorySystem, Name: "Unified Scan Report", Details: "{}",
	})
	bus.Emit(eventbus.EventDetection, &signal.Signal{
		Category: signal.CategorySystem, Name: nicknameSignal, Details: "Hero123", DeviceID: "d1",
	})
	bus.Emit(eventbus.EventDetection, &signal.Signal{
		Category: signal.CategoryPrograms, Name: "python.exe", Status: signal.StatusWarn,
	})

	f.m.Lock()
	defer f.m.Unlock()
	require.Len(t, f.buffer, 2, "only batch reports and nickname signals buffer")
	assert.Equal(t, "Unified Scan Report", f.buffer[0].Name)
	assert.Equal(t, nicknameSignal, f.buffer[1].Name)
}

func TestDefaultTTLApplied(t *testing.T) {
	f := New(nil, 0)
	assert.Equal(t, f.batchTTL.Hours(), 24.0)
}
