// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

// Package redisschema is the single source of truth for every Redis key,
// TTL and channel the agent and the dashboard share. Nothing outside this
// package builds key strings; that is what keeps the two sides
// bit-compatible.
package redisschema

import (
	"fmt"
	"time"
)

// DefaultBatchTTL is applied to batch records unless configured otherwise.
const DefaultBatchTTL = 24 * time.Hour

// CommandResultTTL bounds how long command results are retained.
const CommandResultTTL = 1 * time.Hour

// DeviceKey returns the device hash key: device:{id}
func DeviceKey(deviceID string) string {
	return fmt.Sprintf("device:%s", deviceID)
}

// DetectionsKey returns the per-severity counter key:
// device:{id}:detections:{SEVERITY}
func DetectionsKey(deviceID, severity string) string {
	return fmt.Sprintf("device:%s:detections:%s", deviceID, severity)
}

// ThreatKey returns the device threat-level key: device:{id}:threat
func ThreatKey(deviceID string) string {
	return fmt.Sprintf("device:%s:threat", deviceID)
}

// BatchKey returns the batch record key: batch:{id}:{ts}
func BatchKey(deviceID string, ts int64) string {
	return fmt.Sprintf("batch:%s:%d", deviceID, ts)
}

// HourlyBatchesKey returns the hourly batch index: batches:{id}:hourly
func HourlyBatchesKey(deviceID string) string {
	return fmt.Sprintf("batches:%s:hourly", deviceID)
}

// DailyBatchesKey returns the daily batch index: batches:{id}:daily
func DailyBatchesKey(deviceID string) string {
	return fmt.Sprintf("batches:%s:daily", deviceID)
}

// DayKey returns the per-day counter hash: day:{id}:{YYYY-MM-DD}
func DayKey(deviceID string, t time.Time) string {
	return fmt.Sprintf("day:%s:%s", deviceID, t.UTC().Format("2006-01-02"))
}

// HourKey returns the per-hour counter hash: hour:{id}:{YYYY-MM-DDTHH}
func HourKey(deviceID string, t time.Time) string {
	return fmt.Sprintf("hour:%s:%s", deviceID, t.UTC().Format("2006-01-02T15"))
}

// SessionKey returns the session record key: session:{id}:{ts}
func SessionKey(deviceID string, ts int64) string {
	return fmt.Sprintf("session:%s:%d", deviceID, ts)
}

// SessionsKey returns the session index: sessions:{id}
func SessionsKey(deviceID string) string {
	return fmt.Sprintf("sessions:%s", deviceID)
}

// DevicesKey is the global device index, scored by last_seen millis.
func DevicesKey() string {
	return "devices"
}

// TopPlayersKey is the global bot-probability leaderboard.
func TopPlayersKey() string {
	return "top_players:bot_probability"
}

// UpdatesChannel returns the per-device pub/sub channel: updates:{id}
func UpdatesChannel(deviceID string) string {
	return fmt.Sprintf("updates:%s", deviceID)
}

// UpdatesAllChannel is the firehose pub/sub channel.
func UpdatesAllChannel() string {
	return "updates:all"
}

// CommandQueueKey returns the pending-command ZSET: device:{id}:command_queue
func CommandQueueKey(deviceID string) string {
	return fmt.Sprintf("device:%s:command_queue", deviceID)
}

// CommandKey returns one command record: device:{id}:commands:{cmd}
func CommandKey(deviceID, commandID string) string {
	return fmt.Sprintf("device:%s:commands:%s", deviceID, commandID)
}

// CommandResultKey returns a command result record:
// device:{id}:command_result:{cmd}
func CommandResultKey(deviceID, commandID string) string {
	return fmt.Sprintf("device:%s:command_result:%s", deviceID, commandID)
}
