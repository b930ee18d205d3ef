// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package redisschema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// The dashboard reads these keys verbatim; any change here is a schema break.
func TestKeyTemplates(t *testing.T) {
	id := "0123456789abcdef0123456789abcdef"
	when := time.Date(2024, 11, 5, 22, 30, 0, 0, time.UTC)

	assert.Equal(t, "device:"+id, DeviceKey(id))
	assert.Equal(t, "device:"+id+":detections:CRITICAL", DetectionsKey(id, "CRITICAL"))
	assert.Equal(t, "device:"+id+":threat", ThreatKey(id))
	assert.Equal(t, "batch:"+id+":1730845800", BatchKey(id, when.Unix()))
	assert.Equal(t, "batches:"+id+":hourly", HourlyBatchesKey(id))
	assert.Equal(t, "batches:"+id+":daily", DailyBatchesKey(id))
	assert.Equal(t, "day:"+id+":2024-11-05", DayKey(id, when))
	assert.Equal(t, "hour:"+id+":2024-11-05T22", HourKey(id, when))
	assert.Equal(t, "session:"+id+":1730845800", SessionKey(id, when.Unix()))
	assert.Equal(t, "sessions:"+id, SessionsKey(id))
	assert.Equal(t, "devices", DevicesKey())
	assert.Equal(t, "top_players:bot_probability", TopPlayersKey())
	assert.Equal(t, "updates:"+id, UpdatesChannel(id))
	assert.Equal(t, "updates:all", UpdatesAllChannel())
	assert.Equal(t, "device:"+id+":command_queue", CommandQueueKey(id))
	assert.Equal(t, "device:"+id+":commands:cmd-1", CommandKey(id, "cmd-1"))
	assert.Equal(t, "device:"+id+":command_result:cmd-1", CommandResultKey(id, "cmd-1"))
}

func TestDayAndHourKeysUseUTC(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	// 23:30 EST on Nov 5 is 04:30 UTC on Nov 6
	when := time.Date(2024, 11, 5, 23, 30, 0, 0, est)
	id := "d1"

	assert.Equal(t, "day:d1:2024-11-06", DayKey(id, when))
	assert.Equal(t, "hour:d1:2024-11-06T04", HourKey(id, when))
}
