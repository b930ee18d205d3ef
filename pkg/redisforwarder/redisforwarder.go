// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

// Package redisforwarder writes batch reports straight into the dashboard's
// Redis per the shared schema, bypassing the HTTP API. Used on deployments
// where the agent has direct Redis reachability.
package redisforwarder

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v9"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/atomic"

	"github.com/fairplaysec/sentinel/pkg/batcher"
	"github.com/fairplaysec/sentinel/pkg/eventbus"
	"github.com/fairplaysec/sentinel/pkg/redisschema"
	"github.com/fairplaysec/sentinel/pkg/signal"
	"github.com/fairplaysec/sentinel/pkg/util/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	flushInterval  = 1 * time.Second
	bufferCap      = 200
	requestTimeout = 10 * time.Second

	nicknameSignal = "Player Name Detected"
)

// Forwarder persists batch reports and nickname updates to Redis.
type Forwarder struct {
	m      sync.Mutex
	buffer []*signal.Signal

	client   redis.UniversalClient
	batchTTL time.Duration
	started  *atomic.Bool

	stop chan struct{}
	done chan struct{}

	errorStreak *atomic.Int64
}

// New returns a Forwarder writing through client. A zero batchTTL falls back
// to the schema default.
func New(client redis.UniversalClient, batchTTL time.Duration) *Forwarder {
	if batchTTL <= 0 {
		batchTTL = redisschema.DefaultBatchTTL
	}
	return &Forwarder{
		client:      client,
		batchTTL:    batchTTL,
		started:     atomic.NewBool(false),
		errorStreak: atomic.NewInt64(0),
	}
}

// Register subscribes the forwarder to the bus. Batch reports and nickname
// signals are buffered; Redis I/O happens on the writer loop, never inside
// bus dispatch.
func (f *Forwarder) Register(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventDetection, f.handleSignal)
}

func (f *Forwarder) handleSignal(sig *signal.Signal) {
	if !sig.IsBatchReport() && sig.Name != nicknameSignal {
		return
	}
	f.m.Lock()
	defer f.m.Unlock()
	f.buffer = append(f.buffer, sig)
	if len(f.buffer) > bufferCap {
		f.buffer = f.buffer[len(f.buffer)-bufferCap:]
	}
}

// Start launches the writer loop.
func (f *Forwarder) Start() error {
	if !f.started.CompareAndSwap(false, true) {
		return fmt.Errorf("the redis forwarder is already started")
	}
	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	go f.writerLoop(f.stop, f.done)
	log.Info("redis forwarder: started")
	return nil
}

// Stop halts the writer loop.
func (f *Forwarder) Stop() {
	if !f.started.CompareAndSwap(true, false) {
		return
	}
	close(f.stop)
	<-f.done
	log.Info("redis forwarder: stopped")
}

func (f *Forwarder) writerLoop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f.Flush()
		case <-stop:
			return
		}
	}
}

// Flush drains the buffer and applies each entry to Redis.
func (f *Forwarder) Flush() {
	f.m.Lock()
	pending := f.buffer
	f.buffer = nil
	f.m.Unlock()
	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var firstErr error
	for _, sig := range pending {
		var err error
		if sig.IsBatchReport() {
			err = f.writeBatch(ctx, sig)
		} else {
			err = f.writeNickname(ctx, sig)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		if f.errorStreak.Inc() == 1 {
			log.Errorf("redis forwarder: write failing: %v", firstErr)
		}
		return
	}
	if streak := f.errorStreak.Swap(0); streak > 0 {
		log.Infof("redis forwarder: recovered after %d failed flush(es)", streak)
	}
}

// writeBatch applies the full shared-schema update for one batch report.
// Every step is an overwrite or a bounded counter bump, so replaying the
// same-timestamp batch cannot corrupt state beyond one counter increment.
func (f *Forwarder) writeBatch(ctx context.Context, sig *signal.Signal) error {
	var report batcher.Report
	if err := json.UnmarshalFromString(sig.Details, &report); err != nil {
		return fmt.Errorf("parsing batch report: %w", err)
	}
	if report.DeviceID == "" {
		return fmt.Errorf("batch report without device_id")
	}

	id := report.DeviceID
	ts := int64(report.Timestamp)
	when := time.Unix(ts, 0)

	pipe := f.client.Pipeline()

	// 1. batch record
	pipe.Set(ctx, redisschema.BatchKey(id, ts), sig.Details, f.batchTTL)

	// 2. device hash
	pipe.HSet(ctx, redisschema.DeviceKey(id), DeviceHashFields(&report)...)
	pipe.HSetNX(ctx, redisschema.DeviceKey(id), "session_start", strconv.FormatInt(ts, 10))
	if report.Nickname != "" {
		pipe.HSet(ctx, redisschema.DeviceKey(id), "player_nickname", report.Nickname)
	}
	pipe.Set(ctx, redisschema.ThreatKey(id), ThreatLevel(&report), 0)

	// 3. severity counters
	pipe.Set(ctx, redisschema.DetectionsKey(id, "CRITICAL"), report.Summary.Critical, 0)
	pipe.Set(ctx, redisschema.DetectionsKey(id, "ALERT"), report.Summary.Alert, 0)
	pipe.Set(ctx, redisschema.DetectionsKey(id, "WARN"), report.Summary.Warn, 0)

	// 4. batch indexes and rollup counters
	member := redis.Z{Score: float64(ts), Member: strconv.FormatInt(ts, 10)}
	pipe.ZAdd(ctx, redisschema.HourlyBatchesKey(id), member)
	pipe.ZAdd(ctx, redisschema.DailyBatchesKey(id), member)
	pipe.HIncrBy(ctx, redisschema.DayKey(id, when), "reports", 1)
	pipe.HIncrByFloat(ctx, redisschema.DayKey(id, when), "score_sum", report.BotProbability)
	pipe.HIncrBy(ctx, redisschema.HourKey(id, when), "reports", 1)
	pipe.HIncrByFloat(ctx, redisschema.HourKey(id, when), "score_sum", report.BotProbability)

	// 5. global indexes
	pipe.ZAdd(ctx, redisschema.DevicesKey(), redis.Z{
		Score:  float64(when.UnixMilli()),
		Member: id,
	})
	pipe.ZAdd(ctx, redisschema.TopPlayersKey(), redis.Z{
		Score:  report.BotProbability,
		Member: id,
	})

	// 6. update events
	event, err := json.Marshal(map[string]interface{}{
		"timestamp": ts,
		"device_id": id,
	})
	if err == nil {
		pipe.Publish(ctx, redisschema.UpdatesChannel(id), event)
		pipe.Publish(ctx, redisschema.UpdatesAllChannel(), event)
	}

	_, err = pipe.Exec(ctx)
	return err
}

// writeNickname updates the device nickname field outside the batch path so
// a freshly extracted player name lands without waiting for the next window.
func (f *Forwarder) writeNickname(ctx context.Context, sig *signal.Signal) error {
	nickname := sig.Details
	if nickname == "" || sig.DeviceID == "" {
		return nil
	}
	return f.client.HSet(ctx, redisschema.DeviceKey(sig.DeviceID), "player_nickname", nickname).Err()
}

// DeviceHashFields flattens a report into the device hash field pairs.
// Exported for the replay-idempotence tests.
func DeviceHashFields(report *batcher.Report) []interface{} {
	return []interface{}{
		"last_seen", strconv.FormatInt(int64(report.BatchSentAt), 10),
		"threat_level", ThreatLevel(report),
		"device_name", report.DeviceName,
		"device_hostname", report.System.Host,
		"ip_address", report.DeviceIP,
		"bot_probability", strconv.FormatFloat(report.BotProbability, 'f', 1, 64),
	}
}

// ThreatLevel maps a report's probability to the dashboard's device level.
func ThreatLevel(report *batcher.Report) string {
	switch {
	case report.Summary.Critical > 0 || report.BotProbability >= 50:
		return "CRITICAL"
	case report.Summary.Alert > 0 || report.BotProbability >= 20:
		return "ALERT"
	case report.Summary.Warn > 0 || report.BotProbability > 0:
		return "WARN"
	default:
		return "OK"
	}
}
