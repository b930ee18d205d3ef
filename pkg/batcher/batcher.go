// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

// Package batcher collects the signals of one batch window and emits a single
// unified scan report per window, including a heartbeat report when the
// window is empty.
package batcher

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/atomic"

	"github.com/fairplaysec/sentinel/pkg/eventbus"
	"github.com/fairplaysec/sentinel/pkg/hostidentity"
	"github.com/fairplaysec/sentinel/pkg/signal"
	"github.com/fairplaysec/sentinel/pkg/threat"
	"github.com/fairplaysec/sentinel/pkg/util/log"
	"github.com/fairplaysec/sentinel/pkg/version"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultInterval is the default batch window.
const DefaultInterval = 30 * time.Second

// nicknameSignal is the system signal name carrying an extracted player name.
const nicknameSignal = "Player Name Detected"

// SystemInfo is the host snapshot the caller provides at batch time.
type SystemInfo struct {
	CPUPercent float64
	MemPercent float64
	Env        string
	Host       string
}

// SegmentsInfo describes the running segment topology at batch time.
type SegmentsInfo struct {
	Running   int
	Names     []string
	Staggered bool
}

// Batcher owns the per-window signal buffer. It is the single writer to that
// buffer; signals arrive through AddSignal from the bus dispatch.
type Batcher struct {
	m      sync.Mutex
	buffer []*signal.Signal

	bus      *eventbus.Bus
	identity hostidentity.Provider
	clk      clock.Clock

	interval     time.Duration
	lastBatch    time.Time
	batchCounter *atomic.Uint64

	env             string
	includeMetadata bool
	nickname        string // last seen player nickname, survives windows
	logDir          string
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithClock injects a test clock.
func WithClock(c clock.Clock) Option {
	return func(b *Batcher) { b.clk = c }
}

// WithInterval overrides the batch window length.
func WithInterval(d time.Duration) Option {
	return func(b *Batcher) { b.interval = d }
}

// WithEnv sets the config environment (DEV forces the Test device name).
func WithEnv(env string) Option {
	return func(b *Batcher) { b.env = env }
}

// WithMetadata enables the pipeline-topology metadata block.
func WithMetadata(enabled bool) Option {
	return func(b *Batcher) { b.includeMetadata = enabled }
}

// WithLogDir enables rotating on-disk batch logs under dir.
func WithLogDir(dir string) Option {
	return func(b *Batcher) { b.logDir = dir }
}

// New returns a Batcher emitting on bus.
func New(bus *eventbus.Bus, identity hostidentity.Provider, opts ...Option) *Batcher {
	b := &Batcher{
		bus:          bus,
		identity:     identity,
		clk:          clock.New(),
		interval:     DefaultInterval,
		batchCounter: atomic.NewUint64(0),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastBatch = b.clk.Now()
	return b
}

// AddSignal appends a signal to the current window's buffer.
func (b *Batcher) AddSignal(sig *signal.Signal) {
	b.m.Lock()
	defer b.m.Unlock()
	b.buffer = append(b.buffer, sig)
}

// BatchNumber returns the number of batches emitted so far.
func (b *Batcher) BatchNumber() uint64 {
	return b.batchCounter.Load()
}

// Interval returns the batch window length.
func (b *Batcher) Interval() time.Duration {
	return b.interval
}

// MaybeSendBatches assembles and emits a unified report when the current
// window has elapsed. Returns true when a report was emitted.
func (b *Batcher) MaybeSendBatches(tm *threat.Manager, sys SystemInfo, segs SegmentsInfo) bool {
	now := b.clk.Now()

	b.m.Lock()
	if now.Sub(b.lastBatch) < b.interval {
		b.m.Unlock()
		return false
	}
	windowStart := b.lastBatch
	buffered := b.buffer
	b.buffer = nil
	b.lastBatch = now
	b.m.Unlock()

	report := b.assemble(tm, sys, segs, buffered, windowStart, now)
	payload, err := json.Marshal(report)
	if err != nil {
		log.Errorf("batcher: cannot serialize batch %d: %v", report.BatchNumber, err)
		return false
	}

	if b.logDir != "" {
		b.writeBatchLog(report.BatchNumber, payload)
	}

	b.bus.Emit(eventbus.EventDetection, &signal.Signal{
		Timestamp:  float64(now.UnixNano()) / 1e9,
		Category:   signal.CategorySystem,
		Name:       ReportName,
		Status:     signal.StatusInfo,
		Details:    string(payload),
		DeviceID:   report.DeviceID,
		DeviceName: report.DeviceName,
		DeviceIP:   report.DeviceIP,
	})
	log.Debugf("batcher: emitted batch %d (%d detections, probability %.1f)",
		report.BatchNumber, report.Summary.TotalDetections, report.BotProbability)
	return true
}

func (b *Batcher) assemble(tm *threat.Manager, sys SystemInfo, segs SegmentsInfo,
	buffered []*signal.Signal, windowStart, now time.Time) *Report {

	snapshot := tm.Snapshot(windowStart)

	type dedupKey struct {
		category signal.Category
		name     string
		details  string
		segment  string
	}
	display := make(map[dedupKey]*Detection)
	var order []dedupKey

	summary := ReportSummary{
		TotalThreats: snapshot.TotalThreats,
		ThreatScore:  snapshot.TotalScore,
	}
	categories := make(map[signal.Category]int)
	fileAnalysis := 0
	var deviceNameHint string

	for _, sig := range buffered {
		if sig.Category == signal.CategorySystem {
			if sig.Name == nicknameSignal && strings.TrimSpace(sig.Details) != "" {
				b.nickname = strings.TrimSpace(sig.Details)
			}
			continue
		}
		if strings.Contains(sig.Name, "File Analysis") {
			fileAnalysis++
		}
		if deviceNameHint == "" && sig.DeviceName != "" && !hostidentity.LooksLikeDeviceID(sig.DeviceName) {
			deviceNameHint = sig.DeviceName
		}
		if threat.Level(sig) == signal.StatusInfo {
			continue
		}

		summary.TotalDetections++
		summary.RawDetectionScore += sig.Status.Points()
		categories[sig.Category]++
		switch sig.Status {
		case signal.StatusCritical:
			summary.Critical++
		case signal.StatusAlert:
			summary.Alert++
		case signal.StatusWarn:
			summary.Warn++
		default:
			summary.Info++
		}

		key := dedupKey{sig.Category, sig.Name, sig.Details, sig.SegmentName}
		if d, ok := display[key]; ok {
			d.Occurrences++
			continue
		}
		d := &Detection{
			Category:    sig.Category,
			Name:        sig.Name,
			Status:      sig.Status,
			Details:     sig.Details,
			Segment:     sig.SegmentName,
			Occurrences: 1,
		}
		if id, ok := threat.DeriveID(sig); ok {
			d.ThreatID = id
			for _, st := range snapshot.Top {
				if st.ThreatID == id {
					d.Sources = st.Sources
					d.Confidence = st.Confidence
					d.Score = st.Score
					break
				}
			}
		}
		display[key] = d
		order = append(order, key)
	}

	detections := make([]Detection, 0, len(order))
	for _, key := range order {
		detections = append(detections, *display[key])
	}

	report := &Report{
		ScanType:          "unified",
		BatchNumber:       b.batchCounter.Add(1),
		Timestamp:         float64(windowStart.UnixNano()) / 1e9,
		BatchSentAt:       float64(now.UnixNano()) / 1e9,
		BotProbability:    roundProbability(snapshot.BotProbability),
		Nickname:          b.nickname,
		Summary:           summary,
		Categories:        categories,
		AggregatedThreats: snapshot.Top,
		ActiveThreats:     detections,
		VMProbability:     vmProbability(snapshot),
		FileAnalysisCount: fileAnalysis,
		System: SystemBlock{
			CPUPercent:      sys.CPUPercent,
			MemPercent:      sys.MemPercent,
			SegmentsRunning: segs.Running,
			Env:             sys.Env,
			Host:            sys.Host,
		},
	}
	if b.includeMetadata {
		report.Metadata = &Metadata{
			Flow:          "segments > bus > {threats, batcher} > forwarders",
			Segments:      segs.Names,
			BatchInterval: b.interval.Seconds(),
			Staggered:     segs.Staggered,
			AgentVersion:  version.Full(),
		}
	}

	b.resolveIdentity(report, sys, deviceNameHint)
	return report
}

// resolveIdentity fills device_name/id/ip using the fixed priority chain:
// nickname, system host, buffered signal device names, then the device id.
func (b *Batcher) resolveIdentity(report *Report, sys SystemInfo, deviceNameHint string) {
	report.DeviceID = b.identity.DeviceID()
	if report.DeviceID == "" {
		report.DeviceID = hostidentity.DeriveDeviceID(sys.Host)
	}
	report.DeviceIP = b.identity.DeviceIP()
	if report.DeviceIP == "" {
		report.DeviceIP = "127.0.0.1"
	}

	candidates := []string{
		report.Nickname,
		sys.Host,
		b.identity.DeviceName(),
		deviceNameHint,
	}
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" || hostidentity.LooksLikeDeviceID(c) {
			continue
		}
		report.DeviceName = c
		break
	}
	if report.DeviceName == "" {
		report.DeviceName = report.DeviceID
	}
	if strings.EqualFold(b.env, "DEV") {
		report.DeviceName = "Test"
	}
}

// vmProbability is the clamped score contributed by vm-category threats.
func vmProbability(s threat.Summary) float64 {
	p := 0.0
	for _, t := range s.Top {
		if t.Category == signal.CategoryVM {
			p += float64(t.Score)
		}
	}
	if p > 100 {
		p = 100
	}
	return p
}

// roundProbability keeps the wire value at one decimal place.
func roundProbability(p float64) float64 {
	return math.Round(p*10) / 10
}
