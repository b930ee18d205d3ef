// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

// Package forwarder ships unified batch reports to the dashboard HTTP API.
// It subscribes to the event bus, buffers reports with a drop-oldest cap and
// flushes the buffer from a single writer loop.
package forwarder

import (
	"bytes"
	"expvar"
	"fmt"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/atomic"

	"github.com/fairplaysec/sentinel/pkg/eventbus"
	"github.com/fairplaysec/sentinel/pkg/signal"
	"github.com/fairplaysec/sentinel/pkg/util/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	forwarderExpvar = expvar.NewMap("forwarder")
	signalsSent     = expvar.Int{}
	signalsDropped  = expvar.Int{}
	sendErrors      = expvar.Int{}
)

func init() {
	forwarderExpvar.Set("SignalsSent", &signalsSent)
	forwarderExpvar.Set("SignalsDropped", &signalsDropped)
	forwarderExpvar.Set("SendErrors", &sendErrors)
}

const (
	// bufferCap bounds the outbound buffer; oldest entries drop first.
	bufferCap = 200
	// minFlushInterval is the floor for the writer loop tick.
	minFlushInterval = 1 * time.Second
	// signalEndpoint is the dashboard ingestion route.
	signalEndpoint = "/signal"

	requestTimeout = 10 * time.Second
)

const (
	// Stopped represents the internal state of an unstarted Forwarder.
	Stopped uint32 = iota
	// Started represents the internal state of a started Forwarder.
	Started
)

// Forwarder is the HTTP batch forwarder.
type Forwarder struct {
	m             sync.Mutex // guards buffer and Start/Stop races
	buffer        []*signal.Signal
	internalState *atomic.Uint32

	baseURL       string
	token         string
	flushInterval time.Duration
	client        *http.Client

	stop chan struct{}
	done chan struct{}

	// errorStreak counts consecutive failed flushes; only the first failure
	// of a streak is logged.
	errorStreak *atomic.Int64
}

// New returns a Forwarder POSTing to baseURL with the given bearer token.
func New(baseURL, token string, flushInterval time.Duration) *Forwarder {
	if flushInterval < minFlushInterval {
		flushInterval = minFlushInterval
	}
	return &Forwarder{
		baseURL:       baseURL,
		token:         token,
		flushInterval: flushInterval,
		client:        &http.Client{Timeout: requestTimeout},
		internalState: atomic.NewUint32(Stopped),
		errorStreak:   atomic.NewInt64(0),
	}
}

// Register subscribes the forwarder to the bus. Only batch reports are
// buffered; everything else already travels inside them.
func (f *Forwarder) Register(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventDetection, f.handleSignal)
}

func (f *Forwarder) handleSignal(sig *signal.Signal) {
	if !sig.IsBatchReport() {
		return
	}
	f.m.Lock()
	defer f.m.Unlock()
	f.buffer = append(f.buffer, sig)
	if len(f.buffer) > bufferCap {
		dropped := len(f.buffer) - bufferCap
		f.buffer = f.buffer[dropped:]
		signalsDropped.Add(int64(dropped))
	}
}

// Start launches the writer loop.
func (f *Forwarder) Start() error {
	f.m.Lock()
	defer f.m.Unlock()
	if f.internalState.Load() == Started {
		return fmt.Errorf("the forwarder is already started")
	}
	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	f.internalState.Store(Started)
	go f.writerLoop(f.stop, f.done)
	log.Infof("forwarder: started, flushing to %s every %s", f.baseURL, f.flushInterval)
	return nil
}

// Stop halts the writer loop; buffered reports not yet flushed are lost, the
// next batch carries fresh state anyway.
func (f *Forwarder) Stop() {
	f.m.Lock()
	if f.internalState.Load() == Stopped {
		f.m.Unlock()
		return
	}
	f.internalState.Store(Stopped)
	stop, done := f.stop, f.done
	f.m.Unlock()

	close(stop)
	<-done
	log.Info("forwarder: stopped")
}

func (f *Forwarder) writerLoop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(f.flushInterval)
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

// Flush drains the buffer and POSTs it as one signal array. Failed flushes
// are dropped, not retried: each batch report supersedes the previous one.
func (f *Forwarder) Flush() {
	f.m.Lock()
	pending := f.buffer
	f.buffer = nil
	f.m.Unlock()
	if len(pending) == 0 {
		return
	}

	if err := f.post(pending); err != nil {
		sendErrors.Add(1)
		if f.errorStreak.Inc() == 1 {
			log.Errorf("forwarder: delivery failing (%d signal(s) dropped): %v", len(pending), err)
		}
		return
	}
	if streak := f.errorStreak.Swap(0); streak > 0 {
		log.Infof("forwarder: delivery recovered after %d failed flush(es)", streak)
	}
	signalsSent.Add(int64(len(pending)))
}

func (f *Forwarder) post(signals []*signal.Signal) error {
	payload, err := json.Marshal(WireSignals(signals))
	if err != nil {
		return fmt.Errorf("serializing signals: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, f.baseURL+signalEndpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.token)

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("dashboard returned %s", resp.Status)
	}
	return nil
}

// WireSignal is the schema-stable on-wire form: the timestamp is an integer
// and batch reports ride in details as a JSON string.
type WireSignal struct {
	Timestamp   int64           `json:"timestamp"`
	Category    signal.Category `json:"category"`
	Name        string          `json:"name"`
	Status      signal.Status   `json:"status"`
	Details     string          `json:"details"`
	DeviceID    string          `json:"device_id"`
	DeviceName  string          `json:"device_name"`
	DeviceIP    string          `json:"device_ip"`
	SegmentName string          `json:"segment_name"`
}

// WireSignals converts bus signals to their wire form.
func WireSignals(signals []*signal.Signal) []WireSignal {
	out := make([]WireSignal, len(signals))
	for i, s := range signals {
		out[i] = WireSignal{
			Timestamp:   int64(s.Timestamp),
			Category:    s.Category,
			Name:        s.Name,
			Status:      s.Status,
			Details:     s.Details,
			DeviceID:    s.DeviceID,
			DeviceName:  s.DeviceName,
			DeviceIP:    s.DeviceIP,
			SegmentName: s.SegmentName,
		}
	}
	return out
}
