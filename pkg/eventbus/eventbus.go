// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

// Package eventbus provides the in-process publish/subscribe channel between
// signal producers (segments, the batcher) and signal consumers (threat
// manager, forwarders). Dispatch is synchronous and listener failures are
// isolated.
package eventbus

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"

	"go.uber.org/atomic"

	"github.com/fairplaysec/sentinel/pkg/signal"
	"github.com/fairplaysec/sentinel/pkg/util/log"
)

// HistoryCapacity bounds the retained signal history; oldest entries are
// dropped first.
const HistoryCapacity = 1000

// EventDetection is the event type every pipeline signal is emitted on.
const EventDetection = "detection"

// Listener receives signals for one event type, in subscription order.
type Listener func(sig *signal.Signal)

// Bus is a synchronous event bus with bounded history. The zero value is not
// usable; call New.
type Bus struct {
	m         sync.Mutex
	listeners map[string][]Listener
	history   []*signal.Signal
	dispatchG *atomic.Uint64 // goroutine currently dispatching, 0 if none
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{
		listeners: make(map[string][]Listener),
		dispatchG: atomic.NewUint64(0),
	}
}

// Subscribe registers a listener for an event type. Listeners for the same
// type are invoked in subscription order.
func (b *Bus) Subscribe(event string, l Listener) {
	b.m.Lock()
	defer b.m.Unlock()
	b.listeners[event] = append(b.listeners[event], l)
}

// Emit appends the signal to the bounded history and invokes every listener
// registered for the event, synchronously and in order. A panicking listener
// is logged and does not prevent later listeners. Re-entrant calls from a
// listener are rejected: the dispatch lock is not reentrant.
func (b *Bus) Emit(event string, sig *signal.Signal) {
	gid := goroutineID()
	if gid != 0 && b.dispatchG.Load() == gid {
		// a listener called Emit on its own bus; taking the lock again
		// would deadlock, so the call is rejected outright
		log.Errorf("event bus: rejected re-entrant emit of %s from a listener", sig)
		return
	}

	b.m.Lock()
	defer b.m.Unlock()

	b.history = append(b.history, sig)
	if len(b.history) > HistoryCapacity {
		b.history = b.history[len(b.history)-HistoryCapacity:]
	}

	b.dispatchG.Store(gid)
	defer b.dispatchG.Store(0)
	for _, l := range b.listeners[event] {
		b.invoke(l, sig)
	}
}

func (b *Bus) invoke(l Listener, sig *signal.Signal) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("event bus: listener panicked on %s: %v", sig, r)
		}
	}()
	l(sig)
}

// History returns up to limit of the most recent signals, oldest first,
// optionally filtered by category. An empty category matches everything;
// limit <= 0 means no limit.
func (b *Bus) History(category signal.Category, limit int) []*signal.Signal {
	b.m.Lock()
	defer b.m.Unlock()

	out := make([]*signal.Signal, 0, len(b.history))
	for _, s := range b.history {
		if category == "" || s.Category == category {
			out = append(out, s)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Cleanup drops all listeners and history.
func (b *Bus) Cleanup() {
	b.m.Lock()
	defer b.m.Unlock()
	b.listeners = make(map[string][]Listener)
	b.history = nil
}

// goroutineID extracts the current goroutine id from the runtime stack
// header. Only used to detect re-entrant dispatch; never exposed.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// header looks like "goroutine 123 [running]:"
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
