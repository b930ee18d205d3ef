// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

// Package segment defines the detection-module contract and the scheduler
// that staggers segment ticks across the batch window. Segments register
// themselves at init time; there is no runtime discovery.
package segment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fairplaysec/sentinel/pkg/signal"
)

// Segment is a detection module that periodically emits signals of one
// category.
type Segment interface {
	Name() string                   // printable segment name
	Category() signal.Category      // category of the signals it emits
	Interval() time.Duration        // tick period, 0 means the batch interval
	Tick(ctx context.Context) error // one scan pass
	Cleanup()                       // release resources, called once on stop
}

// Emitter posts a signal into the pipeline. The runtime provides it; tests
// pass a recording func.
type Emitter func(sig *signal.Signal)

// Factory builds a segment bound to an emitter.
type Factory func(emit Emitter) Segment

var (
	catalogMu sync.Mutex
	catalog   = make(map[string]Factory)
)

// Register adds a segment factory to the catalog. Called from package init
// hooks of the built-in segments.
func Register(name string, f Factory) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	catalog[name] = f
}

// Catalog returns the registered factories, keyed by segment name.
func Catalog() map[string]Factory {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	out := make(map[string]Factory, len(catalog))
	for name, f := range catalog {
		out[name] = f
	}
	return out
}

// Load instantiates every registered segment, sorted by name so scheduling
// offsets are deterministic.
func Load(emit Emitter) []Segment {
	factories := Catalog()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	segments := make([]Segment, 0, len(names))
	for _, name := range names {
		segments = append(segments, factories[name](emit))
	}
	return segments
}
