// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package threat

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/fairplaysec/sentinel/pkg/signal"
	"github.com/fairplaysec/sentinel/pkg/util/log"
)

const (
	// sweepInterval is how often expired threats are removed.
	sweepInterval = 10 * time.Second
	// timeoutMultiplier scales the scan interval into the default
	// per-category heartbeat timeout.
	timeoutMultiplier = 3
	// maxProbability clamps the summed threat score.
	maxProbability = 100.0
	// topThreatCount bounds the snapshot's top-threat list.
	topThreatCount = 10
)

// Manager owns the active-threat map. It is the single writer; readers go
// through Snapshot.
type Manager struct {
	m       sync.Mutex
	threats map[string]*ActiveThreat

	clk          clock.Clock
	scanInterval time.Duration
	timeouts     map[signal.Category]time.Duration
	cooldown     float64

	stopSweeper chan struct{}
	sweeperDone chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects a clock, used by tests to drive expiry.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clk = c }
}

// WithCategoryTimeout overrides the heartbeat timeout for one category.
// Values below one scan interval are raised to the floor.
func WithCategoryTimeout(cat signal.Category, d time.Duration) Option {
	return func(m *Manager) {
		if d < m.scanInterval {
			d = m.scanInterval
		}
		m.timeouts[cat] = d
	}
}

// WithCooldownMultiplier scales every heartbeat timeout. Values <= 0 keep
// the default of 1.
func WithCooldownMultiplier(f float64) Option {
	return func(m *Manager) {
		if f > 0 {
			m.cooldown = f
		}
	}
}

// NewManager returns a Manager whose per-category timeouts default to three
// scan intervals.
func NewManager(scanInterval time.Duration, opts ...Option) *Manager {
	m := &Manager{
		threats:      make(map[string]*ActiveThreat),
		clk:          clock.New(),
		scanInterval: scanInterval,
		timeouts:     make(map[signal.Category]time.Duration),
		cooldown:     1,
	}
	for _, cat := range signal.Categories() {
		m.timeouts[cat] = timeoutMultiplier * scanInterval
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartSweeper launches the periodic expiry loop.
func (m *Manager) StartSweeper() {
	m.m.Lock()
	defer m.m.Unlock()
	if m.stopSweeper != nil {
		return
	}
	m.stopSweeper = make(chan struct{})
	m.sweeperDone = make(chan struct{})
	go m.sweepLoop(m.stopSweeper, m.sweeperDone)
}

// StopSweeper stops the expiry loop and waits for it to exit.
func (m *Manager) StopSweeper() {
	m.m.Lock()
	stop, done := m.stopSweeper, m.sweeperDone
	m.stopSweeper = nil
	m.sweeperDone = nil
	m.m.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (m *Manager) sweepLoop(stop chan struct{}, done chan struct{}) {
	defer close(done)
	ticker := m.clk.Ticker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Expire()
		case <-stop:
			return
		}
	}
}

// Update merges a signal into the active-threat map and returns the new bot
// probability plus whether the caller should suppress the signal's emit
// because a strictly more severe threat already covers the same id.
func (m *Manager) Update(sig *signal.Signal) (probability float64, suppress bool) {
	id, ok := DeriveID(sig)
	if !ok {
		return m.BotProbability(), false
	}

	status := mergeStatus(sig)
	source := string(sig.Category) + "/" + sig.Name
	now := m.clk.Now()

	m.m.Lock()
	defer m.m.Unlock()

	t, exists := m.threats[id]
	if !exists {
		if status.Points() == 0 {
			return m.probabilityLocked(), false
		}
		m.threats[id] = &ActiveThreat{
			ThreatID:         id,
			Category:         sig.Category,
			Name:             sig.Name,
			Status:           status,
			Details:          sig.Details,
			FirstSeen:        now,
			LastSeen:         now,
			DetectionCount:   1,
			ThreatScore:      status.Points(),
			DetectionSources: []string{source},
			ConfidenceScore:  1,
		}
		log.Debugf("threat: new %q %s (score %d)", id, status, status.Points())
		return m.probabilityLocked(), false
	}

	t.LastSeen = now
	t.DetectionCount++
	if !t.hasSource(source) {
		t.DetectionSources = append(t.DetectionSources, source)
		t.ConfidenceScore = len(t.DetectionSources)
	}
	if status.Points() > t.Status.Points() {
		log.Infof("threat: %q escalated %s -> %s", id, t.Status, status)
		t.Status = status
		t.ThreatScore = status.Points()
	}
	if moreSpecificName(t.Name, sig.Name) {
		t.Name = sig.Name
	}
	if len(sig.Details) > len(t.Details) {
		t.Details = sig.Details
	}

	suppress = t.Status.Points() > status.Points()
	return m.probabilityLocked(), suppress
}

// SetCategoryTimeout replaces one category's heartbeat timeout at runtime,
// holding the one-scan-interval floor. The dashboard config refresh path
// calls this when the shared bundle changes.
func (m *Manager) SetCategoryTimeout(cat signal.Category, d time.Duration) {
	if d < m.scanInterval {
		d = m.scanInterval
	}
	m.m.Lock()
	defer m.m.Unlock()
	m.timeouts[cat] = d
}

// SetCooldownMultiplier rescales every heartbeat timeout at runtime.
// Values <= 0 are ignored.
func (m *Manager) SetCooldownMultiplier(f float64) {
	if f <= 0 {
		return
	}
	m.m.Lock()
	defer m.m.Unlock()
	m.cooldown = f
}

// Expire removes threats whose last_seen age exceeds their category timeout
// scaled by the cooldown multiplier. Expiry is binary: a threat contributes
// full points until removed.
func (m *Manager) Expire() {
	now := m.clk.Now()
	m.m.Lock()
	defer m.m.Unlock()
	for id, t := range m.threats {
		timeout, ok := m.timeouts[t.Category]
		if !ok {
			timeout = timeoutMultiplier * m.scanInterval
		}
		timeout = time.Duration(m.cooldown * float64(timeout))
		if timeout < m.scanInterval {
			timeout = m.scanInterval
		}
		if now.Sub(t.LastSeen) > timeout {
			log.Infof("threat: %q expired after %s without refresh", id, timeout)
			delete(m.threats, id)
		}
	}
}

// BotProbability returns the clamped linear sum of active threat scores.
func (m *Manager) BotProbability() float64 {
	m.m.Lock()
	defer m.m.Unlock()
	return m.probabilityLocked()
}

func (m *Manager) probabilityLocked() float64 {
	sum := 0.0
	for _, t := range m.threats {
		sum += float64(t.ThreatScore)
	}
	if sum > maxProbability {
		return maxProbability
	}
	return sum
}

// ActiveCount returns the number of active threats.
func (m *Manager) ActiveCount() int {
	m.m.Lock()
	defer m.m.Unlock()
	return len(m.threats)
}

// Get returns a copy of one active threat.
func (m *Manager) Get(id string) (ActiveThreat, bool) {
	m.m.Lock()
	defer m.m.Unlock()
	t, ok := m.threats[id]
	if !ok {
		return ActiveThreat{}, false
	}
	return copyThreat(t), true
}

// Snapshot returns a consistent summary of the current state. A non-zero
// windowStart restricts it to threats refreshed at or after that instant.
func (m *Manager) Snapshot(windowStart time.Time) Summary {
	now := m.clk.Now()
	m.m.Lock()
	defer m.m.Unlock()

	sum := Summary{
		ByCategory: make(map[signal.Category]int),
		ByStatus:   make(map[string]int),
	}
	var selected []*ActiveThreat
	for _, t := range m.threats {
		if !windowStart.IsZero() && t.LastSeen.Before(windowStart) {
			continue
		}
		selected = append(selected, t)
		sum.TotalThreats++
		sum.TotalScore += t.ThreatScore
		sum.ByCategory[t.Category]++
		sum.ByStatus[t.Status.String()]++
	}
	sum.BotProbability = float64(sum.TotalScore)
	if sum.BotProbability > maxProbability {
		sum.BotProbability = maxProbability
	}

	sort.Slice(selected, func(i, j int) bool {
		if selected[i].ThreatScore != selected[j].ThreatScore {
			return selected[i].ThreatScore > selected[j].ThreatScore
		}
		return strings.Compare(selected[i].ThreatID, selected[j].ThreatID) < 0
	})
	for i, t := range selected {
		if i == topThreatCount {
			break
		}
		sources := make([]string, len(t.DetectionSources))
		copy(sources, t.DetectionSources)
		sum.Top = append(sum.Top, SummaryThreat{
			ThreatID:   t.ThreatID,
			Name:       t.Name,
			Category:   t.Category,
			Status:     t.Status,
			Score:      t.ThreatScore,
			AgeSeconds: now.Sub(t.FirstSeen).Seconds(),
			Confidence: t.ConfidenceScore,
			Sources:    sources,
			Detections: t.DetectionCount,
		})
	}
	return sum
}

// All returns copies of every active threat, for the batch report.
func (m *Manager) All() []ActiveThreat {
	m.m.Lock()
	defer m.m.Unlock()
	out := make([]ActiveThreat, 0, len(m.threats))
	for _, t := range m.threats {
		out = append(out, copyThreat(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThreatScore > out[j].ThreatScore })
	return out
}

func copyThreat(t *ActiveThreat) ActiveThreat {
	c := *t
	c.DetectionSources = make([]string, len(t.DetectionSources))
	copy(c.DetectionSources, t.DetectionSources)
	return c
}
