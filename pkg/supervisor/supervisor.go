// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

// Package supervisor gates the scan pipeline on the presence of the
// protected client. It classifies processes with multi-factor scoring and
// starts or stops the pipeline as the client appears and disappears.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"github.com/fairplaysec/sentinel/pkg/hostos"
	"github.com/fairplaysec/sentinel/pkg/signal"
	"github.com/fairplaysec/sentinel/pkg/util/log"
)

const (
	defaultCheckInterval = 5 * time.Second

	// debounceInterval suppresses start/stop flapping when the client
	// restarts or briefly vanishes from the process table.
	debounceInterval = 1 * time.Second

	lobbyWaitTimeout = 30 * time.Second
	lobbyPollStep    = 500 * time.Millisecond
	nicknameGrace    = 5 * time.Second

	startedSignal  = "Scanner Started"
	stoppingSignal = "Scanner Stopping"
	nicknameSignal = "Player Name Detected"
)

// Pipeline is the scan machinery the supervisor turns on and off.
type Pipeline interface {
	Start() error
	Stop()
}

// Emitter publishes a signal into the pipeline.
type Emitter func(*signal.Signal)

// NicknameExtractor reads the player name off the lobby window. Optional;
// implementations typically OCR the window capture.
type NicknameExtractor func(ctx context.Context, w hostos.WindowInfo) (string, error)

// Supervisor watches the host for the protected client and drives the
// pipeline lifecycle.
type Supervisor struct {
	m sync.Mutex

	os       hostos.HostOS
	profile  TargetProfile
	pipeline Pipeline
	emit     Emitter
	extract  NicknameExtractor

	clk      clock.Clock
	interval time.Duration

	active         bool
	activating     bool
	lastTransition time.Time
	targetPIDs     []int32

	started *atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock injects a test clock.
func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) { s.clk = c }
}

// WithCheckInterval sets the process-table poll cadence.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.interval = d }
}

// WithHostOS injects a host backend, mainly for tests.
func WithHostOS(os hostos.HostOS) Option {
	return func(s *Supervisor) { s.os = os }
}

// WithNicknameExtractor installs an optional lobby nickname extractor.
func WithNicknameExtractor(extract NicknameExtractor) Option {
	return func(s *Supervisor) { s.extract = extract }
}

// New returns a Supervisor for the given profile.
func New(profile TargetProfile, pipeline Pipeline, emit Emitter, opts ...Option) *Supervisor {
	s := &Supervisor{
		os:       hostos.Default(),
		profile:  profile,
		pipeline: pipeline,
		emit:     emit,
		clk:      clock.New(),
		interval: defaultCheckInterval,
		started:  atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the watch loop.
func (s *Supervisor) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("the supervisor is already started")
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
	log.Infof("supervisor: watching for %s every %s", s.profile.ProcessName, s.interval)
	return nil
}

// Stop halts the watch loop and, when active, stops the pipeline.
func (s *Supervisor) Stop() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	close(s.stop)
	<-s.done

	s.m.Lock()
	defer s.m.Unlock()
	if s.active {
		s.deactivateLocked()
	}
}

func (s *Supervisor) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := s.clk.Ticker(s.interval)
	defer ticker.Stop()

	// cancelling on stop aborts a pending lobby wait so Stop returns promptly
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	s.Check(ctx)
	for {
		select {
		case <-ticker.C:
			s.Check(ctx)
		case <-stop:
			return
		}
	}
}

// Check runs one classification pass and applies any pending transition. The
// activation path can block on the lobby wait, so it runs without holding the
// mutex; Active and TargetPIDs stay responsive throughout.
func (s *Supervisor) Check(ctx context.Context) {
	pids := s.scan()

	s.m.Lock()
	s.targetPIDs = pids

	now := s.clk.Now()
	if now.Sub(s.lastTransition) < debounceInterval {
		s.m.Unlock()
		return
	}

	switch {
	case len(pids) > 0 && !s.active && !s.activating:
		s.lastTransition = now
		s.activating = true
		s.m.Unlock()
		s.activate(ctx)
		return
	case len(pids) == 0 && s.active:
		s.lastTransition = now
		s.deactivateLocked()
	}
	s.m.Unlock()
}

// scan classifies every visible process against the profile.
func (s *Supervisor) scan() []int32 {
	procs, err := s.os.Processes()
	if err != nil {
		log.Warnf("supervisor: listing processes: %v", err)
		return nil
	}
	windowsByPID := s.windowTable()

	var pids []int32
	for _, proc := range procs {
		if sc := scoreProcess(s.os, proc, windowsByPID, s.profile); sc.isTarget() {
			pids = append(pids, proc.PID)
		}
	}
	return pids
}

func (s *Supervisor) windowTable() map[int32][]hostos.WindowInfo {
	windows, err := s.os.Windows()
	if err != nil {
		if !errors.Is(err, hostos.ErrUnsupported) {
			log.Debugf("supervisor: listing windows: %v", err)
		}
		return nil
	}
	table := make(map[int32][]hostos.WindowInfo, len(windows))
	for _, w := range windows {
		table[w.PID] = append(table[w.PID], w)
	}
	return table
}

// activate does the slow part of a start transition, the lobby wait and the
// nickname grab, with the mutex released, then commits under the lock. The
// activating flag keeps concurrent checks from starting a second attempt.
func (s *Supervisor) activate(ctx context.Context) {
	log.Infof("supervisor: %s detected, starting pipeline", s.profile.ProcessName)

	if lobby, ok := s.waitForLobby(ctx); ok && s.extract != nil {
		s.extractNickname(ctx, lobby)
	}

	s.m.Lock()
	defer s.m.Unlock()
	s.activating = false
	if s.active || len(s.targetPIDs) == 0 {
		// the client vanished (or another path won) during the wait
		return
	}
	if err := s.pipeline.Start(); err != nil {
		log.Errorf("supervisor: starting pipeline: %v", err)
		return
	}
	s.active = true
	s.emitSystem(startedSignal, "scan pipeline started")
}

func (s *Supervisor) deactivateLocked() {
	log.Infof("supervisor: %s gone, stopping pipeline", s.profile.ProcessName)
	s.emitSystem(stoppingSignal, "scan pipeline stopping")
	s.pipeline.Stop()
	s.active = false
}

// waitForLobby polls for the main lobby window. The client can take a while
// to paint it after the process appears.
func (s *Supervisor) waitForLobby(ctx context.Context) (hostos.WindowInfo, bool) {
	deadline := s.clk.Now().Add(lobbyWaitTimeout)
	for {
		windows, err := s.os.Windows()
		if err != nil {
			// no window surface on this platform, proceed without one
			return hostos.WindowInfo{}, false
		}
		for _, w := range windows {
			if s.isLobbyWindow(w) {
				return w, true
			}
		}
		if s.clk.Now().After(deadline) {
			log.Debug("supervisor: lobby window not found before timeout")
			return hostos.WindowInfo{}, false
		}
		select {
		case <-ctx.Done():
			return hostos.WindowInfo{}, false
		case <-s.clk.After(lobbyPollStep):
		}
	}
}

func (s *Supervisor) isLobbyWindow(w hostos.WindowInfo) bool {
	if s.profile.LobbyPattern == "" {
		return s.WindowMatches(w)
	}
	return containsFold(w.Title, s.profile.LobbyPattern)
}

func (s *Supervisor) extractNickname(ctx context.Context, lobby hostos.WindowInfo) {
	ctx, cancel := context.WithTimeout(ctx, nicknameGrace)
	defer cancel()

	nickname, err := s.extract(ctx, lobby)
	if err != nil {
		log.Debugf("supervisor: nickname extraction: %v", err)
		return
	}
	if nickname == "" {
		return
	}
	s.emitSystem(nicknameSignal, nickname)
}

func (s *Supervisor) emitSystem(name, details string) {
	if s.emit == nil {
		return
	}
	s.emit(&signal.Signal{
		Timestamp: float64(s.clk.Now().UnixNano()) / 1e9,
		Category:  signal.CategorySystem,
		Name:      name,
		Status:    signal.StatusOK,
		Details:   details,
	})
}

// Active reports whether the pipeline is currently running.
func (s *Supervisor) Active() bool {
	s.m.Lock()
	defer s.m.Unlock()
	return s.active
}

// TargetPIDs lists the PIDs classified as the protected client on the most
// recent check.
func (s *Supervisor) TargetPIDs() []int32 {
	s.m.Lock()
	defer s.m.Unlock()
	return append([]int32(nil), s.targetPIDs...)
}

// WindowMatches reports whether a window belongs to the protected client.
func (s *Supervisor) WindowMatches(w hostos.WindowInfo) bool {
	if s.profile.WindowClass != "" && w.Class == s.profile.WindowClass {
		return true
	}
	return matchesAnyTitle(w.Title, s.profile.TitlePatterns)
}
