// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairplaysec/sentinel/pkg/hostos"
	"github.com/fairplaysec/sentinel/pkg/signal"
)

type fakePipeline struct {
	m        sync.Mutex
	starts   int
	stops    int
	startErr error
}

func (f *fakePipeline) Start() error {
	f.m.Lock()
	defer f.m.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	return nil
}

func (f *fakePipeline) Stop() {
	f.m.Lock()
	defer f.m.Unlock()
	f.stops++
}

func (f *fakePipeline) counts() (int, int) {
	f.m.Lock()
	defer f.m.Unlock()
	return f.starts, f.stops
}

type signalLog struct {
	m    sync.Mutex
	sigs []*signal.Signal
}

func (l *signalLog) emit(sig *signal.Signal) {
	l.m.Lock()
	defer l.m.Unlock()
	l.sigs = append(l.sigs, sig)
}

func (l *signalLog) names() []string {
	l.m.Lock()
	defer l.m.Unlock()
	out := make([]string, len(l.sigs))
	for i, sig := range l.sigs {
		out[i] = sig.Name
	}
	return out
}

// targetDouble returns a Double with a fully classifiable client process and
// its lobby window.
func targetDouble() *hostos.Double {
	double := hostos.NewDouble()
	double.AddProcess(hostos.ProcessInfo{
		PID:  100,
		Name: "coinpoker.exe",
		Exe:  `C:\Games\CoinPoker\coinpoker.exe`,
		Cwd:  `C:\Games\CoinPoker`,
	})
	double.AddWindow(hostos.WindowInfo{PID: 100, Title: "CoinPoker Lobby", Class: "Qt5QWindowIcon"})
	return double
}

func newTestSupervisor(double *hostos.Double, pipe Pipeline, sigs *signalLog, opts ...Option) (*Supervisor, *clock.Mock) {
	clk := clock.NewMock()
	opts = append([]Option{WithHostOS(double), WithClock(clk)}, opts...)
	return New(DefaultProfile(), pipe, sigs.emit, opts...), clk
}

func TestCheckActivatesOnTarget(t *testing.T) {
	pipe := &fakePipeline{}
	sigs := &signalLog{}
	s, _ := newTestSupervisor(targetDouble(), pipe, sigs)

	s.Check(context.Background())

	assert.True(t, s.Active())
	starts, stops := pipe.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 0, stops)
	assert.Equal(t, []string{startedSignal}, sigs.names())
	assert.Equal(t, []int32{100}, s.TargetPIDs())
}

func TestCheckIgnoresNonTargets(t *testing.T) {
	double := hostos.NewDouble()
	double.AddProcess(hostos.ProcessInfo{PID: 200, Name: "notepad.exe", Exe: `C:\Windows\notepad.exe`})

	pipe := &fakePipeline{}
	sigs := &signalLog{}
	s, _ := newTestSupervisor(double, pipe, sigs)

	s.Check(context.Background())

	assert.False(t, s.Active())
	starts, _ := pipe.counts()
	assert.Equal(t, 0, starts)
	assert.Empty(t, sigs.names())
}

func TestCheckDeactivatesWhenTargetGone(t *testing.T) {
	double := targetDouble()
	pipe := &fakePipeline{}
	sigs := &signalLog{}
	s, clk := newTestSupervisor(double, pipe, sigs)

	s.Check(context.Background())
	require.True(t, s.Active())

	require.NoError(t, double.Kill(100))
	clk.Add(2 * time.Second)
	s.Check(context.Background())

	assert.False(t, s.Active())
	starts, stops := pipe.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.Equal(t, []string{startedSignal, stoppingSignal}, sigs.names())
	assert.Empty(t, s.TargetPIDs())
}

func TestDebounceSuppressesFlapping(t *testing.T) {
	double := targetDouble()
	pipe := &fakePipeline{}
	sigs := &signalLog{}
	s, clk := newTestSupervisor(double, pipe, sigs)

	s.Check(context.Background())
	require.True(t, s.Active())

	// the client vanishes immediately after activation: inside the debounce
	// window the pipeline keeps running
	require.NoError(t, double.Kill(100))
	s.Check(context.Background())
	assert.True(t, s.Active())

	// past the window the stop goes through
	clk.Add(2 * time.Second)
	s.Check(context.Background())
	assert.False(t, s.Active())

	_, stops := pipe.counts()
	assert.Equal(t, 1, stops)
}

func TestPipelineStartFailureStaysInactive(t *testing.T) {
	pipe := &fakePipeline{startErr: errors.New("scheduler wedged")}
	sigs := &signalLog{}
	s, _ := newTestSupervisor(targetDouble(), pipe, sigs)

	s.Check(context.Background())

	assert.False(t, s.Active())
	assert.Empty(t, sigs.names(), "no started signal when the pipeline refuses")
}

func TestNicknameExtractionEmitsBeforeStart(t *testing.T) {
	pipe := &fakePipeline{}
	sigs := &signalLog{}
	double := targetDouble()

	var seen hostos.WindowInfo
	extract := func(ctx context.Context, w hostos.WindowInfo) (string, error) {
		seen = w
		return "Hero123", nil
	}
	s, _ := newTestSupervisor(double, pipe, sigs, WithNicknameExtractor(extract))

	s.Check(context.Background())

	require.Equal(t, []string{nicknameSignal, startedSignal}, sigs.names())
	sigs.m.Lock()
	assert.Equal(t, "Hero123", sigs.sigs[0].Details)
	assert.Equal(t, signal.CategorySystem, sigs.sigs[0].Category)
	sigs.m.Unlock()
	assert.Equal(t, "CoinPoker Lobby", seen.Title, "the lobby window is handed to the extractor")
}

func TestNicknameExtractionFailureIsNonFatal(t *testing.T) {
	pipe := &fakePipeline{}
	sigs := &signalLog{}
	extract := func(ctx context.Context, w hostos.WindowInfo) (string, error) {
		return "", errors.New("ocr unavailable")
	}
	s, _ := newTestSupervisor(targetDouble(), pipe, sigs, WithNicknameExtractor(extract))

	s.Check(context.Background())

	assert.True(t, s.Active())
	assert.Equal(t, []string{startedSignal}, sigs.names())
}

// windowlessTarget is a classifiable client process that never paints its
// lobby window, so activation sits in the lobby wait.
func windowlessTarget() *hostos.Double {
	double := hostos.NewDouble()
	double.AddProcess(hostos.ProcessInfo{
		PID:  100,
		Name: "coinpoker.exe",
		Exe:  `C:\Games\CoinPoker\coinpoker.exe`,
		Cwd:  `C:\Games\CoinPoker`,
	})
	return double
}

// drainLobbyWait advances the mock clock until the lobby wait deadline has
// long passed, yielding between steps so the poll loop can observe each one.
func drainLobbyWait(clk *clock.Mock) {
	steps := int(lobbyWaitTimeout/lobbyPollStep) + 10
	for i := 0; i < steps; i++ {
		clk.Add(lobbyPollStep)
		time.Sleep(time.Millisecond)
	}
}

func TestStateQueriesStayResponsiveDuringLobbyWait(t *testing.T) {
	pipe := &fakePipeline{}
	sigs := &signalLog{}
	s, clk := newTestSupervisor(windowlessTarget(), pipe, sigs)

	done := make(chan struct{})
	go func() {
		s.Check(context.Background())
		close(done)
	}()

	// the lobby wait is pending; state queries must answer immediately
	require.Eventually(t, func() bool {
		return len(s.TargetPIDs()) == 1 && !s.Active()
	}, 2*time.Second, 10*time.Millisecond)

	drainLobbyWait(clk)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("check did not return after the lobby wait timed out")
	}

	assert.True(t, s.Active(), "activation proceeds without a lobby window")
	starts, _ := pipe.counts()
	assert.Equal(t, 1, starts)
}

func TestActivationAbortsWhenClientVanishesDuringLobbyWait(t *testing.T) {
	double := windowlessTarget()
	pipe := &fakePipeline{}
	sigs := &signalLog{}
	s, clk := newTestSupervisor(double, pipe, sigs)

	done := make(chan struct{})
	go func() {
		s.Check(context.Background())
		close(done)
	}()
	require.Eventually(t, func() bool {
		return len(s.TargetPIDs()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// the client dies mid-wait; a later check records the empty process table
	require.NoError(t, double.Kill(100))
	s.Check(context.Background())
	assert.Empty(t, s.TargetPIDs())

	drainLobbyWait(clk)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("check did not return after the lobby wait timed out")
	}

	assert.False(t, s.Active(), "a vanished client must not start the pipeline")
	starts, _ := pipe.counts()
	assert.Equal(t, 0, starts)
	assert.Empty(t, sigs.names())
}

func TestStartStopLifecycle(t *testing.T) {
	pipe := &fakePipeline{}
	sigs := &signalLog{}
	double := targetDouble()
	clk := clock.NewMock()
	s := New(DefaultProfile(), pipe, sigs.emit, WithHostOS(double), WithClock(clk))

	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "double start is rejected")

	require.Eventually(t, s.Active, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	assert.False(t, s.Active())
	_, stops := pipe.counts()
	assert.Equal(t, 1, stops, "stopping the supervisor stops an active pipeline")

	s.Stop() // idempotent
}
