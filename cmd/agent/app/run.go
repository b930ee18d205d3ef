// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package app

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v9"
	"github.com/spf13/cobra"

	"github.com/fairplaysec/sentinel/pkg/batcher"
	"github.com/fairplaysec/sentinel/pkg/command"
	"github.com/fairplaysec/sentinel/pkg/config"
	"github.com/fairplaysec/sentinel/pkg/forwarder"
	"github.com/fairplaysec/sentinel/pkg/hostidentity"
	"github.com/fairplaysec/sentinel/pkg/hostos"
	"github.com/fairplaysec/sentinel/pkg/pidfile"
	"github.com/fairplaysec/sentinel/pkg/redisforwarder"
	agentruntime "github.com/fairplaysec/sentinel/pkg/runtime"
	"github.com/fairplaysec/sentinel/pkg/segment"
	"github.com/fairplaysec/sentinel/pkg/segment/segments"
	"github.com/fairplaysec/sentinel/pkg/signal"
	"github.com/fairplaysec/sentinel/pkg/supervisor"
	"github.com/fairplaysec/sentinel/pkg/threat"
	"github.com/fairplaysec/sentinel/pkg/util/log"
	"github.com/fairplaysec/sentinel/pkg/version"
)

// batchCheckInterval is how often the run loop checks whether the current
// batch window elapsed. The batcher itself enforces the window.
const batchCheckInterval = 1 * time.Second

// configRefreshInterval is how often the run loop re-reads the detection
// config bundle and re-applies the shared knobs. The loader caches, so most
// refreshes are served from memory.
const configRefreshInterval = 1 * time.Minute

func init() {
	AgentCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent in the foreground",
	RunE:  run,
}

// scanPipeline ties the segment scheduler and the threat sweeper to the
// supervisor's start/stop transitions.
type scanPipeline struct {
	scheduler *segment.Scheduler
	rt        *agentruntime.Runtime
}

func (p *scanPipeline) Start() error {
	p.rt.Threats.StartSweeper()
	p.scheduler.Start()
	return nil
}

func (p *scanPipeline) Stop() {
	p.scheduler.Stop()
	p.rt.Threats.StopSweeper()
}

func run(cmd *cobra.Command, args []string) error {
	if err := log.SetupDefaultLogger(logLevel); err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer log.Flush()
	log.Infof("starting sentinel agent %s", version.Full())

	settings, err := config.LoadSettings(confFilePath)
	if err != nil {
		return err
	}

	pidPath := pidfile.Path()
	if err := pidfile.WritePID(pidPath); err != nil {
		return err
	}
	defer pidfile.Remove(pidPath)

	identity := hostidentity.Default()
	rt := agentruntime.New(identity, settings.BatchIntervalHeavy,
		agentruntime.WithEnv(settings.Env),
		agentruntime.WithBatchLogDir(stateDir("batches", settings.RAMConfig)))
	agentruntime.SetDefault(rt)

	rt.Threats.SetCooldownMultiplier(settings.CooldownMultiplier)

	// warm the detection config before any segment ticks
	loader := config.NewLoader(settings.WebURL(), settings.SignalToken, settings.SignalToken,
		config.WithCacheDir(stateDir("config", settings.RAMConfig)),
		config.WithRAMOnly(settings.RAMConfig))
	if bundle, err := loader.Configs(cmd.Context()); err != nil {
		log.Warnf("no detection config available yet: %v", err)
	} else {
		applyDetectionConfig(rt.Threats, bundle)
	}

	scheduler := segment.NewScheduler(
		segment.Load(segment.Emitter(rt.PostSignal)),
		settings.BatchIntervalHeavy,
		settings.SyncSegments)

	stopForwarder, commandSource, err := startForwarder(settings, rt, identity)
	if err != nil {
		return err
	}
	defer stopForwarder()

	pipeline := &scanPipeline{scheduler: scheduler, rt: rt}
	sup := supervisor.New(supervisor.DefaultProfile(), pipeline, rt.PostSignal)
	command.RegisterBuiltins(hostos.Default(), sup)

	poller := command.NewPoller(commandSource, identity.DeviceID())
	if err := poller.Start(); err != nil {
		return err
	}
	defer poller.Stop()

	if err := sup.Start(); err != nil {
		return err
	}
	defer sup.Stop()
	defer rt.Shutdown()

	return mainLoop(cmd.Context(), rt, sup, scheduler, loader, settings, identity)
}

func mainLoop(ctx context.Context, rt *agentruntime.Runtime, sup *supervisor.Supervisor,
	scheduler *segment.Scheduler, loader *config.Loader, settings *config.Settings,
	identity hostidentity.Provider) error {
	stopCh := make(chan os.Signal, 1)
	ossignal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(batchCheckInterval)
	defer ticker.Stop()
	refresh := time.NewTicker(configRefreshInterval)
	defer refresh.Stop()

	for {
		select {
		case <-refresh.C:
			bundle, err := loader.Configs(ctx)
			if err != nil {
				log.Debugf("detection config refresh: %v", err)
				continue
			}
			applyDetectionConfig(rt.Threats, bundle)
		case <-ticker.C:
			if !sup.Active() {
				continue
			}
			cpuPct, memPct := segments.Sample(ctx)
			rt.Batcher.MaybeSendBatches(rt.Threats, batcher.SystemInfo{
				CPUPercent: cpuPct,
				MemPercent: memPct,
				Env:        settings.Env,
				Host:       identity.DeviceName(),
			}, batcher.SegmentsInfo{
				Running:   scheduler.Running(),
				Names:     scheduler.Names(),
				Staggered: scheduler.Staggered(),
			})
		case sig := <-stopCh:
			log.Infof("received %s, shutting down", sig)
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// applyDetectionConfig pushes the bundle's shared knobs into the threat
// manager. Heartbeat timeouts arrive keyed by uppercase category name, in
// seconds; unknown keys and non-positive values are skipped.
func applyDetectionConfig(threats *threat.Manager, bundle config.Bundle) {
	shared := bundle.Shared()
	for key, seconds := range shared.HeartbeatTimeouts {
		cat := signal.Category(strings.ToLower(key))
		if !cat.Valid() {
			log.Warnf("detection config: unknown heartbeat category %q", key)
			continue
		}
		if seconds <= 0 {
			log.Warnf("detection config: non-positive heartbeat timeout for %q", key)
			continue
		}
		threats.SetCategoryTimeout(cat, time.Duration(seconds)*time.Second)
	}
}

// startForwarder wires the persistence sink per the configured mode and
// returns the matching command source.
func startForwarder(settings *config.Settings, rt *agentruntime.Runtime,
	identity hostidentity.Provider) (func(), command.Source, error) {
	mode := settings.ForwarderMode
	if mode == config.ModeAuto {
		if settings.RedisURL != "" {
			mode = config.ModeRedis
		} else {
			mode = config.ModeWeb
		}
	}

	switch mode {
	case config.ModeRedis:
		opts, err := redis.ParseURL(settings.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		fwd := redisforwarder.New(client, time.Duration(settings.RedisTTLSeconds)*time.Second)
		fwd.Register(rt.Bus)
		if err := fwd.Start(); err != nil {
			return nil, nil, err
		}
		log.Info("forwarding batches over redis")
		stop := func() {
			fwd.Stop()
			client.Close() //nolint:errcheck
		}
		return stop, command.NewRedisSource(client, identity.DeviceID()), nil

	case config.ModeWeb:
		fwd := forwarder.New(settings.WebURL(), settings.SignalToken, 0)
		fwd.Register(rt.Bus)
		if err := fwd.Start(); err != nil {
			return nil, nil, err
		}
		log.Infof("forwarding batches to %s", settings.WebURL())
		return fwd.Stop, command.NewHTTPSource(settings.WebURL(), settings.SignalToken, identity.DeviceID()), nil

	default:
		return nil, nil, fmt.Errorf("unknown forwarder mode %q", settings.ForwarderMode)
	}
}

// stateDir returns a writable per-purpose state directory, or empty when
// running RAM-only.
func stateDir(purpose string, ramOnly bool) string {
	if ramOnly {
		return ""
	}
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "sentinel", purpose)
}
