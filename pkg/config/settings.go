// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

// Package config loads the agent's own settings (env + file, via viper) and
// the detection configuration bundle (dashboard-first with an encrypted disk
// cache and an embedded fallback).
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fairplaysec/sentinel/pkg/util/log"
)

// Forwarder modes.
const (
	ModeAuto  = "auto"
	ModeWeb   = "web"
	ModeRedis = "redis"
)

// Settings are the agent's process-level knobs. Config file keys mirror the
// environment variable names, lowercased.
type Settings struct {
	ForwarderMode      string
	RedisURL           string
	RedisTTLSeconds    int
	SignalToken        string
	Env                string
	WebURLDev          string
	WebURLProd         string
	BatchIntervalHeavy time.Duration
	SyncSegments       bool
	// CooldownMultiplier scales how long a threat stays active without a
	// refreshing detection.
	CooldownMultiplier float64
	RAMConfig          bool
}

// WebURL returns the dashboard base URL for the configured environment.
func (s *Settings) WebURL() string {
	if strings.EqualFold(s.Env, "DEV") {
		return s.WebURLDev
	}
	return s.WebURLProd
}

// LoadSettings reads settings from the environment and, when present, the
// given config file. Environment variables win over the file.
func LoadSettings(configFile string) (*Settings, error) {
	v := viper.New()
	v.SetDefault("forwarder_mode", ModeAuto)
	v.SetDefault("redis_ttl_seconds", 86400)
	v.SetDefault("env", "PROD")
	v.SetDefault("batch_interval_heavy", 30)
	v.SetDefault("sync_segments", false)
	v.SetDefault("cooldown_multiplier", 1.0)
	v.SetDefault("ram_config", false)

	v.AutomaticEnv()
	for _, key := range []string{
		"forwarder_mode", "redis_url", "redis_ttl_seconds", "signal_token",
		"env", "web_url_dev", "web_url_prod", "batch_interval_heavy",
		"sync_segments", "cooldown_multiplier", "ram_config",
	} {
		v.BindEnv(key, strings.ToUpper(key)) //nolint:errcheck
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			// a missing file is fine, the env carries everything needed
			log.Debugf("config: no settings file at %s: %v", configFile, err)
		}
	}

	s := &Settings{
		ForwarderMode:      strings.ToLower(v.GetString("forwarder_mode")),
		RedisURL:           v.GetString("redis_url"),
		RedisTTLSeconds:    v.GetInt("redis_ttl_seconds"),
		SignalToken:        v.GetString("signal_token"),
		Env:                strings.ToUpper(v.GetString("env")),
		WebURLDev:          v.GetString("web_url_dev"),
		WebURLProd:         v.GetString("web_url_prod"),
		BatchIntervalHeavy: time.Duration(v.GetInt("batch_interval_heavy")) * time.Second,
		SyncSegments:       v.GetBool("sync_segments"),
		CooldownMultiplier: v.GetFloat64("cooldown_multiplier"),
		RAMConfig:          v.GetBool("ram_config"),
	}
	if s.BatchIntervalHeavy <= 0 {
		s.BatchIntervalHeavy = 30 * time.Second
	}
	return s, nil
}
