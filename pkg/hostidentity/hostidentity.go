// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

// Package hostidentity resolves the device identity fields stamped on every
// signal: a stable device id, the host name and the primary local IP.
package hostidentity

import (
	"crypto/md5"
	"encoding/hex"
	"net"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/fairplaysec/sentinel/pkg/util/log"
)

// Provider resolves device identity. The default implementation caches
// results for the lifetime of the process.
type Provider interface {
	DeviceID() string
	DeviceName() string
	DeviceIP() string
}

var (
	defaultProvider Provider = &hostProvider{}

	hex32Pattern    = regexp.MustCompile(`^[0-9a-f]{32}$`)
	splitHexPattern = regexp.MustCompile(`^[0-9a-f]{16}_[0-9a-f]{16}$`)
)

// Default returns the process-wide identity provider.
func Default() Provider {
	return defaultProvider
}

// LooksLikeDeviceID reports whether a candidate display name is actually a
// machine identifier (hex32 or hex16_hex16) and should not be shown to users.
func LooksLikeDeviceID(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return hex32Pattern.MatchString(lower) || splitHexPattern.MatchString(lower)
}

type hostProvider struct {
	once sync.Once
	id   string
	name string
	ip   string
}

func (p *hostProvider) resolve() {
	p.name = computerName()
	p.id = DeriveDeviceID(p.name)
	p.ip = localIP()
}

// DeviceID returns the MD5-derived stable device identifier.
func (p *hostProvider) DeviceID() string {
	p.once.Do(p.resolve)
	return p.id
}

// DeviceName returns the host computer name.
func (p *hostProvider) DeviceName() string {
	p.once.Do(p.resolve)
	return p.name
}

// DeviceIP returns the primary local IP, or 127.0.0.1 when it cannot be
// determined.
func (p *hostProvider) DeviceIP() string {
	p.once.Do(p.resolve)
	return p.ip
}

// DeriveDeviceID builds the canonical device id from a computer name. The
// dashboard relies on this exact derivation, do not change it.
func DeriveDeviceID(computerName string) string {
	sum := md5.Sum([]byte(strings.ToUpper(strings.TrimSpace(computerName))))
	return hex.EncodeToString(sum[:])
}

func computerName() string {
	if info, err := host.Info(); err == nil && info.Hostname != "" {
		return info.Hostname
	}
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	log.Warn("hostidentity: unable to resolve computer name, using 'unknown'")
	return "unknown"
}

// localIP determines the outbound interface address without sending any
// packet: a UDP "connect" only selects a route.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
