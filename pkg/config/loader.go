// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	jsoniter "github.com/json-iterator/go"
	gocache "github.com/patrickmn/go-cache"

	"github.com/fairplaysec/sentinel/pkg/util/backoff"
	"github.com/fairplaysec/sentinel/pkg/util/log"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// memoryCacheTTL is how long a successful dashboard fetch stays
	// authoritative before the server is asked again.
	memoryCacheTTL = 5 * time.Minute
	bundleCacheKey = "bundle"

	configsEndpoint = "/configs"
	versionEndpoint = "/configs/version"

	// CacheFileName is the encrypted on-disk cache.
	CacheFileName = "master_config.enc"

	fetchTimeout = 10 * time.Second
)

// Bundle is the full detection configuration set, one raw document per
// domain (programs, network, behaviour, vm, screen, shared...). Unknown
// domains are carried through untouched for forward compatibility.
type Bundle map[string]json.RawMessage

func (b Bundle) sortedKeys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// wrappedResponse is the dashboard's response envelope.
type wrappedResponse struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

// Loader fetches the bundle dashboard-first with layered fallbacks:
// encrypted disk cache, embedded defaults, loose JSON files.
type Loader struct {
	m sync.Mutex

	baseURL string
	token   string
	client  *http.Client

	cacheDir string // disk cache location, empty disables the disk cache
	password string
	ramOnly  bool
	looseDir string

	memCache *gocache.Cache
	policy   *backoff.Policy
	clk      clock.Clock

	current   Bundle
	lastFetch time.Time
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithCacheDir enables the encrypted disk cache under dir.
func WithCacheDir(dir string) LoaderOption {
	return func(l *Loader) { l.cacheDir = dir }
}

// WithLooseDir enables the legacy loose-JSON fallback under dir.
func WithLooseDir(dir string) LoaderOption {
	return func(l *Loader) { l.looseDir = dir }
}

// WithRAMOnly disables all disk access; the embedded bundle backs the
// dashboard copy.
func WithRAMOnly(ramOnly bool) LoaderOption {
	return func(l *Loader) { l.ramOnly = ramOnly }
}

// WithLoaderClock injects a test clock.
func WithLoaderClock(c clock.Clock) LoaderOption {
	return func(l *Loader) { l.clk = c }
}

// NewLoader returns a Loader for the given dashboard.
func NewLoader(baseURL, token, cachePassword string, opts ...LoaderOption) *Loader {
	l := &Loader{
		baseURL:  baseURL,
		token:    token,
		password: cachePassword,
		client:   &http.Client{Timeout: fetchTimeout},
		memCache: gocache.New(memoryCacheTTL, memoryCacheTTL),
		policy:   backoff.NewPolicy(),
		clk:      clock.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Configs returns the current bundle, fetching from the dashboard when the
// memory cache has expired and the loader is not in a backoff window.
func (l *Loader) Configs(ctx context.Context) (Bundle, error) {
	l.m.Lock()
	defer l.m.Unlock()

	if cached, ok := l.memCache.Get(bundleCacheKey); ok {
		return cached.(Bundle), nil
	}
	now := l.clk.Now()
	if l.policy.Blocked(now) {
		if l.current != nil {
			return l.current, nil
		}
		return l.fallbackChain(now)
	}

	bundle, err := l.fetchRemote(ctx)
	switch {
	case err == nil:
		l.policy.Success()
		l.current = bundle
		l.lastFetch = now
		l.memCache.Set(bundleCacheKey, bundle, gocache.DefaultExpiration)
		l.persist(bundle, now)
		return bundle, nil
	case isOverload(err):
		l.policy.Failure(now)
		log.Warnf("config: dashboard overloaded (streak %d), backing off until %s",
			l.policy.NumErrors(), l.policy.Until().Format(time.RFC3339))
	default:
		log.Warnf("config: dashboard fetch failed: %v", err)
	}

	if l.current != nil {
		return l.current, nil
	}
	bundle, ferr := l.fallbackChain(now)
	if ferr != nil {
		return nil, ferr
	}
	l.current = bundle
	return bundle, nil
}

// LastFetch returns when the dashboard last served a bundle successfully.
func (l *Loader) LastFetch() time.Time {
	l.m.Lock()
	defer l.m.Unlock()
	return l.lastFetch
}

// ConsecutiveErrors returns the current overload streak.
func (l *Loader) ConsecutiveErrors() int {
	l.m.Lock()
	defer l.m.Unlock()
	return l.policy.NumErrors()
}

// RemoteChecksum probes GET /configs/version without fetching the bundle.
func (l *Loader) RemoteChecksum(ctx context.Context) (string, error) {
	var data struct {
		Checksum string `json:"checksum"`
	}
	if err := l.getWrapped(ctx, versionEndpoint, &data); err != nil {
		return "", err
	}
	return data.Checksum, nil
}

type overloadError struct {
	status int
}

func (e *overloadError) Error() string {
	return fmt.Sprintf("dashboard overloaded (HTTP %d)", e.status)
}

func isOverload(err error) bool {
	_, ok := err.(*overloadError)
	return ok
}

func (l *Loader) fetchRemote(ctx context.Context) (Bundle, error) {
	var bundle Bundle
	if err := l.getWrapped(ctx, configsEndpoint, &bundle); err != nil {
		return nil, err
	}
	delete(bundle, "_meta")
	return bundle, nil
}

func (l *Loader) getWrapped(ctx context.Context, endpoint string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+l.token)

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests {
		return &overloadError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dashboard returned %s for %s", resp.Status, endpoint)
	}

	var wrapped wrappedResponse
	if err := jsonAPI.NewDecoder(resp.Body).Decode(&wrapped); err != nil {
		return fmt.Errorf("parsing %s response: %w", endpoint, err)
	}
	if !wrapped.OK {
		return fmt.Errorf("dashboard rejected %s: %s", endpoint, wrapped.Error)
	}
	return jsonAPI.Unmarshal(wrapped.Data, out)
}

// fallbackChain is the offline priority order: encrypted cache, embedded
// defaults, loose JSON files.
func (l *Loader) fallbackChain(now time.Time) (Bundle, error) {
	if !l.ramOnly && l.cacheDir != "" {
		if bundle, err := l.readDiskCache(now); err == nil {
			log.Info("config: using encrypted disk cache")
			return bundle, nil
		} else if !os.IsNotExist(err) {
			log.Warnf("config: disk cache unusable: %v", err)
		}
	}

	if l.ramOnly || l.cacheDir == "" || !l.diskCacheExists() {
		if bundle, err := embeddedBundle(); err == nil {
			log.Info("config: using embedded configuration")
			return bundle, nil
		}
	}

	if l.looseDir != "" {
		if bundle, err := readLooseConfigs(l.looseDir); err == nil {
			log.Infof("config: using loose JSON configs from %s", l.looseDir)
			return bundle, nil
		}
	}
	return nil, fmt.Errorf("no configuration source available")
}

func (l *Loader) diskCacheExists() bool {
	_, err := os.Stat(filepath.Join(l.cacheDir, CacheFileName))
	return err == nil
}

func (l *Loader) readDiskCache(now time.Time) (Bundle, error) {
	blob, err := os.ReadFile(filepath.Join(l.cacheDir, CacheFileName))
	if err != nil {
		return nil, err
	}
	return decryptBundle(blob, now, l.password)
}

// persist writes the encrypted cache atomically (whole-file replace) so a
// crash mid-write never leaves a torn cache behind.
func (l *Loader) persist(bundle Bundle, now time.Time) {
	if l.ramOnly || l.cacheDir == "" {
		return
	}
	blob, err := encryptBundle(bundle, now, l.password)
	if err != nil {
		log.Warnf("config: cannot encrypt cache: %v", err)
		return
	}
	if err := os.MkdirAll(l.cacheDir, 0o700); err != nil {
		log.Warnf("config: cannot create cache dir: %v", err)
		return
	}
	target := filepath.Join(l.cacheDir, CacheFileName)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		log.Warnf("config: cannot write cache: %v", err)
		return
	}
	if err := os.Rename(tmp, target); err != nil {
		log.Warnf("config: cannot replace cache: %v", err)
	}
}

// readLooseConfigs loads the legacy per-domain JSON files.
func readLooseConfigs(dir string) (Bundle, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil || len(matches) == 0 {
		return nil, fmt.Errorf("no loose configs in %s", dir)
	}
	bundle := make(Bundle, len(matches))
	for _, path := range matches {
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		domain := strings.TrimSuffix(filepath.Base(path), ".json")
		bundle[domain] = json.RawMessage(raw)
	}
	if len(bundle) == 0 {
		return nil, fmt.Errorf("no readable loose configs in %s", dir)
	}
	return bundle, nil
}
