// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package batcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fairplaysec/sentinel/pkg/util/log"
)

// keepBatchLogs bounds the rotating on-disk batch log.
const keepBatchLogs = 20

// writeBatchLog persists one serialized batch and prunes the oldest files
// beyond the retention bound. Failures are logged and never block a batch.
func (b *Batcher) writeBatchLog(batchNumber uint64, payload []byte) {
	if err := os.MkdirAll(b.logDir, 0o755); err != nil {
		log.Warnf("batcher: cannot create batch log dir %s: %v", b.logDir, err)
		return
	}
	name := filepath.Join(b.logDir, fmt.Sprintf("batch_%010d.json", batchNumber))
	if err := os.WriteFile(name, payload, 0o644); err != nil {
		log.Warnf("batcher: cannot write batch log %s: %v", name, err)
		return
	}
	b.pruneBatchLogs()
}

func (b *Batcher) pruneBatchLogs() {
	matches, err := filepath.Glob(filepath.Join(b.logDir, "batch_*.json"))
	if err != nil || len(matches) <= keepBatchLogs {
		return
	}
	sort.Strings(matches)
	for _, stale := range matches[:len(matches)-keepBatchLogs] {
		if err := os.Remove(stale); err != nil {
			log.Warnf("batcher: cannot prune batch log %s: %v", stale, err)
		}
	}
}
