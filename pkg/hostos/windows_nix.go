// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

//go:build !windows

package hostos

import (
	"image"
	"os"
)

func enumWindows() ([]WindowInfo, error) {
	return nil, ErrUnsupported
}

func captureWindow(WindowInfo) (image.Image, error) {
	return nil, ErrUnsupported
}

func isElevated() bool {
	return os.Geteuid() == 0
}
