// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

//go:build windows

package hostos

import (
	"fmt"
	"image"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32                       = windows.NewLazySystemDLL("user32.dll")
	gdi32                        = windows.NewLazySystemDLL("gdi32.dll")
	procEnumWindows              = user32.NewProc("EnumWindows")
	procIsWindowVisible          = user32.NewProc("IsWindowVisible")
	procGetWindowTextW           = user32.NewProc("GetWindowTextW")
	procGetClassNameW            = user32.NewProc("GetClassNameW")
	procGetWindowThreadProcessID = user32.NewProc("GetWindowThreadProcessId")
	procGetWindowRect            = user32.NewProc("GetWindowRect")
	procGetWindowDC              = user32.NewProc("GetWindowDC")
	procReleaseDC                = user32.NewProc("ReleaseDC")
	procCreateCompatibleDC       = gdi32.NewProc("CreateCompatibleDC")
	procCreateCompatibleBitmap   = gdi32.NewProc("CreateCompatibleBitmap")
	procSelectObject             = gdi32.NewProc("SelectObject")
	procBitBlt                   = gdi32.NewProc("BitBlt")
	procGetDIBits                = gdi32.NewProc("GetDIBits")
	procDeleteObject             = gdi32.NewProc("DeleteObject")
	procDeleteDC                 = gdi32.NewProc("DeleteDC")
)

const srccopy = 0x00CC0020

type rect struct {
	left, top, right, bottom int32
}

type bitmapInfoHeader struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

type bitmapInfo struct {
	Header bitmapInfoHeader
	Colors [1]uint32
}

func enumWindows() ([]WindowInfo, error) {
	var out []WindowInfo
	cb := windows.NewCallback(func(hwnd uintptr, _ uintptr) uintptr {
		visible, _, _ := procIsWindowVisible.Call(hwnd)
		if visible == 0 {
			return 1 // continue enumeration
		}

		var pid uint32
		procGetWindowThreadProcessID.Call(hwnd, uintptr(unsafe.Pointer(&pid)))

		var title [512]uint16
		procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&title[0])), uintptr(len(title)))

		var class [256]uint16
		procGetClassNameW.Call(hwnd, uintptr(unsafe.Pointer(&class[0])), uintptr(len(class)))

		out = append(out, WindowInfo{
			PID:    int32(pid),
			Handle: hwnd,
			Title:  syscall.UTF16ToString(title[:]),
			Class:  syscall.UTF16ToString(class[:]),
		})
		return 1
	})
	ret, _, err := procEnumWindows.Call(cb, 0)
	if ret == 0 {
		return nil, fmt.Errorf("EnumWindows: %w", err)
	}
	return out, nil
}

func captureWindow(w WindowInfo) (image.Image, error) {
	var r rect
	ret, _, err := procGetWindowRect.Call(w.Handle, uintptr(unsafe.Pointer(&r)))
	if ret == 0 {
		return nil, fmt.Errorf("GetWindowRect: %w", err)
	}
	width := int(r.right - r.left)
	height := int(r.bottom - r.top)
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("window %q has no client area", w.Title)
	}

	hdc, _, _ := procGetWindowDC.Call(w.Handle)
	if hdc == 0 {
		return nil, fmt.Errorf("GetWindowDC failed for %q", w.Title)
	}
	defer procReleaseDC.Call(w.Handle, hdc)

	memDC, _, _ := procCreateCompatibleDC.Call(hdc)
	if memDC == 0 {
		return nil, fmt.Errorf("CreateCompatibleDC failed")
	}
	defer procDeleteDC.Call(memDC)

	bitmap, _, _ := procCreateCompatibleBitmap.Call(hdc, uintptr(width), uintptr(height))
	if bitmap == 0 {
		return nil, fmt.Errorf("CreateCompatibleBitmap failed")
	}
	defer procDeleteObject.Call(bitmap)

	procSelectObject.Call(memDC, bitmap)
	ret, _, err = procBitBlt.Call(memDC, 0, 0, uintptr(width), uintptr(height), hdc, 0, 0, srccopy)
	if ret == 0 {
		return nil, fmt.Errorf("BitBlt: %w", err)
	}

	info := bitmapInfo{Header: bitmapInfoHeader{
		Width:    int32(width),
		Height:   -int32(height), // top-down rows
		Planes:   1,
		BitCount: 32,
	}}
	info.Header.Size = uint32(unsafe.Sizeof(info.Header))

	buf := make([]byte, width*height*4)
	ret, _, err = procGetDIBits.Call(memDC, bitmap, 0, uintptr(height),
		uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&info)), 0)
	if ret == 0 {
		return nil, fmt.Errorf("GetDIBits: %w", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i+3 < len(buf); i += 4 {
		// BGRA to RGBA
		img.Pix[i+0] = buf[i+2]
		img.Pix[i+1] = buf[i+1]
		img.Pix[i+2] = buf[i+0]
		img.Pix[i+3] = 0xff
	}
	return img, nil
}

func isElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
