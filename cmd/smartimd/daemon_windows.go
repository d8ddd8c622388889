//go:build windows

package main

import (
	"os"
	"syscall"
)

// getDaemonSysProcAttr runs the background daemon without a console window.
func getDaemonSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		HideWindow: true,
	}
}

// processExists relies on FindProcess opening a handle, which fails for
// exited processes on Windows.
func processExists(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	proc.Release()
	return true
}
