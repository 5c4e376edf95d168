// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build unix

package forkserver

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// openControl wraps the inherited control descriptors.
// They are marked close-on-exec so that children never see them.
func openControl(readFD, writeFD int) (*os.File, *os.File, error) {
	for _, fd := range []int{readFD, writeFD} {
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
			return nil, nil, fmt.Errorf("control descriptor %v: %w", fd, err)
		}
		unix.CloseOnExec(fd)
	}
	return os.NewFile(uintptr(readFD), "forksrv-read"), os.NewFile(uintptr(writeFD), "forksrv-write"), nil
}

// waitStatus returns the status as waitpid would have.
func waitStatus(ps *os.ProcessState) uint32 {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok {
		return uint32(ws)
	}
	return uint32(ps.ExitCode()) << 8
}
