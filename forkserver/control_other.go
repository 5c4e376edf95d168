// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build !unix

package forkserver

import (
	"fmt"
	"os"
	"runtime"
)

func openControl(readFD, writeFD int) (*os.File, *os.File, error) {
	return nil, nil, fmt.Errorf("forkserver is not supported on %v", runtime.GOOS)
}

func waitStatus(ps *os.ProcessState) uint32 {
	return uint32(ps.ExitCode()) << 8
}
