// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package log is a thin wrapper over the standard log package with verbosity
// levels shared by all packages of the module.
// Output always goes to stderr: stdout belongs to the program being fuzzed.
package log

import (
	golog "log"
	"os"
	"strconv"
	"sync/atomic"
)

// EnvVerbosity names the environment variable holding the default verbosity.
const EnvVerbosity = "GOTRACEAFL_DEBUG"

var verbosity atomic.Int32

func init() {
	golog.SetOutput(os.Stderr)
	golog.SetPrefix("gotraceafl: ")
	if v, err := strconv.Atoi(os.Getenv(EnvVerbosity)); err == nil {
		verbosity.Store(int32(v))
	}
}

// SetVerbosity sets the maximum level printed by Logf.
func SetVerbosity(v int) {
	verbosity.Store(int32(v))
}

// Verbosity returns the current level.
func Verbosity() int {
	return int(verbosity.Load())
}

// V reports whether messages at level v are printed.
func V(v int) bool {
	return int32(v) <= verbosity.Load()
}

// Logf prints msg when level v is enabled.
func Logf(v int, msg string, args ...interface{}) {
	if V(v) {
		golog.Printf(msg, args...)
	}
}

// Fatal prints err and exits.
func Fatal(err error) {
	golog.Fatal(err)
}

// Fatalf prints the formatted message and exits.
func Fatalf(msg string, args ...interface{}) {
	golog.Fatalf(msg, args...)
}
