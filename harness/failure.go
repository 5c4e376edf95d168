// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package harness

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"runtime/debug"
	"strings"

	"github.com/maruel/panicparse/stack"

	"github.com/bradleyjkemp/gotraceafl/internal/log"
)

// FailureMode selects what happens to a panic that reaches Recover.
type FailureMode int

const (
	// FailureNone lets the panic continue untouched.
	FailureNone FailureMode = iota
	// FailureCheap exits with FailureExitCode without printing a traceback.
	FailureCheap
	// FailureCrash kills the process so that the fuzzer records a crash.
	// The Go runtime aborts with SIGABRT rather than faulting with SIGSEGV;
	// afl-fuzz treats any signal death as a crash.
	FailureCrash
	// FailureReport logs a one-line signature of the panic, then behaves like FailureCheap.
	FailureReport
)

const FailureExitCode = 99

func (m FailureMode) String() string {
	switch m {
	case FailureNone:
		return "none"
	case FailureCheap:
		return "cheap"
	case FailureCrash:
		return "crash"
	case FailureReport:
		return "report"
	}
	return fmt.Sprintf("FailureMode(%d)", int(m))
}

// Recover handles a panic according to h.Failure.
// It must be deferred directly: defer h.Recover().
func (h *Harness) Recover() {
	if h == nil || h.Failure == FailureNone {
		return
	}
	if r := recover(); r != nil {
		h.fail(r)
	}
}

// Run calls fn with the failure handler installed.
func (h *Harness) Run(fn func()) {
	defer h.Recover()
	fn()
}

func (h *Harness) fail(r interface{}) {
	switch h.Failure {
	case FailureCrash:
		// The crash traceback level makes the runtime abort instead of exit(2).
		debug.SetTraceback("crash")
		panic(r)
	case FailureReport:
		log.Logf(0, "panic: %v [%v]", r, signature(debug.Stack()))
	}
	h.exit(FailureExitCode)
}

// signature returns the function and source line that raised the panic
// recorded in dump, which is formatted like debug.Stack output.
func signature(dump []byte) string {
	dump = reCallArgs.ReplaceAll(dump, []byte("$1(...)"))
	ctx, err := stack.ParseDump(bytes.NewReader(dump), io.Discard, false)
	if err != nil || ctx == nil || len(ctx.Goroutines) == 0 {
		return "unknown"
	}
	calls := ctx.Goroutines[0].Stack.Calls
	// Frames below the innermost panic belong to the handler.
	start := 0
	for i, c := range calls {
		if c.Func.Raw == "panic" || c.Func.Raw == "runtime.gopanic" {
			start = i + 1
		}
	}
	for _, c := range calls[start:] {
		if isRuntimeFrame(c.Func.Raw) {
			continue
		}
		return c.Func.PkgDotName() + " " + c.FullSrcLine()
	}
	return "unknown"
}

// reCallArgs matches the argument list of a frame. Newer runtimes print
// arguments (e.g. {0x4a2f20?, 0x4f2e88?}) that the parser does not know.
var reCallArgs = regexp.MustCompile(`(?m)^([^\t\n].*)\([^()\n]*\)$`)

func isRuntimeFrame(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") || strings.HasPrefix(fn, "runtime/debug.")
}
