// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package coverage

import "sync/atomic"

// active is the tracer instrumented code reports to.
// It starts out writing into a private scratch map so that instrumentation
// executed during process initialization has somewhere to write to.
// It is replaced when it is time for actual tracing to commence.
var active atomic.Pointer[Tracer]

func init() {
	active.Store(newScratchTracer())
}

func newScratchTracer() *Tracer {
	m, err := NewPrivateMap(DefaultMapSizeBits)
	if err != nil {
		panic(err)
	}
	t, err := NewTracer(m, 0)
	if err != nil {
		panic(err)
	}
	return t
}

// Install makes t the destination of Hit. It must happen before the
// goroutines running instrumented code that should be traced start.
func Install(t *Tracer) {
	active.Store(t)
}

// Active returns the installed tracer.
func Active() *Tracer {
	return active.Load()
}

// Hit is the callback inserted into instrumented code.
func Hit(line, offset uint32) {
	active.Load().Hit(line, offset)
}
