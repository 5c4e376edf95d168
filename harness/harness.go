// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package harness is the entry point of an instrumented target.
//
// A typical target calls FuzzFromHere at the top of main, before any
// work that depends on the input:
//
//	func main() {
//		h := harness.FuzzFromHere(harness.Options{Failure: harness.FailureCrash})
//		defer h.Recover()
//		data, err := harness.ReadInput()
//		...
//	}
package harness

import (
	"fmt"
	"os"

	"github.com/bradleyjkemp/gotraceafl/coverage"
	"github.com/bradleyjkemp/gotraceafl/forkserver"
	"github.com/bradleyjkemp/gotraceafl/internal/log"
)

type Options struct {
	// ShmEnvVar names the variable holding the shm id (coverage.EnvShmID by default).
	ShmEnvVar string
	// Config overrides the map geometry read from the environment.
	Config  *coverage.Config
	Failure FailureMode
	// ForkServer replaces the default server on descriptors 198/199.
	ForkServer *forkserver.Server
}

// Harness holds the tracing state of the process.
type Harness struct {
	Map     *coverage.Map
	Tracer  *coverage.Tracer
	State   forkserver.State
	Failure FailureMode

	exit func(int)
}

// FuzzFromHere attaches the coverage map, runs the forkserver and starts
// tracing. Setup errors are fatal.
// In the forkserver parent it never returns.
func FuzzFromHere(opts Options) *Harness {
	h, err := Setup(opts)
	if err != nil {
		log.Fatal(err)
	}
	return h
}

// Setup is FuzzFromHere returning errors instead of exiting.
func Setup(opts Options) (*Harness, error) {
	cfg := coverage.DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	} else {
		var err error
		if cfg, err = coverage.ConfigFromEnv(os.LookupEnv); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id, err := coverage.ShmIDFromEnv(opts.ShmEnvVar)
	if err != nil {
		return nil, err
	}
	// The parent announces itself once; children share its segment.
	attach := coverage.Attach
	if forkserver.IsChild() {
		attach = coverage.Reattach
	}
	m, err := attach(id, cfg.MapSizeBits)
	if err != nil {
		return nil, err
	}
	tracer, err := coverage.NewTracer(m, cfg.NgramSize)
	if err != nil {
		m.Close()
		return nil, err
	}

	srv := opts.ForkServer
	if srv == nil {
		srv = forkserver.New()
	}
	state, err := srv.Start()
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("forkserver failed: %w", err)
	}
	log.Logf(1, "tracing into %v byte map (ngram %v), forkserver %v",
		m.Len(), cfg.NgramSize, state)

	coverage.Install(tracer)
	return &Harness{
		Map:     m,
		Tracer:  tracer,
		State:   state,
		Failure: opts.Failure,
		exit:    os.Exit,
	}, nil
}
