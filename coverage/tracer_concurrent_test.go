// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build !race

package coverage

import (
	"fmt"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// The workers share one Tracer without synchronization, as instrumented
// goroutines do, so the race detector would report it.
func TestRecordConcurrent(t *testing.T) {
	for _, ngram := range []int{0, 2, 3, MaxNgramSize} {
		t.Run(fmt.Sprint(ngram), func(t *testing.T) {
			m, tr := newTestTracer(t, 16, ngram)
			workers := 2 * runtime.GOMAXPROCS(0)
			if workers < 8 {
				workers = 8
			}
			errs := make(chan interface{}, workers)
			var wg sync.WaitGroup
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func(seed uint32) {
					defer wg.Done()
					defer func() {
						if r := recover(); r != nil {
							errs <- r
						}
					}()
					loc := seed
					for i := 0; i < 200000; i++ {
						loc = loc*1664525 + 1013904223
						tr.Record(loc)
					}
				}(uint32(w))
			}
			wg.Wait()
			close(errs)
			for r := range errs {
				t.Errorf("Record panicked: %v", r)
			}
			assert.NotEmpty(t, nonZero(m.Bytes()))
			if ngram > 1 {
				assert.GreaterOrEqual(t, tr.head, 0)
				assert.Less(t, tr.head, ngram-1)
			}
		})
	}
}
