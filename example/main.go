// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// example is a small target for trying out the tracer:
//
//	gotraceafl -o example.afl ./example
//	afl-fuzz -i seeds -o findings -- ./example.afl @@
//
// It decodes a sequence of type-length-value records and panics on one
// deliberately planted bug.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/bradleyjkemp/gotraceafl/harness"
)

func main() {
	h := harness.FuzzFromHere(harness.Options{Failure: harness.FailureCrash})
	defer h.Recover()

	data, err := harness.ReadInput()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	records, err := decode(data)
	if err != nil {
		os.Exit(0)
	}
	fmt.Printf("%v records\n", len(records))
}

type record struct {
	typ   byte
	value []byte
}

var errTruncated = errors.New("truncated record")

func decode(data []byte) ([]record, error) {
	var records []record
	for len(data) > 0 {
		if len(data) < 2 {
			return nil, errTruncated
		}
		typ, n := data[0], int(data[1])
		data = data[2:]
		if n > len(data) {
			return nil, errTruncated
		}
		rec := record{typ: typ, value: data[:n]}
		data = data[n:]
		switch typ {
		case 'S':
			if string(rec.value) == "FUZZ" {
				checksum(rec.value)
			}
		case 'N':
			if n != 4 {
				return nil, fmt.Errorf("number record of %v bytes", n)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func checksum(b []byte) byte {
	var sum byte
	// The bug: reads one byte past the record.
	for i := 0; i <= len(b); i++ {
		sum += b[i]
	}
	return sum
}
