// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package harness

import (
	"io"
	"os"
	"strings"
)

// ReadInput returns the test case: the contents of the first non-flag
// argument when AFL was given @@, stdin otherwise.
func ReadInput() ([]byte, error) {
	return readInput(os.Args[1:], os.Stdin)
}

func readInput(args []string, stdin io.Reader) ([]byte, error) {
	for i, arg := range args {
		if arg == "--" {
			if i+1 < len(args) {
				return os.ReadFile(args[i+1])
			}
			break
		}
		if arg == "-" {
			break
		}
		if strings.HasPrefix(arg, "-") {
			continue
		}
		return os.ReadFile(arg)
	}
	return io.ReadAll(stdin)
}
