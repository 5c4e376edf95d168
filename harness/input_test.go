// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadInput(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "cur_input")
	require.NoError(t, os.WriteFile(file, []byte("from file"), 0o600))
	dash := filepath.Join(dir, "-odd")
	require.NoError(t, os.WriteFile(dash, []byte("after dashes"), 0o600))

	tests := []struct {
		args []string
		want string
	}{
		{nil, "from stdin"},
		{[]string{file}, "from file"},
		{[]string{"-v", "-x=1", file}, "from file"},
		{[]string{"-v"}, "from stdin"},
		{[]string{"-"}, "from stdin"},
		{[]string{"--", dash}, "after dashes"},
		{[]string{"--"}, "from stdin"},
	}
	for _, test := range tests {
		got, err := readInput(test.args, strings.NewReader("from stdin"))
		require.NoError(t, err, "%q", test.args)
		assert.Equal(t, test.want, string(got), "%q", test.args)
	}
}

func TestReadInputMissingFile(t *testing.T) {
	_, err := readInput([]string{filepath.Join(t.TempDir(), "nope")}, strings.NewReader(""))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
