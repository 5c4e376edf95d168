// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package forkserver

import (
	"os"
	"os/exec"
)

// ExecSpawner starts every child by executing Path (the current binary by
// default) with Args (os.Args[1:] by default), the parent's environment
// plus EnvChild, and the parent's standard descriptors.
type ExecSpawner struct {
	Path string
	Args []string
	Env  []string
}

func (sp *ExecSpawner) Spawn() (Child, error) {
	path := sp.Path
	if path == "" {
		var err error
		if path, err = os.Executable(); err != nil {
			return nil, err
		}
	}
	args := sp.Args
	if args == nil {
		args = os.Args[1:]
	}
	env := sp.Env
	if env == nil {
		env = os.Environ()
	}
	cmd := exec.Command(path, args...)
	cmd.Env = append(append([]string{}, env...), EnvChild+"=1")
	// AFL rewinds the input file behind stdin between runs, so the child
	// must share the descriptor rather than a copy of the data.
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execChild{cmd: cmd}, nil
}

type execChild struct {
	cmd *exec.Cmd
}

func (c *execChild) Pid() int {
	return c.cmd.Process.Pid
}

func (c *execChild) Wait() (uint32, error) {
	err := c.cmd.Wait()
	if c.cmd.ProcessState == nil {
		return 0, err
	}
	// A non-zero exit is reported through the status, not as an error.
	return waitStatus(c.cmd.ProcessState), nil
}
