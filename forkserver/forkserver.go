// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package forkserver implements the AFL forkserver protocol: a long-lived
// parent waits for wake-up messages from the fuzzer and starts one fresh
// child per message, reporting its pid and then its wait status.
//
// The Go runtime cannot fork safely, so children are started by re-executing
// the current binary (see ExecSpawner). The wire protocol is unchanged.
package forkserver

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"fortio.org/safecast"

	"github.com/bradleyjkemp/gotraceafl/internal/log"
)

const (
	// FD is the read end of the control channel; FD+1 is the write end.
	FD = 198

	// EnvChild marks a process started by the forkserver.
	EnvChild = "__GOTRACEAFL_FORKSRV_CHILD"

	msgSize = 4
)

// ErrProtocolViolation is wrapped by malformed reads of the control channel.
var ErrProtocolViolation = errors.New("forkserver protocol violation")

// State is the role of this process in the forkserver protocol.
type State int

const (
	NotStarted    State = iota
	ParentLooping       // serving the controller
	ChildActive         // a re-executed child running one input
	Declined            // no controller, running standalone
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case ParentLooping:
		return "parent looping"
	case ChildActive:
		return "child active"
	case Declined:
		return "declined"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Child is one run of the target started by a Spawner.
type Child interface {
	Pid() int
	// Wait blocks until the child exits and returns its raw wait status.
	Wait() (uint32, error)
}

// Spawner starts children.
type Spawner interface {
	Spawn() (Child, error)
}

// Server is the parent side of the protocol.
type Server struct {
	ReadFD  int
	WriteFD int
	Spawner Spawner
	// Exit terminates the parent when the controller goes away.
	Exit func(code int)

	state State
}

// New returns a server on the standard descriptors that re-executes the
// current binary for every run.
func New() *Server {
	return &Server{
		ReadFD:  FD,
		WriteFD: FD + 1,
		Spawner: &ExecSpawner{},
		Exit:    os.Exit,
	}
}

func (s *Server) State() State {
	return s.state
}

// IsChild reports whether this process was started by a forkserver.
func IsChild() bool {
	return os.Getenv(EnvChild) == "1"
}

// Start runs the forkserver.
// A child started by a forkserver gets ChildActive immediately.
// Without control descriptors Start returns Declined and the caller runs
// standalone. Otherwise Start serves until the controller disconnects and
// then calls Exit, so it only returns to the caller in a child.
func (s *Server) Start() (State, error) {
	if s.state != NotStarted {
		return s.state, nil
	}
	if IsChild() {
		// Do not leak the marker into processes the target starts.
		os.Unsetenv(EnvChild)
		s.state = ChildActive
		return s.state, nil
	}
	r, w, err := openControl(s.ReadFD, s.WriteFD)
	if err != nil {
		log.Logf(1, "forkserver declined: %v", err)
		s.state = Declined
		return s.state, nil
	}
	s.state = ParentLooping
	err = s.Serve(r, w)
	r.Close()
	w.Close()
	exit := s.Exit
	if exit == nil {
		exit = os.Exit
	}
	if err != nil {
		log.Logf(0, "forkserver: %v", err)
		exit(1)
		return s.state, err
	}
	log.Logf(1, "forkserver: controller disconnected")
	exit(0)
	return s.state, nil
}

// Serve announces the server on w and then handles wake-up messages from r
// one at a time. It returns nil once r reaches end of stream.
func (s *Server) Serve(r io.Reader, w io.Writer) error {
	sp := s.Spawner
	if sp == nil {
		sp = &ExecSpawner{}
	}
	if err := writeMsg(w, 0); err != nil {
		return fmt.Errorf("failed to announce forkserver: %w", err)
	}
	for runs := 0; ; runs++ {
		if _, err := readMsg(r); err != nil {
			if err == io.EOF {
				log.Logf(2, "forkserver: served %v runs", runs)
				return nil
			}
			return err
		}
		child, err := sp.Spawn()
		if err != nil {
			return fmt.Errorf("failed to spawn child: %w", err)
		}
		pid, err := safecast.Conv[uint32](child.Pid())
		if err != nil {
			return fmt.Errorf("bad child pid %v: %w", child.Pid(), err)
		}
		if err := writeMsg(w, pid); err != nil {
			return fmt.Errorf("failed to report child pid: %w", err)
		}
		status, err := child.Wait()
		if err != nil {
			return fmt.Errorf("failed to wait for child %v: %w", pid, err)
		}
		log.Logf(3, "forkserver: child %v exited with status %#x", pid, status)
		if err := writeMsg(w, status); err != nil {
			return fmt.Errorf("failed to report child status: %w", err)
		}
	}
}

// readMsg reads one little-endian message. A clean end of stream before
// the first byte is io.EOF, anything else short is a protocol violation.
func readMsg(r io.Reader) (uint32, error) {
	var buf [msgSize]byte
	n, err := io.ReadFull(r, buf[:])
	switch {
	case err == io.EOF:
		return 0, io.EOF
	case err == io.ErrUnexpectedEOF:
		return 0, fmt.Errorf("%w: short message of %v bytes", ErrProtocolViolation, n)
	case err != nil:
		return 0, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeMsg(w io.Writer, v uint32) error {
	var buf [msgSize]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}
