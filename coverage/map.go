// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package coverage

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Map is the coverage bitmap shared with the controlling fuzzer.
// Byte 0 doubles as the "tracer is alive" sentinel.
type Map struct {
	mem    []byte
	bits   uint8
	detach func([]byte) error
}

// NewMap wraps mem, which must hold at least 2^sizeBits bytes.
// The memory is used as is: no sentinel is written.
func NewMap(mem []byte, sizeBits uint8) (*Map, error) {
	if err := ValidateMapSizeBits(int(sizeBits)); err != nil {
		return nil, err
	}
	if len(mem) < 1<<sizeBits {
		return nil, fmt.Errorf("%w: region has %v bytes, need %v",
			ErrResourceUnavailable, len(mem), 1<<sizeBits)
	}
	return &Map{mem: mem[: 1<<sizeBits : 1<<sizeBits], bits: sizeBits}, nil
}

// NewPrivateMap allocates a process-local map.
// Writes to it are only visible inside the current process.
func NewPrivateMap(sizeBits uint8) (*Map, error) {
	if err := ValidateMapSizeBits(int(sizeBits)); err != nil {
		return nil, err
	}
	return NewMap(make([]byte, 1<<sizeBits), sizeBits)
}

// AttachFromEnv attaches the segment whose id is stored in envVar
// (EnvShmID when empty) and writes the liveness sentinel.
func AttachFromEnv(envVar string, sizeBits uint8) (*Map, error) {
	id, err := ShmIDFromEnv(envVar)
	if err != nil {
		return nil, err
	}
	return Attach(id, sizeBits)
}

// ShmIDFromEnv parses the segment id stored in envVar (EnvShmID when empty).
func ShmIDFromEnv(envVar string) (int, error) {
	if envVar == "" {
		envVar = EnvShmID
	}
	v, ok := os.LookupEnv(envVar)
	if !ok || strings.TrimSpace(v) == "" {
		return 0, fmt.Errorf("%w: %v is not set", ErrResourceUnavailable, envVar)
	}
	id, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: bad shm id %v=%q", ErrResourceUnavailable, envVar, v)
	}
	return id, nil
}

// Attach maps the existing SysV segment id and marks the tracer alive by
// setting byte 0 to 1.
func Attach(id int, sizeBits uint8) (*Map, error) {
	m, err := Reattach(id, sizeBits)
	if err != nil {
		return nil, err
	}
	m.mem[0] = 1
	return m, nil
}

// Reattach maps a segment that a parent process has already attached and
// announced. The sentinel is left alone.
func Reattach(id int, sizeBits uint8) (*Map, error) {
	if err := ValidateMapSizeBits(int(sizeBits)); err != nil {
		return nil, err
	}
	mem, detach, err := attachSegment(id)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to attach shm segment %v: %v", ErrResourceUnavailable, id, err)
	}
	m, err := NewMap(mem, sizeBits)
	if err != nil {
		detach(mem)
		return nil, err
	}
	m.detach = detach
	return m, nil
}

// SizeBits is the log2 of the map length.
func (m *Map) SizeBits() uint8 {
	return m.bits
}

// Len is the number of counters, 1<<SizeBits.
func (m *Map) Len() int {
	return len(m.mem)
}

// Bytes returns the live map memory. It is not a copy.
func (m *Map) Bytes() []byte {
	return m.mem
}

// Clear zeroes the map. The controller normally does this between runs.
func (m *Map) Clear() {
	for i := range m.mem {
		m.mem[i] = 0
	}
}

// Close detaches a shared segment. It is a no-op for private maps.
func (m *Map) Close() error {
	if m.detach == nil || m.mem == nil {
		return nil
	}
	err := m.detach(m.mem)
	m.mem = nil
	return err
}
