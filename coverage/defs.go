// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package coverage owns the AFL-compatible coverage map and the edge hashing
// performed every time an instrumented location executes.
package coverage

// These values must agree with the controlling fuzzer's configuration.
const (
	DefaultMapSizeBits = 16
	MaxMapSizeBits     = 31

	// MaxNgramSize bounds the n-gram context. Sizes 0 and 1 disable it.
	MaxNgramSize = 16

	// EnvShmID holds the SysV shared memory id of the map.
	EnvShmID = "__AFL_SHM_ID"
	// EnvMapSize holds the map size in bytes. It must be a power of two.
	EnvMapSize = "AFL_MAP_SIZE"
	// EnvNgramSize holds the n-gram size, 0 to disable.
	EnvNgramSize = "AFL_NGRAM_SIZE"

	// hashPrime seeds the multiplicative location hash.
	hashPrime = 0xedb6417b
)
