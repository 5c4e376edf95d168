// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package coverage

import (
	"fmt"
	"math/bits"
	"os"
	"strconv"
	"strings"

	"fortio.org/safecast"
)

// Config describes the geometry of the map and the hashing context.
type Config struct {
	MapSizeBits uint8
	NgramSize   int
}

// DefaultConfig is used when the environment does not say otherwise.
func DefaultConfig() Config {
	return Config{MapSizeBits: DefaultMapSizeBits}
}

// MapLen is the number of bytes in the map.
func (c Config) MapLen() int {
	return 1 << c.MapSizeBits
}

// Validate checks the map width and n-gram size.
func (c Config) Validate() error {
	if err := ValidateMapSizeBits(int(c.MapSizeBits)); err != nil {
		return err
	}
	return ValidateNgramSize(c.NgramSize)
}

// ValidateMapSizeBits rejects map widths outside [1, MaxMapSizeBits].
func ValidateMapSizeBits(n int) error {
	if n < 1 || n > MaxMapSizeBits {
		return &ConfigError{
			Setting: "map size bits",
			Value:   strconv.Itoa(n),
			Reason:  fmt.Sprintf("must be between 1 and %v", MaxMapSizeBits),
		}
	}
	return nil
}

// ValidateNgramSize accepts 0 and 1 (no context) and 2..MaxNgramSize.
func ValidateNgramSize(n int) error {
	if n < 0 || n > MaxNgramSize {
		return &ConfigError{
			Setting: "ngram size",
			Value:   strconv.Itoa(n),
			Reason:  fmt.Sprintf("must be 0 or between 2 and %v", MaxNgramSize),
		}
	}
	return nil
}

// MapSizeBitsFromBytes converts a map size in bytes into its log2.
func MapSizeBitsFromBytes(size uint64) (uint8, error) {
	if size == 0 || size&(size-1) != 0 {
		return 0, &ConfigError{
			Setting: "map size",
			Value:   strconv.FormatUint(size, 10),
			Reason:  "non-power-of-two size not supported",
		}
	}
	n := bits.TrailingZeros64(size)
	if err := ValidateMapSizeBits(n); err != nil {
		return 0, err
	}
	return safecast.Conv[uint8](n)
}

// ConfigFromEnv reads AFL_MAP_SIZE and AFL_NGRAM_SIZE through lookup
// (os.LookupEnv when nil). Unset variables keep their defaults.
func ConfigFromEnv(lookup func(string) (string, bool)) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := DefaultConfig()
	if v, ok := lookup(EnvMapSize); ok && strings.TrimSpace(v) != "" {
		size, err := strconv.ParseUint(strings.TrimSpace(v), 0, 64)
		if err != nil {
			return cfg, &ConfigError{Setting: "map size", Value: v, Reason: "not an integer"}
		}
		if cfg.MapSizeBits, err = MapSizeBitsFromBytes(size); err != nil {
			return cfg, err
		}
	}
	if v, ok := lookup(EnvNgramSize); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return cfg, &ConfigError{Setting: "ngram size", Value: v, Reason: "not an integer"}
		}
		cfg.NgramSize = n
	}
	return cfg, cfg.Validate()
}
