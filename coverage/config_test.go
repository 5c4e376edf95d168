// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package coverage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestConfigFromEnv(t *testing.T) {
	cfg, err := ConfigFromEnv(envLookup(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, 1<<16, cfg.MapLen())

	cfg, err = ConfigFromEnv(envLookup(map[string]string{
		EnvMapSize:   "262144",
		EnvNgramSize: "4",
	}))
	require.NoError(t, err)
	assert.Equal(t, Config{MapSizeBits: 18, NgramSize: 4}, cfg)
}

func TestConfigFromEnvErrors(t *testing.T) {
	tests := []struct {
		env    map[string]string
		reason string
	}{
		{map[string]string{EnvMapSize: "3000"}, "non-power-of-two size not supported"},
		{map[string]string{EnvMapSize: "0"}, "non-power-of-two size not supported"},
		{map[string]string{EnvMapSize: "1"}, "must be between 1 and 31"},
		{map[string]string{EnvMapSize: "4294967296"}, "must be between 1 and 31"},
		{map[string]string{EnvMapSize: "big"}, "not an integer"},
		{map[string]string{EnvNgramSize: "17"}, "must be 0 or between 2 and 16"},
		{map[string]string{EnvNgramSize: "-2"}, "must be 0 or between 2 and 16"},
		{map[string]string{EnvNgramSize: "two"}, "not an integer"},
	}
	for _, test := range tests {
		_, err := ConfigFromEnv(envLookup(test.env))
		var ce *ConfigError
		if assert.True(t, errors.As(err, &ce), "env %v: %v", test.env, err) {
			assert.Equal(t, test.reason, ce.Reason)
		}
	}
}

func TestMapSizeBitsFromBytes(t *testing.T) {
	for bits := 1; bits <= MaxMapSizeBits; bits++ {
		n, err := MapSizeBitsFromBytes(1 << bits)
		require.NoError(t, err)
		assert.Equal(t, uint8(bits), n)
	}
}

func TestNewMap(t *testing.T) {
	_, err := NewMap(make([]byte, 100), 8)
	assert.ErrorIs(t, err, ErrResourceUnavailable)

	m, err := NewMap(make([]byte, 300), 8)
	require.NoError(t, err)
	assert.Equal(t, 256, m.Len())
	assert.Equal(t, uint8(8), m.SizeBits())
	assert.Equal(t, byte(0), m.Bytes()[0], "NewMap must not write the sentinel")
	assert.NoError(t, m.Close())

	_, err = NewPrivateMap(0)
	assert.True(t, IsConfigError(err))
	_, err = NewPrivateMap(32)
	assert.True(t, IsConfigError(err))
}

func TestAttachFromEnvMissing(t *testing.T) {
	t.Setenv("GOTRACEAFL_TEST_SHM", "")
	_, err := AttachFromEnv("GOTRACEAFL_TEST_SHM", 16)
	assert.ErrorIs(t, err, ErrResourceUnavailable)

	t.Setenv("GOTRACEAFL_TEST_SHM", "not-a-number")
	_, err = AttachFromEnv("GOTRACEAFL_TEST_SHM", 16)
	assert.ErrorIs(t, err, ErrResourceUnavailable)
}
