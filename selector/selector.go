// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package selector decides which control-flow locations of a code unit get
// instrumented: all of them, none, or a reproducible pseudo-random share.
package selector

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/bradleyjkemp/gotraceafl/coverage"
)

// EnvRatio holds the default policy: a boolean or a percentage.
const EnvRatio = "AFL_INST_RATIO"

// drawBits is the resolution of a sampling draw.
const drawBits = 7

// Kind says how a unit is instrumented.
type Kind uint8

const (
	None   Kind = iota // nothing traced
	Full               // every candidate traced
	Sample             // candidates drawn at a percentage
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Full:
		return "full"
	case Sample:
		return "sample"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Decision says how densely one unit is instrumented.
// Percent is only meaningful for Sample and lies in (0, 100).
type Decision struct {
	Kind    Kind
	Percent float64
}

func (d Decision) String() string {
	if d.Kind == Sample {
		return fmt.Sprintf("sample %v%%", d.Percent)
	}
	return d.Kind.String()
}

// Unit identifies a piece of code selected as a whole, e.g. one function.
type Unit struct {
	// Origin distinguishes units with identical names and content,
	// e.g. "pkg/path/file.go".
	Origin  string
	Name    string
	Content []byte
}

// Seed derives the sampling seed from the unit identity.
func (u Unit) Seed() int64 {
	h := sha1.New()
	h.Write([]byte(u.Origin))
	h.Write([]byte{0})
	h.Write([]byte(u.Name))
	h.Write([]byte{0})
	h.Write(u.Content)
	return int64(binary.LittleEndian.Uint64(h.Sum(nil)))
}

// Policy maps a unit to a Decision.
type Policy interface {
	Decide(u Unit) (Decision, error)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(u Unit) (Decision, error)

func (f PolicyFunc) Decide(u Unit) (Decision, error) {
	return f(u)
}

type constPolicy Decision

func (p constPolicy) Decide(Unit) (Decision, error) {
	return Decision(p), nil
}

// Always returns a policy instrumenting everything (true) or nothing (false).
func Always(instrument bool) Policy {
	if instrument {
		return constPolicy{Kind: Full}
	}
	return constPolicy{Kind: None}
}

// Ratio returns a policy instrumenting percent% of each unit's locations.
func Ratio(percent float64) (Policy, error) {
	d, err := Percent(percent)
	if err != nil {
		return nil, err
	}
	return constPolicy(d), nil
}

// Percent converts a percentage in [0, 100] into a Decision.
func Percent(percent float64) (Decision, error) {
	switch {
	case math.IsNaN(percent) || percent < 0 || percent > 100:
		return Decision{}, &coverage.ConfigError{
			Setting: "instrumentation ratio",
			Value:   strconv.FormatFloat(percent, 'g', -1, 64),
			Reason:  "percentage must be between 0 and 100",
		}
	case percent == 0:
		return Decision{Kind: None}, nil
	case percent == 100:
		return Decision{Kind: Full}, nil
	}
	return Decision{Kind: Sample, Percent: percent}, nil
}

// FromValue builds a policy from a bool, a number, a Policy, or a function
// taking a Unit and returning a bool, a number or a Decision.
func FromValue(v interface{}) (Policy, error) {
	switch v := v.(type) {
	case Policy:
		return v, nil
	case func(Unit) (Decision, error):
		return PolicyFunc(v), nil
	case func(Unit) Decision:
		return PolicyFunc(func(u Unit) (Decision, error) { return v(u), nil }), nil
	case func(Unit) bool:
		return PolicyFunc(func(u Unit) (Decision, error) {
			return decisionOf(v(u))
		}), nil
	case func(Unit) float64:
		return PolicyFunc(func(u Unit) (Decision, error) {
			return Percent(v(u))
		}), nil
	case func(Unit) int:
		return PolicyFunc(func(u Unit) (Decision, error) {
			return Percent(float64(v(u)))
		}), nil
	case func(Unit) interface{}:
		return PolicyFunc(func(u Unit) (Decision, error) {
			return decisionOf(v(u))
		}), nil
	}
	d, err := decisionOf(v)
	if err != nil {
		return nil, err
	}
	return constPolicy(d), nil
}

func decisionOf(v interface{}) (Decision, error) {
	switch v := v.(type) {
	case Decision:
		if v.Kind == Sample {
			return Percent(v.Percent)
		}
		if v.Kind != None && v.Kind != Full {
			break
		}
		return v, nil
	case bool:
		if v {
			return Decision{Kind: Full}, nil
		}
		return Decision{Kind: None}, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Percent(float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Percent(float64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		return Percent(rv.Float())
	}
	return Decision{}, &coverage.ConfigError{
		Setting: "instrumentation selector",
		Value:   fmt.Sprintf("%v", v),
		Reason:  fmt.Sprintf("unsupported selector value of type %T", v),
	}
}

// Parse accepts a boolean ("true", "0", "off", ...) or a percentage.
func Parse(s string) (Policy, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "on", "yes":
		return Always(true), nil
	case "off", "no":
		return Always(false), nil
	}
	if s != "0" && s != "1" {
		if b, err := strconv.ParseBool(s); err == nil {
			return Always(b), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, &coverage.ConfigError{
			Setting: "instrumentation ratio",
			Value:   s,
			Reason:  "expected a boolean or a percentage",
		}
	}
	return Ratio(f)
}

// FromEnv parses AFL_INST_RATIO, instrumenting everything when it is unset.
func FromEnv() (Policy, error) {
	v, ok := os.LookupEnv(EnvRatio)
	if !ok || strings.TrimSpace(v) == "" {
		return Always(true), nil
	}
	return Parse(v)
}

// Selection answers, point by point, whether a location of one unit is
// instrumented.
type Selection struct {
	Decision Decision
	rnd      *rand.Rand
	limit    float64
}

// Select applies p to u.
// For a sampled unit the generator is seeded from u alone, so selecting the
// same unit again yields the same points.
func Select(p Policy, u Unit) (*Selection, error) {
	d, err := p.Decide(u)
	if err != nil {
		return nil, err
	}
	if d, err = decisionOf(d); err != nil {
		return nil, err
	}
	s := &Selection{Decision: d}
	if d.Kind == Sample {
		s.rnd = rand.New(rand.NewSource(u.Seed()))
		s.limit = d.Percent * (1 << drawBits) / 100
	}
	return s, nil
}

// Include reports whether the next candidate point is instrumented.
// It must be called once per candidate, in a stable order.
func (s *Selection) Include() bool {
	switch s.Decision.Kind {
	case Full:
		return true
	case Sample:
		draw := s.rnd.Uint32() >> (32 - drawBits)
		return float64(draw) < s.limit
	}
	return false
}

// Points returns the ordinals of the included points among n candidates.
func Points(p Policy, u Unit, n int) ([]int, error) {
	s, err := Select(p, u)
	if err != nil {
		return nil, err
	}
	var res []int
	for i := 0; i < n; i++ {
		if s.Include() {
			res = append(res, i)
		}
	}
	return res, nil
}
