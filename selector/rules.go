// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package selector

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/bradleyjkemp/gotraceafl/coverage"
)

// Rules is a policy loaded from a rules file such as:
//
//	default = 50
//
//	[[rule]]
//	match = "example.com/parser/*"
//	ratio = 100
//
//	[[rule]]
//	match = "example.com/parser/*"
//	func = "debug*"
//	ratio = false
//
// Rules are tried in order and the first one matching the unit wins.
// match is a path.Match pattern over Unit.Origin, func over Unit.Name.
type Rules struct {
	Default Decision
	rules   []rule
}

type rule struct {
	match    string
	function string
	decision Decision
}

type rulesFile struct {
	Default interface{} `toml:"default" yaml:"default"`
	Rule    []struct {
		Match string      `toml:"match" yaml:"match"`
		Func  string      `toml:"func" yaml:"func"`
		Ratio interface{} `toml:"ratio" yaml:"ratio"`
	} `toml:"rule" yaml:"rule"`
}

// LoadRules reads a rules file. Files named *.yaml or *.yml hold the same
// keys in YAML, anything else is TOML.
func LoadRules(filename string) (*Rules, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, &coverage.ConfigError{Setting: "rules file", Value: filename, Reason: err.Error()}
		}
		return parseYAMLRules(data, filename)
	}
	var f rulesFile
	md, err := toml.DecodeFile(filename, &f)
	if err != nil {
		return nil, &coverage.ConfigError{Setting: "rules file", Value: filename, Reason: err.Error()}
	}
	return newRules(&f, undecoded(md), filename)
}

// ParseRules parses the contents of a rules file.
func ParseRules(data string) (*Rules, error) {
	var f rulesFile
	md, err := toml.Decode(data, &f)
	if err != nil {
		return nil, &coverage.ConfigError{Setting: "rules", Reason: err.Error()}
	}
	return newRules(&f, undecoded(md), "rules")
}

func parseYAMLRules(data []byte, name string) (*Rules, error) {
	var f rulesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, &coverage.ConfigError{Setting: name, Reason: err.Error()}
	}
	return newRules(&f, nil, name)
}

func undecoded(md toml.MetaData) []string {
	var keys []string
	for _, k := range md.Undecoded() {
		keys = append(keys, k.String())
	}
	return keys
}

func newRules(f *rulesFile, unknown []string, name string) (*Rules, error) {
	if len(unknown) != 0 {
		return nil, &coverage.ConfigError{
			Setting: name,
			Reason:  fmt.Sprintf("unknown keys %v", strings.Join(unknown, ", ")),
		}
	}
	r := &Rules{Default: Decision{Kind: Full}}
	if f.Default != nil {
		d, err := decisionOf(f.Default)
		if err != nil {
			return nil, err
		}
		r.Default = d
	}
	for i, fr := range f.Rule {
		if fr.Match == "" && fr.Func == "" {
			return nil, &coverage.ConfigError{
				Setting: fmt.Sprintf("%v rule #%v", name, i+1),
				Reason:  "needs match or func",
			}
		}
		for _, pattern := range []string{fr.Match, fr.Func} {
			if _, err := path.Match(pattern, ""); err != nil {
				return nil, &coverage.ConfigError{
					Setting: fmt.Sprintf("%v rule #%v", name, i+1),
					Value:   pattern,
					Reason:  err.Error(),
				}
			}
		}
		if fr.Ratio == nil {
			return nil, &coverage.ConfigError{
				Setting: fmt.Sprintf("%v rule #%v", name, i+1),
				Reason:  "missing ratio",
			}
		}
		d, err := decisionOf(fr.Ratio)
		if err != nil {
			return nil, err
		}
		r.rules = append(r.rules, rule{match: fr.Match, function: fr.Func, decision: d})
	}
	return r, nil
}

func (r *Rules) Decide(u Unit) (Decision, error) {
	for _, rl := range r.rules {
		if rl.matches(u) {
			return rl.decision, nil
		}
	}
	return r.Default, nil
}

func (rl *rule) matches(u Unit) bool {
	if rl.match != "" {
		if ok, _ := path.Match(rl.match, u.Origin); !ok {
			return false
		}
	}
	if rl.function != "" {
		if ok, _ := path.Match(rl.function, u.Name); !ok {
			return false
		}
	}
	return true
}
