// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package instrument

import (
	"bytes"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bradleyjkemp/gotraceafl/selector"
)

const testSource = `// Package p is a test.
package p

import "fmt"

// A does things.
func A(x int) int {
	if x > 0 {
		return 1
	} else if x < -5 {
		return 2
	} else {
		x++
	}
	for i := 0; i < x; i++ {
		fmt.Println(i)
	}
	switch x {
	case 1:
	default:
	}
	f := func() {
		for range []int{} {
		}
	}
	f()
	return 0
}

type T struct{}

//go:noinline
func (t *T) M() {}
`

var hitRe = regexp.MustCompile(ImportName + `\.Hit\((\d+), (\d+)\)`)

func instrumentSource(t *testing.T, policy selector.Policy) (Stats, string) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "p.go", testSource, parser.ParseComments)
	require.NoError(t, err)
	in := &Instrumenter{Policy: policy}
	stats, err := in.File(fset, f, "example.com/p/p.go", []byte(testSource))
	require.NoError(t, err)
	TrimComments(fset, f)
	buf := new(bytes.Buffer)
	require.NoError(t, Print(buf, fset, f))
	// The output must still be valid Go.
	_, err = parser.ParseFile(token.NewFileSet(), "out.go", buf.Bytes(), parser.ParseComments)
	require.NoError(t, err, "%s", buf.Bytes())
	return stats, buf.String()
}

func TestInstrumentAll(t *testing.T) {
	stats, out := instrumentSource(t, selector.Always(true))
	// A entry, if body, else-if body, else, for, 2 cases, literal entry,
	// range, M entry.
	assert.Equal(t, Stats{Units: 3, Candidates: 10, Points: 10}, stats)
	assert.Len(t, hitRe.FindAllString(out, -1), 10)
	assert.Contains(t, out, ImportName+` "`+ImportPath+`"`)
	assert.Contains(t, out, "//go:noinline")
	assert.NotContains(t, out, "A does things")
}

func TestInstrumentNone(t *testing.T) {
	stats, out := instrumentSource(t, selector.Always(false))
	assert.Equal(t, Stats{Units: 3, Candidates: 10, Points: 0}, stats)
	assert.NotContains(t, out, ImportName)
}

func TestInstrumentEntryLocation(t *testing.T) {
	_, out := instrumentSource(t, selector.Always(true))
	m := hitRe.FindStringSubmatch(out)
	require.NotNil(t, m)
	// The first point is A's opening brace.
	offset := strings.Index(testSource, "func A(x int) int {") + len("func A(x int) int ")
	line := strings.Count(testSource[:offset], "\n") + 1
	assert.Equal(t, []string{m[0], strconv.Itoa(line), strconv.Itoa(offset)}, m)
}

func TestInstrumentSampleReproducible(t *testing.T) {
	policy, err := selector.Ratio(50)
	require.NoError(t, err)
	stats0, out0 := instrumentSource(t, policy)
	stats1, out1 := instrumentSource(t, policy)
	assert.Equal(t, stats0, stats1)
	assert.Equal(t, out0, out1)
	assert.Equal(t, 10, stats0.Candidates)
	assert.Len(t, hitRe.FindAllString(out0, -1), stats0.Points)
}

func TestInstrumentPerUnitPolicy(t *testing.T) {
	var units []string
	policy := selector.PolicyFunc(func(u selector.Unit) (selector.Decision, error) {
		units = append(units, u.Name)
		assert.Equal(t, "example.com/p/p.go", u.Origin)
		if u.Name == "A.func1" {
			return selector.Decision{Kind: selector.Full}, nil
		}
		return selector.Decision{Kind: selector.None}, nil
	})
	stats, _ := instrumentSource(t, policy)
	assert.Equal(t, []string{"A", "A.func1", "(*T).M"}, units)
	assert.Equal(t, 2, stats.Points)
}

func TestInstrumentPolicyError(t *testing.T) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "p.go", testSource, 0)
	require.NoError(t, err)
	bad := selector.PolicyFunc(func(u selector.Unit) (selector.Decision, error) {
		return selector.Decision{Kind: selector.Sample, Percent: 300}, nil
	})
	_, err = (&Instrumenter{Policy: bad}).File(fset, f, "p.go", nil)
	assert.Error(t, err)
}

func TestFuncName(t *testing.T) {
	src := `package p
func F() {}
func (T) V() {}
func (*T) P() {}
func (g *G[K]) Q() {}
func (g G[K, V]) R() {}
`
	f, err := parser.ParseFile(token.NewFileSet(), "p.go", src, 0)
	require.NoError(t, err)
	var names []string
	for _, decl := range f.Decls {
		names = append(names, funcName(decl.(*ast.FuncDecl)))
	}
	assert.Equal(t, []string{"F", "T.V", "(*T).P", "(*G).Q", "G.R"}, names)
}

func TestTrimCommentsKeepsCgoPreamble(t *testing.T) {
	src := `//go:build linux

package p

// #include <stdio.h>
import "C"

// dropped
func F() {}
`
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "p.go", src, parser.ParseComments)
	require.NoError(t, err)
	TrimComments(fset, f)
	buf := new(bytes.Buffer)
	require.NoError(t, Print(buf, fset, f))
	out := buf.String()
	assert.Contains(t, out, "//go:build linux")
	assert.Contains(t, out, "#include <stdio.h>")
	assert.NotContains(t, out, "dropped")
}

func TestTrimCommentsWithoutDirectives(t *testing.T) {
	src := `// Package p is documented.
package p

// T is documented.
type T struct {
	X int // trailing
}

// F is documented.
func F(x int) int {
	// inside
	if x > 0 {
		return 1
	}
	return 0
}
`
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "p.go", src, parser.ParseComments)
	require.NoError(t, err)
	_, err = (&Instrumenter{Policy: selector.Always(true)}).File(fset, f, "p.go", []byte(src))
	require.NoError(t, err)
	TrimComments(fset, f)
	require.Empty(t, f.Comments)
	buf := new(bytes.Buffer)
	require.NoError(t, Print(buf, fset, f))
	out := buf.String()
	for _, text := range []string{"is documented", "trailing", "inside"} {
		assert.NotContains(t, out, text)
	}
	assert.Len(t, hitRe.FindAllString(out, -1), 3)
}

func TestInstrumentPackageLevelLiteral(t *testing.T) {
	src := `package p

var handler = func(x int) {
	if x > 0 {
		return
	}
}
`
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "p.go", src, 0)
	require.NoError(t, err)
	var units []string
	policy := selector.PolicyFunc(func(u selector.Unit) (selector.Decision, error) {
		units = append(units, u.Name)
		return selector.Decision{Kind: selector.Full}, nil
	})
	stats, err := (&Instrumenter{Policy: policy}).File(fset, f, "p.go", []byte(src))
	require.NoError(t, err)
	assert.Equal(t, []string{"glob.func1"}, units)
	assert.Equal(t, Stats{Units: 1, Candidates: 3, Points: 3}, stats)
}
