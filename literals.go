// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"go/ast"
	"go/token"
	"io"
	"os"
	"sort"
	"strconv"

	"golang.org/x/tools/go/packages"
)

// maxDictEntry is the longest token afl-fuzz accepts in a dictionary.
const maxDictEntry = 128

// gatherLiterals collects the string, character and integer literals of
// every package that is instrumented. Integers are stored in their
// smallest little-endian encoding.
func gatherLiterals(targets []*packages.Package, isIgnored func(string) bool) ([]string, error) {
	lits := make(map[string]struct{})
	var err error
	visit := func(pkg *packages.Package) {
		if err != nil || isIgnored(pkg.PkgPath) {
			return
		}
		for _, f := range pkg.Syntax {
			lc := &LiteralCollector{lits: lits}
			ast.Walk(lc, f)
			if lc.err != nil {
				err = fmt.Errorf("%v: %w", pkg.PkgPath, lc.err)
				return
			}
		}
	}
	packages.Visit(targets, nil, visit)
	if err != nil {
		return nil, err
	}

	litsList := make([]string, 0, len(lits))
	for lit := range lits {
		litsList = append(litsList, lit)
	}
	sort.Strings(litsList)
	return litsList, nil
}

type LiteralCollector struct {
	lits map[string]struct{}
	err  error
}

func (lc *LiteralCollector) Visit(n ast.Node) (w ast.Visitor) {
	if lc.err != nil {
		return nil
	}
	switch nn := n.(type) {
	default:
		return lc // recurse
	case *ast.ImportSpec:
		return nil
	case *ast.Field:
		return nil // ignore field tags
	case *ast.CallExpr:
		switch fn := nn.Fun.(type) {
		case *ast.Ident:
			if fn.Name == "panic" {
				return nil
			}
		case *ast.SelectorExpr:
			if id, ok := fn.X.(*ast.Ident); ok && (id.Name == "fmt" || id.Name == "errors" || id.Name == "log") {
				return nil
			}
		}
		return lc
	case *ast.BasicLit:
		lc.add(nn)
		return nil
	}
}

func (lc *LiteralCollector) add(lit *ast.BasicLit) {
	switch lit.Kind {
	case token.CHAR:
		r, _, _, err := strconv.UnquoteChar(lit.Value[1:len(lit.Value)-1], '\'')
		if err != nil {
			lc.err = fmt.Errorf("failed to parse char literal '%v': %w", lit.Value, err)
			return
		}
		lc.insert(string(r))
	case token.STRING:
		s, err := strconv.Unquote(lit.Value)
		if err != nil {
			lc.err = fmt.Errorf("failed to parse string literal '%v': %w", lit.Value, err)
			return
		}
		lc.insert(s)
	case token.INT:
		v, err := strconv.ParseInt(lit.Value, 0, 64)
		if err != nil {
			u, err := strconv.ParseUint(lit.Value, 0, 64)
			if err != nil {
				lc.err = fmt.Errorf("failed to parse int literal '%v': %w", lit.Value, err)
				return
			}
			v = int64(u)
		}
		var val []byte
		if v >= -(1<<7) && v < 1<<8 {
			val = append(val, byte(v))
		} else if v >= -(1<<15) && v < 1<<16 {
			val = append(val, byte(v), byte(v>>8))
		} else if v >= -(1<<31) && v < 1<<32 {
			val = append(val, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
		} else {
			val = append(val, byte(v), byte(v>>8), byte(v>>16), byte(v>>24), byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
		}
		lc.insert(string(val))
	}
}

func (lc *LiteralCollector) insert(s string) {
	if s == "" || len(s) > maxDictEntry {
		return
	}
	lc.lits[s] = struct{}{}
}

func writeDictFile(name string, lits []string) error {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create dictionary: %w", err)
	}
	if err := writeDict(f, lits); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeDict writes lits in the afl-fuzz dictionary format.
func writeDict(w io.Writer, lits []string) error {
	bw := bufio.NewWriter(w)
	for i, lit := range lits {
		fmt.Fprintf(bw, "lit_%d=\"%s\"\n", i, dictEscape(lit))
	}
	return bw.Flush()
}

// dictEscape quotes s the way afl-fuzz parses dictionary values: printable
// ASCII is kept, backslash and double quote are escaped, and every other
// byte is written as \xNN.
func dictEscape(s string) string {
	buf := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case b == '\\' || b == '"':
			buf = append(buf, '\\', b)
		case b >= 0x20 && b < 0x7f:
			buf = append(buf, b)
		default:
			buf = append(buf, fmt.Sprintf("\\x%02x", b)...)
		}
	}
	return string(buf)
}
