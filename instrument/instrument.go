// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package instrument rewrites Go syntax trees so that chosen control-flow
// locations report to coverage.Hit when they execute.
package instrument

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/printer"
	"go/token"
	"io"
	"strconv"
	"strings"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/bradleyjkemp/gotraceafl/selector"
)

const (
	// ImportPath is the package providing the Hit callback.
	ImportPath = "github.com/bradleyjkemp/gotraceafl/coverage"
	// ImportName is the name the callback package is imported under.
	ImportName = "_go_trace_afl_"
)

// Instrumenter inserts tracing callbacks into files.
// It holds no per-file state and may be used from several goroutines.
type Instrumenter struct {
	Policy selector.Policy
}

// Stats counts what happened to one file.
type Stats struct {
	Units      int // functions and function literals seen
	Candidates int // locations eligible for tracing
	Points     int // locations actually traced
}

func (s *Stats) Add(o Stats) {
	s.Units += o.Units
	s.Candidates += o.Candidates
	s.Points += o.Points
}

// File instruments f in place.
// origin labels the file in unit identities, e.g. "pkg/path/file.go".
// src is the text f was parsed from; when nil, units are identified by
// their printed form.
func (in *Instrumenter) File(fset *token.FileSet, f *ast.File, origin string, src []byte) (Stats, error) {
	fi := &file{
		in:     in,
		fset:   fset,
		origin: origin,
		src:    src,
	}
	// Package-level function literals, named like the compiler does.
	glob := &visitor{file: fi, name: "glob"}
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			ast.Walk(glob, d)
			if glob.err != nil {
				return fi.stats, glob.err
			}
		case *ast.FuncDecl:
			if d.Body == nil {
				// just a declaration, implemented elsewhere
				continue
			}
			if err := fi.unit(funcName(d), d, d.Body); err != nil {
				return fi.stats, err
			}
		}
	}
	if fi.stats.Points != 0 {
		astutil.AddNamedImport(fset, f, ImportName, ImportPath)
	}
	return fi.stats, nil
}

type file struct {
	in     *Instrumenter
	fset   *token.FileSet
	origin string
	src    []byte
	stats  Stats
}

// unit selects and instruments one function body. Function literals inside
// it are units of their own.
func (fi *file) unit(name string, node ast.Node, body *ast.BlockStmt) error {
	sel, err := selector.Select(fi.in.Policy, selector.Unit{
		Origin:  fi.origin,
		Name:    name,
		Content: fi.content(node),
	})
	if err != nil {
		return fmt.Errorf("%v: %v: %w", fi.origin, name, err)
	}
	fi.stats.Units++
	v := &visitor{file: fi, sel: sel, name: name}
	v.block(body, body.Lbrace)
	ast.Walk(v, body)
	return v.err
}

func (fi *file) content(node ast.Node) []byte {
	if fi.src != nil {
		start := fi.fset.Position(node.Pos()).Offset
		end := fi.fset.Position(node.End()).Offset
		if start >= 0 && start <= end && end <= len(fi.src) {
			return fi.src[start:end]
		}
	}
	buf := new(bytes.Buffer)
	printer.Fprint(buf, fi.fset, node)
	return buf.Bytes()
}

type visitor struct {
	*file
	sel  *selector.Selection
	name string
	lits int
	err  error
}

func (v *visitor) Visit(node ast.Node) ast.Visitor {
	if v.err != nil {
		return nil
	}
	switch n := node.(type) {
	case *ast.FuncLit:
		v.lits++
		v.err = v.unit(fmt.Sprintf("%v.func%v", v.name, v.lits), n, n.Body)
		return nil
	case *ast.IfStmt:
		v.block(n.Body, n.Body.Lbrace)
		if n.Else == nil {
			// Make the fallthrough path observable.
			n.Else = &ast.BlockStmt{Lbrace: n.Body.Rbrace, Rbrace: n.Body.Rbrace}
		}
		// An else-if is visited as an IfStmt of its own.
		if e, ok := n.Else.(*ast.BlockStmt); ok {
			v.block(e, e.Lbrace)
		}
	case *ast.CaseClause:
		v.clause(&n.Body, n.Colon)
	case *ast.CommClause:
		v.clause(&n.Body, n.Colon)
	case *ast.ForStmt:
		v.block(n.Body, n.Body.Lbrace)
	case *ast.RangeStmt:
		v.block(n.Body, n.Body.Lbrace)
	}
	return v
}

func (v *visitor) block(b *ast.BlockStmt, pos token.Pos) {
	v.clause(&b.List, pos)
}

func (v *visitor) clause(list *[]ast.Stmt, pos token.Pos) {
	v.stats.Candidates++
	if !v.sel.Include() {
		return
	}
	v.stats.Points++
	*list = append([]ast.Stmt{v.newHit(pos)}, *list...)
}

// newHit builds "_go_trace_afl_.Hit(line, offset)" for the location at pos.
func (v *visitor) newHit(pos token.Pos) ast.Stmt {
	p := v.fset.Position(pos)
	return &ast.ExprStmt{
		X: &ast.CallExpr{
			Fun: &ast.SelectorExpr{
				X:   ast.NewIdent(ImportName),
				Sel: ast.NewIdent("Hit"),
			},
			Args: []ast.Expr{
				&ast.BasicLit{Kind: token.INT, Value: strconv.Itoa(p.Line)},
				&ast.BasicLit{Kind: token.INT, Value: strconv.Itoa(p.Offset)},
			},
		},
	}
}

func funcName(fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return fn.Name.Name
	}
	typ := fn.Recv.List[0].Type
	star := ""
	if s, ok := typ.(*ast.StarExpr); ok {
		star = "*"
		typ = s.X
	}
	// strip type parameters
	switch t := typ.(type) {
	case *ast.IndexExpr:
		typ = t.X
	case *ast.IndexListExpr:
		typ = t.X
	}
	recv := "?"
	if id, ok := typ.(*ast.Ident); ok {
		recv = id.Name
	}
	if star != "" {
		return fmt.Sprintf("(*%v).%v", recv, fn.Name.Name)
	}
	return recv + "." + fn.Name.Name
}

// TrimComments drops comments that the inserted statements could displace,
// keeping compiler directives, build constraints and cgo preambles.
func TrimComments(fset *token.FileSet, f *ast.File) {
	keep := make(map[*ast.CommentGroup]bool)
	for _, decl := range f.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.IMPORT {
			continue
		}
		for _, spec := range gen.Specs {
			imp := spec.(*ast.ImportSpec)
			if imp.Path.Value == `"C"` {
				keep[gen.Doc] = true
				keep[imp.Doc] = true
			}
		}
	}
	var comments []*ast.CommentGroup
	for _, group := range f.Comments {
		if keep[group] {
			comments = append(comments, group)
			continue
		}
		var list []*ast.Comment
		for _, comment := range group.List {
			if isDirective(comment.Text) && fset.Position(comment.Slash).Column == 1 {
				list = append(list, comment)
			}
		}
		if list != nil {
			comments = append(comments, &ast.CommentGroup{List: list})
		}
	}
	f.Comments = comments

	// With no free-floating comments left the printer falls back to the
	// groups attached to nodes, so those must go as well.
	drop := func(g *ast.CommentGroup) *ast.CommentGroup {
		if keep[g] {
			return g
		}
		return nil
	}
	ast.Inspect(f, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.File:
			n.Doc = drop(n.Doc)
		case *ast.FuncDecl:
			n.Doc = drop(n.Doc)
		case *ast.GenDecl:
			n.Doc = drop(n.Doc)
		case *ast.Field:
			n.Doc, n.Comment = drop(n.Doc), drop(n.Comment)
		case *ast.ImportSpec:
			n.Doc, n.Comment = drop(n.Doc), drop(n.Comment)
		case *ast.ValueSpec:
			n.Doc, n.Comment = drop(n.Doc), drop(n.Comment)
		case *ast.TypeSpec:
			n.Doc, n.Comment = drop(n.Doc), drop(n.Comment)
		}
		return true
	})
}

func isDirective(text string) bool {
	return strings.HasPrefix(text, "//go:") ||
		strings.HasPrefix(text, "// +build") ||
		strings.HasPrefix(text, "//line ")
}

// Print writes f keeping the original positions so that panics in
// instrumented code report the original lines.
func Print(w io.Writer, fset *token.FileSet, f *ast.File) error {
	cfg := printer.Config{
		Mode:     printer.SourcePos,
		Tabwidth: 8,
		Indent:   0,
	}
	return cfg.Fprint(w, fset, f)
}
