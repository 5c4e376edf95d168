// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// gotraceafl builds a Go program with AFL-style edge coverage.
//
// The target's main must call harness.FuzzFromHere. Every non-standard
// package in its build graph is instrumented according to --ratio or
// --rules, and the result is compiled with go build -overlay so that the
// source tree is left untouched.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/go/packages"

	"github.com/bradleyjkemp/gotraceafl/instrument"
	"github.com/bradleyjkemp/gotraceafl/internal/log"
	"github.com/bradleyjkemp/gotraceafl/selector"
)

// modulePath prefixes the packages of the tracer itself, which must never
// be instrumented.
const modulePath = "github.com/bradleyjkemp/gotraceafl"

type flags struct {
	out      string
	ratio    string
	rules    string
	preserve string
	dict     string
	jobs     int
	keep     bool
	verbose  int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "gotraceafl [flags] [package]",
		Short: "Build a Go program instrumented for AFL",
		Long: `Build the package (default ".") with every non-standard dependency
instrumented for AFL edge coverage. The resulting binary speaks the AFL
forkserver protocol and reports coverage into the map named by __AFL_SHM_ID.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.SetVerbosity(f.verbose)
			pkg := "."
			if len(args) == 1 {
				pkg = args[0]
			}
			return build(f, pkg)
		},
	}
	ratio, ok := os.LookupEnv(selector.EnvRatio)
	if !ok {
		ratio = "100"
	}
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "output binary (default <package name>.afl)")
	cmd.Flags().StringVar(&f.ratio, "ratio", ratio, "percentage of instrumentation points to keep, or true/false (env "+selector.EnvRatio+")")
	cmd.Flags().StringVar(&f.rules, "rules", "", "TOML file with per-package instrumentation rules, overrides --ratio")
	cmd.Flags().StringVar(&f.preserve, "preserve", "", "comma-separated list of import paths not to instrument")
	cmd.Flags().StringVar(&f.dict, "dict", "", "if set, write an AFL dictionary of the literals of instrumented packages to this file")
	cmd.Flags().IntVarP(&f.jobs, "jobs", "j", runtime.NumCPU(), "number of packages instrumented in parallel")
	cmd.Flags().BoolVar(&f.keep, "work", false, "keep the directory holding instrumented sources")
	cmd.Flags().CountVarP(&f.verbose, "verbose", "v", "increase log verbosity")
	return cmd
}

func build(f *flags, pkg string) error {
	policy, err := policyFor(f)
	if err != nil {
		return err
	}
	c := &Context{policy: policy, jobs: f.jobs}
	if err := c.loadPkg(pkg); err != nil { // load and parse pkg with all dependencies
		return err
	}
	if err := c.loadStd(); err != nil { // standard library is never instrumented
		return err
	}
	c.calcIgnore(f.preserve)
	if err := c.makeWorkdir(); err != nil {
		return err
	}
	if f.keep {
		log.Logf(0, "instrumented sources are in %v", c.workdir)
	} else {
		defer os.RemoveAll(c.workdir)
	}

	// Literals are gathered while the AST is pristine: instrumentation
	// adds integer literals of its own.
	if f.dict != "" {
		lits, err := gatherLiterals(c.targetPackages, c.isIgnored)
		if err != nil {
			return err
		}
		if err := writeDictFile(f.dict, lits); err != nil {
			return err
		}
		log.Logf(1, "wrote %v dictionary entries to %v", len(lits), f.dict)
	}

	stats, err := c.instrumentPackages()
	if err != nil {
		return err
	}
	log.Logf(0, "instrumented %v points in %v functions (%v candidates)",
		stats.Points, stats.Units, stats.Candidates)

	out := f.out
	if out == "" {
		out = c.targetPackages[0].Name + ".afl"
		if c.targetPackages[0].Name == "main" {
			out = filepath.Base(c.targetPackages[0].PkgPath) + ".afl"
		}
	}
	return c.buildInstrumentedBinary(pkg, out)
}

func policyFor(f *flags) (selector.Policy, error) {
	if f.rules != "" {
		rules, err := selector.LoadRules(f.rules)
		if err != nil {
			return nil, err
		}
		return rules, nil
	}
	return selector.Parse(f.ratio)
}

// Context holds state for one build.
type Context struct {
	policy selector.Policy
	jobs   int

	targetPackages []*packages.Package // root packages

	std    map[string]bool // set of packages in the standard library
	ignore map[string]bool // set of packages to ignore during instrumentation

	workdir string
	overlay map[string]string // original file -> instrumented copy
}

func (c *Context) isIgnored(pkg string) bool {
	return c.std[pkg] ||
		pkg == modulePath || strings.HasPrefix(pkg, modulePath+"/") ||
		c.ignore[pkg]
}

// basePackagesConfig returns a base golang.org/x/tools/go/packages.Config
// that clients can then modify and use for calls to go/packages.
func basePackagesConfig() *packages.Config {
	cfg := new(packages.Config)
	cfg.Env = os.Environ()
	return cfg
}

// loadPkg loads and parses pkg and all of its dependencies.
func (c *Context) loadPkg(pkg string) error {
	cfg := basePackagesConfig()
	cfg.Mode = packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
		packages.NeedImports | packages.NeedDeps | packages.NeedSyntax | packages.NeedTypes
	// use custom ParseFile in order to get comments
	cfg.ParseFile = func(fset *token.FileSet, filename string, src []byte) (*ast.File, error) {
		return parser.ParseFile(fset, filename, src, parser.ParseComments)
	}
	var err error
	c.targetPackages, err = packages.Load(cfg, pkg)
	if err != nil {
		return fmt.Errorf("could not load packages: %w", err)
	}
	if packages.PrintErrors(c.targetPackages) > 0 {
		return fmt.Errorf("typechecking of %v failed", pkg)
	}
	if len(c.targetPackages) != 1 {
		return fmt.Errorf("%v matches %v packages, want exactly one", pkg, len(c.targetPackages))
	}
	if len(c.packagesNamed(instrument.ImportPath)) == 0 {
		return fmt.Errorf("%v does not depend on %v: call harness.FuzzFromHere from main",
			pkg, instrument.ImportPath)
	}
	return nil
}

// loadStd finds the set of standard library package paths.
func (c *Context) loadStd() error {
	cfg := basePackagesConfig()
	cfg.Mode = packages.NeedName
	stdpkgs, err := packages.Load(cfg, "std")
	if err != nil {
		return fmt.Errorf("could not load standard library: %w", err)
	}
	c.std = make(map[string]bool, len(stdpkgs))
	for _, p := range stdpkgs {
		c.std[p.PkgPath] = true
	}
	// Not listed by "std" but still part of the toolchain.
	c.std["unsafe"] = true
	c.std["C"] = true
	return nil
}

func (c *Context) calcIgnore(preserve string) {
	c.ignore = map[string]bool{}
	// Dependencies of the tracer cannot import it back.
	packages.Visit(c.packagesNamed(instrument.ImportPath), func(p *packages.Package) bool {
		c.ignore[p.PkgPath] = true
		return true
	}, nil)
	// Ignore any packages requested explicitly by the user.
	for _, p := range strings.Split(preserve, ",") {
		if p = strings.TrimSpace(p); p != "" {
			c.ignore[p] = true
		}
	}
}

// makeWorkdir creates the directory holding instrumented sources.
func (c *Context) makeWorkdir() error {
	var err error
	c.workdir, err = os.MkdirTemp("", "gotraceafl")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	c.overlay = make(map[string]string)
	return nil
}

// packagesNamed extracts the packages listed in paths.
func (c *Context) packagesNamed(paths ...string) (pkgs []*packages.Package) {
	pre := func(p *packages.Package) bool {
		for _, want := range paths {
			if p.PkgPath == want {
				pkgs = append(pkgs, p)
				break
			}
		}
		return len(pkgs) < len(paths) // continue only if we have not succeeded yet
	}
	packages.Visit(c.targetPackages, pre, nil)
	return pkgs
}

// instrumentPackages writes an instrumented copy of every source file of
// every package that is not ignored and records it in the overlay.
func (c *Context) instrumentPackages() (instrument.Stats, error) {
	var todo []*packages.Package
	packages.Visit(c.targetPackages, nil, func(pkg *packages.Package) {
		if !c.isIgnored(pkg.PkgPath) {
			todo = append(todo, pkg)
		}
	})

	var (
		mu    sync.Mutex
		total instrument.Stats
	)
	g := new(errgroup.Group)
	if c.jobs > 0 {
		g.SetLimit(c.jobs)
	}
	for i, pkg := range todo {
		pkg := pkg
		dir := filepath.Join(c.workdir, fmt.Sprint(i))
		g.Go(func() error {
			stats, overlay, err := c.instrumentPackage(pkg, dir)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			total.Add(stats)
			for k, v := range overlay {
				c.overlay[k] = v
			}
			return nil
		})
	}
	return total, g.Wait()
}

func (c *Context) instrumentPackage(pkg *packages.Package, dir string) (instrument.Stats, map[string]string, error) {
	var total instrument.Stats
	overlay := make(map[string]string)
	in := &instrument.Instrumenter{Policy: c.policy}
	compiled := make(map[string]*ast.File, len(pkg.CompiledGoFiles))
	for i, name := range pkg.CompiledGoFiles {
		if i < len(pkg.Syntax) {
			compiled[name] = pkg.Syntax[i]
		}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return total, nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	// Files only in CompiledGoFiles are generated by cgo and cannot be
	// replaced by the overlay, so they are never visited.
	for _, fullName := range pkg.GoFiles {
		src, err := os.ReadFile(fullName)
		if err != nil {
			return total, nil, err
		}
		f := compiled[fullName]
		if f == nil {
			// A cgo file: the loaded syntax is its processed form, so
			// instrument the file the user wrote instead.
			f, err = parser.ParseFile(pkg.Fset, fullName, src, parser.ParseComments)
			if err != nil {
				return total, nil, fmt.Errorf("failed to parse %v: %w", fullName, err)
			}
			log.Logf(2, "instrumenting cgo source %v", fullName)
		}
		origin := path.Join(pkg.PkgPath, filepath.Base(fullName))
		stats, err := in.File(pkg.Fset, f, origin, src)
		if err != nil {
			return total, nil, fmt.Errorf("%v: %w", fullName, err)
		}
		total.Add(stats)
		if stats.Points == 0 {
			continue
		}
		instrument.TrimComments(pkg.Fset, f)
		buf := new(bytes.Buffer)
		if err := instrument.Print(buf, pkg.Fset, f); err != nil {
			return total, nil, fmt.Errorf("failed to print %v: %w", fullName, err)
		}
		outpath := filepath.Join(dir, filepath.Base(fullName))
		if err := os.WriteFile(outpath, buf.Bytes(), 0o600); err != nil {
			return total, nil, fmt.Errorf("failed to write temp file: %w", err)
		}
		overlay[fullName] = outpath
	}
	log.Logf(2, "%v: %v/%v points", pkg.PkgPath, total.Points, total.Candidates)
	return total, overlay, nil
}

// writeOverlay stores the overlay in the format read by go build -overlay.
func (c *Context) writeOverlay() (string, error) {
	data, err := json.MarshalIndent(struct{ Replace map[string]string }{c.overlay}, "", "\t")
	if err != nil {
		return "", err
	}
	name := filepath.Join(c.workdir, "overlay.json")
	if err := os.WriteFile(name, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write overlay: %w", err)
	}
	return name, nil
}

func (c *Context) buildInstrumentedBinary(pkg, out string) error {
	overlay, err := c.writeOverlay()
	if err != nil {
		return err
	}
	cmd := exec.Command("go", "build", "-trimpath", "-overlay", overlay, "-o", out, pkg)
	cmd.Env = os.Environ()
	log.Logf(1, "running %v", strings.Join(cmd.Args, " "))
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to execute go build: %w\n%s", err, output)
	}
	log.Logf(0, "built %v", out)
	return nil
}
