// Package itest runs integration test cases against a cache server.
//
// Test cases are YAML files in a directory named after the engine. Every
// case is instantiated twice: as a [Generic] test that replays its steps and
// as a [Pmem] test that additionally checks the data survives a server
// restart on a persistent memory datapool.
package itest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cachekit/ck/internal/fs"
)

// Variant selects a test implementation.
type Variant int

const (
	Generic Variant = iota
	Pmem
)

var ErrUnknownVariant = errors.New("unknown variant (must be generic, pmem or all)")

func (v Variant) String() string {
	if v == Pmem {
		return "pmem"
	}

	return "generic"
}

// ParseVariants maps "generic", "pmem" or "all" to the variants to run.
func ParseVariants(name string) ([]Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "all":
		return []Variant{Generic, Pmem}, nil
	case "generic":
		return []Variant{Generic}, nil
	case "pmem":
		return []Variant{Pmem}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
}

// Status is the result class of a test.
type Status int

const (
	Pass Status = iota
	Fail
	Skip
)

func (s Status) String() string {
	switch s {
	case Fail:
		return "FAIL"
	case Skip:
		return "SKIP"
	default:
		return "PASS"
	}
}

// Outcome is the result of running one test.
type Outcome struct {
	Status   Status
	Err      error
	Notes    []string
	Duration time.Duration
}

// Server is a cache server whose lifecycle the runner controls.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Env is what a test needs to reach the server.
type Env struct {
	FS   fs.FS
	Addr string

	// Timeout bounds each client request.
	Timeout time.Duration

	// Server is nil when the server is managed outside the runner; tests
	// then assume it is already running at Addr.
	Server Server

	// Reset clears persistent state before a pmem test starts its server.
	Reset Cleanup
}

// Test is one runnable test built from a case file.
type Test interface {
	Name() string
	Load(path string) error
	Run(ctx context.Context) Outcome
}

// New returns an unloaded test of the given variant.
func New(v Variant, env Env) Test {
	if v == Pmem {
		return &pmemTest{base: base{variant: v, env: env}}
	}

	return &genericTest{base: base{variant: v, env: env}}
}

// base holds what both variants share: the loaded case and its load error.
// A failed load is kept and reported when the test runs, so one malformed
// file fails only its own test.
type base struct {
	variant Variant
	env     Env
	name    string
	c       Case
	loadErr error
}

func (b *base) Name() string {
	return b.variant.String() + "/" + b.name
}

func (b *base) Load(path string) error {
	b.name = caseName(path)

	data, err := b.env.FS.ReadFile(path)
	if err != nil {
		b.loadErr = fmt.Errorf("load %s: %w", path, err)

		return b.loadErr
	}

	c, err := ParseCase(path, data)
	if err != nil {
		b.loadErr = err

		return err
	}

	b.c = c
	b.name = c.Name
	b.loadErr = nil

	return nil
}

func failed(err error, notes ...string) Outcome {
	return Outcome{Status: Fail, Err: err, Notes: notes}
}
