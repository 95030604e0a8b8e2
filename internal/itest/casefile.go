package itest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Step operations.
const (
	OpSet      = "set"
	OpAdd      = "add"
	OpReplace  = "replace"
	OpGet      = "get"
	OpDelete   = "delete"
	OpIncr     = "incr"
	OpDecr     = "decr"
	OpTouch    = "touch"
	OpFlushAll = "flush_all"
)

// Expected error kinds.
const (
	ExpectMiss      = "miss"
	ExpectNotStored = "not_stored"
)

var (
	ErrCaseEmpty       = errors.New("case has no steps")
	ErrUnknownOp       = errors.New("unknown op")
	ErrKeyRequired     = errors.New("key is required")
	ErrUnknownExpected = errors.New("unknown expect_error (must be miss or not_stored)")
)

// Step is one client request and its expected result.
type Step struct {
	Op         string `yaml:"op"`
	Key        string `yaml:"key,omitempty"`
	Value      string `yaml:"value,omitempty"`
	Flags      uint32 `yaml:"flags,omitempty"`
	Expiration int32  `yaml:"expiration,omitempty"`
	Delta      uint64 `yaml:"delta,omitempty"`

	// Expect is the value a get returns or the number incr/decr returns.
	Expect *string `yaml:"expect,omitempty"`

	// ExpectError names the error the request must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Case is a parsed test case file.
//
//	name: set then get
//	steps:
//	  - {op: set, key: foo, value: bar}
//	  - {op: get, key: foo, expect: bar}
//	  - {op: get, key: nope, expect_error: miss}
type Case struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// ParseCase decodes and validates a case file. Unknown fields are rejected
// so typos in a case fail loudly instead of being ignored.
func ParseCase(path string, data []byte) (Case, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Case
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Case{}, fmt.Errorf("parse %s: %w", path, err)
	}

	if c.Name == "" {
		c.Name = caseName(path)
	}

	if err := c.validate(); err != nil {
		return Case{}, fmt.Errorf("%s: %w", path, err)
	}

	return c, nil
}

func (c Case) validate() error {
	if len(c.Steps) == 0 {
		return ErrCaseEmpty
	}

	for i, s := range c.Steps {
		if err := s.validate(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	return nil
}

func (s Step) validate() error {
	switch s.Op {
	case OpSet, OpAdd, OpReplace, OpGet, OpDelete, OpIncr, OpDecr, OpTouch:
		if s.Key == "" {
			return fmt.Errorf("%s: %w", s.Op, ErrKeyRequired)
		}
	case OpFlushAll:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, s.Op)
	}

	switch s.ExpectError {
	case "", ExpectMiss, ExpectNotStored:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownExpected, s.ExpectError)
	}
}

// caseName derives a test name from a case file path.
func caseName(path string) string {
	base := filepath.Base(path)

	return strings.TrimSuffix(base, filepath.Ext(base))
}
