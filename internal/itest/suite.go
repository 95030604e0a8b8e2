package itest

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/cachekit/ck/internal/fs"
)

// Discover returns the case files in dir, sorted by name. Sub-directories
// and dot files are skipped.
func Discover(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}

	paths := make([]string, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}

		paths = append(paths, filepath.Join(dir, e.Name()))
	}

	return paths, nil
}

// Suite is an ordered list of tests run sequentially.
type Suite struct {
	tests []Test
}

// Add registers t.
func (s *Suite) Add(t Test) {
	s.tests = append(s.tests, t)
}

// Len returns the number of registered tests.
func (s *Suite) Len() int {
	return len(s.tests)
}

// Build discovers the cases in dir and registers one test per case and
// variant, all cases of the first variant before the next. A case that
// fails to load is still registered and fails when run.
func Build(fsys fs.FS, dir string, variants []Variant, envs map[Variant]Env) (*Suite, error) {
	paths, err := Discover(fsys, dir)
	if err != nil {
		return nil, err
	}

	suite := &Suite{}

	for _, v := range variants {
		env := envs[v]
		if env.FS == nil {
			env.FS = fsys
		}

		for _, p := range paths {
			t := New(v, env)
			_ = t.Load(p)
			suite.Add(t)
		}
	}

	return suite, nil
}

// Summary counts outcomes of a suite run.
type Summary struct {
	Passed   int
	Failed   int
	Skipped  int
	Duration time.Duration
}

// OK reports whether no test failed.
func (s Summary) OK() bool {
	return s.Failed == 0
}

// Run executes every test in order and reports each to r. A cancelled ctx
// stops the run after the current test; remaining tests are reported as
// skipped.
func (s *Suite) Run(ctx context.Context, r *Reporter) Summary {
	var sum Summary

	start := time.Now()

	for _, t := range s.tests {
		r.Start(t.Name())

		var out Outcome
		if err := ctx.Err(); err != nil {
			out = Outcome{Status: Skip, Notes: []string{"run cancelled: " + err.Error()}}
		} else {
			out = t.Run(ctx)
		}

		r.Finish(t.Name(), out)

		switch out.Status {
		case Pass:
			sum.Passed++
		case Fail:
			sum.Failed++
		case Skip:
			sum.Skipped++
		}
	}

	sum.Duration = time.Since(start)
	r.Summary(sum)

	return sum
}

// Reporter writes results in the format of "go test -v".
type Reporter struct {
	w io.Writer
}

// NewReporter returns a reporter writing to w.
func NewReporter(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

func (r *Reporter) Start(name string) {
	fmt.Fprintf(r.w, "=== RUN   %s\n", name)
}

func (r *Reporter) Finish(name string, out Outcome) {
	fmt.Fprintf(r.w, "--- %s: %s (%.2fs)\n", out.Status, name, out.Duration.Seconds())

	if out.Err != nil {
		for _, line := range strings.Split(out.Err.Error(), "\n") {
			fmt.Fprintf(r.w, "    %s\n", line)
		}
	}

	for _, n := range out.Notes {
		fmt.Fprintf(r.w, "    %s\n", n)
	}
}

func (r *Reporter) Summary(s Summary) {
	verdict := "PASS"
	if !s.OK() {
		verdict = "FAIL"
	}

	fmt.Fprintln(r.w, verdict)
	fmt.Fprintf(r.w, "%d passed, %d failed, %d skipped (%.2fs)\n", s.Passed, s.Failed, s.Skipped, s.Duration.Seconds())
}
