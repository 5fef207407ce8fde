package sysexec

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Result is one scripted outcome for the Fake runner.
type Result struct {
	Output []byte
	Err    error
}

type stub struct {
	prefix  string
	results []Result
}

// Fake is a Runner for tests. Stubs are matched against the shell-quoted
// command line by prefix, in registration order; each match consumes the
// next scripted result, and the last result sticks once the script is
// exhausted. Unmatched commands succeed with empty output.
type Fake struct {
	mu      sync.Mutex
	missing map[string]bool
	stubs   []*stub
	calls   []Cmd
}

// NewFake creates an empty Fake with every tool present.
func NewFake() *Fake {
	return &Fake{missing: make(map[string]bool)}
}

// SetMissing makes Look report name as not installed.
func (f *Fake) SetMissing(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missing[name] = true
}

// Stub scripts results for command lines starting with prefix.
func (f *Fake) Stub(prefix string, results ...Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stubs = append(f.stubs, &stub{prefix: prefix, results: results})
}

func (f *Fake) Look(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[name] {
		return "", fmt.Errorf("%w: %s is not installed", ErrMissingDependency, name)
	}
	return "/usr/bin/" + name, nil
}

func (f *Fake) Run(ctx context.Context, c Cmd) error {
	res := f.record(c)
	if err := ctx.Err(); err != nil {
		return err
	}
	if res.Output != nil && c.Stdout != nil {
		c.Stdout.Write(res.Output)
	}
	return res.Err
}

func (f *Fake) Output(ctx context.Context, c Cmd) ([]byte, error) {
	res := f.record(c)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return res.Output, res.Err
}

func (f *Fake) record(c Cmd) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	line := c.Line()
	for _, s := range f.stubs {
		if !strings.HasPrefix(line, s.prefix) {
			continue
		}
		res := s.results[0]
		if len(s.results) > 1 {
			s.results = s.results[1:]
		}
		return res
	}
	return Result{}
}

// Calls returns every recorded invocation in order.
func (f *Fake) Calls() []Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Cmd(nil), f.calls...)
}

// Count returns how many recorded command lines start with prefix.
func (f *Fake) Count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c.Line(), prefix) {
			n++
		}
	}
	return n
}
