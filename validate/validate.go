// Package validate runs the flash validation scenarios over a sweep of bus
// formats and reports each result.
package validate

import (
	"time"
)

// Result is the outcome of one scenario under one bus format
type Result struct {
	Format  string
	Test    string
	Err     error
	Elapsed time.Duration
}

// Passed reports whether the scenario succeeded
func (r Result) Passed() bool {
	return r.Err == nil
}

// Summary collects every result of a run
type Summary struct {
	Results []Result
	Passed  int
	Failed  int
}

func (s *Summary) add(r Result) {
	s.Results = append(s.Results, r)
	if r.Passed() {
		s.Passed++
	} else {
		s.Failed++
	}
}

// OK reports whether every scenario that ran passed
func (s Summary) OK() bool {
	return s.Failed == 0
}

// Reporter receives results as the run progresses
type Reporter interface {
	// Format is called before the scenarios of a new section run
	Format(name string)
	Result(r Result)
	Done(s Summary)
}

type nopReporter struct{}

func (nopReporter) Format(string) {}
func (nopReporter) Result(Result) {}
func (nopReporter) Done(Summary)  {}
