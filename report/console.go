// Package report sends validation results to the terminal and to an MQTT
// broker.
package report

import (
	"fmt"
	"io"

	"github.com/synthread/go-qspiflash/validate"
)

// Console prints results in the harness' classic line format
type Console struct {
	w io.Writer
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Format(name string) {
	fmt.Fprintf(c.w, "\nQSPI Config = %s\n", name)
}

func (c *Console) Result(r validate.Result) {
	status := "PASSED"
	if !r.Passed() {
		status = "FAILED"
	}
	fmt.Fprintf(c.w, "Executing test: %-40s : %s\n", r.Test, status)
	if r.Err != nil {
		fmt.Fprintf(c.w, "  ERROR: %v\n", r.Err)
	}
}

func (c *Console) Done(s validate.Summary) {
	fmt.Fprintf(c.w, "\nDone... %d passed, %d failed\n", s.Passed, s.Failed)
}

// Multi fans every call out to each reporter in order
type Multi []validate.Reporter

func (m Multi) Format(name string) {
	for _, r := range m {
		r.Format(name)
	}
}

func (m Multi) Result(res validate.Result) {
	for _, r := range m {
		r.Result(res)
	}
}

func (m Multi) Done(s validate.Summary) {
	for _, r := range m {
		r.Done(s)
	}
}
