package console

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/pkg/errors"

	"github.com/synthread/go-qspiflash/flash"
	"github.com/synthread/go-qspiflash/flash/sim"
)

func newTestConsole(c *qt.C) (*Console, *sim.Chip, *bytes.Buffer) {
	chip := sim.New(sim.WithSize(64 << 10))
	dev, err := flash.NewDevice(chip.Port(), nil)
	c.Assert(err, qt.IsNil)
	var out bytes.Buffer
	return New(dev, &out), chip, &out
}

func TestExec(t *testing.T) {
	c := qt.New(t)
	con, chip, out := newTestConsole(c)
	ctx := context.Background()

	for _, line := range []string{
		"init",
		"format 1_4_4",
		"erase 0x1000",
		"write 0x1000 0x12 0x23 52",
		"fill 0x1010 4 0xab",
	} {
		_, err := con.Exec(ctx, line)
		c.Assert(err, qt.IsNil, qt.Commentf("%s", line))
	}
	c.Assert(chip.Snapshot(0x1000, 3), qt.DeepEquals, []byte{0x12, 0x23, 0x34})
	c.Assert(chip.Snapshot(0x1010, 4), qt.DeepEquals, []byte{0xab, 0xab, 0xab, 0xab})

	out.Reset()
	_, err := con.Exec(ctx, "read 0x1000 3")
	c.Assert(err, qt.IsNil)
	c.Assert(out.String(), qt.Matches, `00000000  12 23 34 .*\n`)

	out.Reset()
	_, err = con.Exec(ctx, "read 0x1010 2 0x3b")
	c.Assert(err, qt.IsNil)
	c.Assert(out.String(), qt.Matches, `00000000  ab ab .*\n`)

	out.Reset()
	_, err = con.Exec(ctx, "id")
	c.Assert(err, qt.IsNil)
	c.Assert(out.String(), qt.Equals, "jedec id: c22817\n")

	out.Reset()
	_, err = con.Exec(ctx, "status")
	c.Assert(err, qt.IsNil)
	c.Assert(out.String(), qt.Contains, "qe=true")
}

func TestExecErrors(t *testing.T) {
	c := qt.New(t)
	con, _, _ := newTestConsole(c)
	ctx := context.Background()

	tests := []struct {
		line string
		err  string
	}{
		{"bogus", `unknown command "bogus", try help`},
		{"erase", "usage: erase <addr>"},
		{"erase zz", "usage: erase <addr>"},
		{"write 0x1000 0x100", "usage: write <addr> <byte>..."},
		{"read 0 0", "read size must be between 1 and 65536"},
		{"read 0 0xffffffff", "read size must be between 1 and 65536"},
		{"fill 0 0xffffffff 0", "fill size must be between 1 and 65536"},
		{"fill 0 0 0", "fill size must be between 1 and 65536"},
		{"read 0 4 0x20", "read 4 bytes @ 0: .*"},
		{"format 1_3_3", `unknown bus format "1_3_3"`},
		{`write "0x1000`, "could not parse line: .*"},
	}
	for _, tt := range tests {
		quit, err := con.Exec(ctx, tt.line)
		c.Assert(quit, qt.IsFalse)
		c.Assert(err, qt.ErrorMatches, tt.err, qt.Commentf("%s", tt.line))
	}

	quit, err := con.Exec(ctx, "   ")
	c.Assert(err, qt.IsNil)
	c.Assert(quit, qt.IsFalse)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("closed pipe")
}

func TestReadDumpError(t *testing.T) {
	c := qt.New(t)
	chip := sim.New(sim.WithSize(4096))
	dev, err := flash.NewDevice(chip.Port(), nil)
	c.Assert(err, qt.IsNil)

	_, err = New(dev, failingWriter{}).Exec(context.Background(), "read 0 16")
	c.Assert(err, qt.ErrorMatches, "could not dump: closed pipe")
}

func TestRun(t *testing.T) {
	c := qt.New(t)
	con, chip, out := newTestConsole(c)

	in := strings.NewReader("help\nerase 0x2000\nwrite 0x2000 1 2 3\nbogus\nquit\nwrite 0x2003 4\n")
	c.Assert(con.Run(context.Background(), in), qt.IsNil)

	c.Assert(chip.Snapshot(0x2000, 4), qt.DeepEquals, []byte{1, 2, 3, 0xff})
	c.Assert(out.String(), qt.Contains, "read <addr> <n> [opcode]")
	c.Assert(out.String(), qt.Contains, `error: unknown command "bogus"`)
}

func TestProgram(t *testing.T) {
	c := qt.New(t)
	con, chip, _ := newTestConsole(c)

	path := filepath.Join(c.TempDir(), "fw.bin")
	c.Assert(os.WriteFile(path, []byte("firmware"), 0644), qt.IsNil)

	_, err := con.Exec(context.Background(), "program "+path+" 0x3000")
	c.Assert(err, qt.IsNil)
	c.Assert(chip.Snapshot(0x3000, 8), qt.DeepEquals, []byte("firmware"))
}
