// Package console is a line oriented shell for poking at a flash part by
// hand.
package console

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/google/shlex"
	"github.com/pkg/errors"

	"github.com/synthread/go-qspiflash/flash"
)

var ErrUsage = errors.New("usage")

// MaxRead bounds the size of a single read command
var MaxRead = 64 << 10

// MaxFill bounds the size of a single fill command
var MaxFill = 64 << 10

type command struct {
	usage string
	help  string
	run   func(c *Console, ctx context.Context, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"help":    {"help", "list commands", (*Console).help},
		"id":      {"id", "read the JEDEC id", (*Console).id},
		"status":  {"status", "read status and control registers", (*Console).status},
		"init":    {"init", "reset the part and set quad enable", (*Console).initialize},
		"wait":    {"wait", "wait for write in progress to clear", (*Console).wait},
		"format":  {"format <1_1_1|1_1_2|1_2_2|1_1_4|1_4_4>", "select the bus format", (*Console).format},
		"erase":   {"erase <addr>", "erase the sector containing addr", (*Console).erase},
		"write":   {"write <addr> <byte>...", "program bytes at addr", (*Console).write},
		"fill":    {"fill <addr> <n> <byte>", "program n copies of byte at addr", (*Console).fill},
		"read":    {"read <addr> <n> [opcode]", "read and dump n bytes", (*Console).read},
		"program": {"program <file> <addr>", "erase, program and verify a file", (*Console).program},
		"quit":    {"quit", "leave the console", nil},
	}
}

// Console runs commands against a single device
type Console struct {
	dev *flash.Device
	out io.Writer
}

func New(dev *flash.Device, out io.Writer) *Console {
	return &Console{dev: dev, out: out}
}

// Run reads commands from in until it is exhausted or quit is entered.
// Command errors are printed and do not end the session.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	s := bufio.NewScanner(in)
	fmt.Fprint(c.out, "> ")
	for s.Scan() {
		quit, err := c.Exec(ctx, s.Text())
		if quit {
			return nil
		}
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(c.out, "> ")
	}
	return s.Err()
}

// Exec runs a single command line
func (c *Console) Exec(ctx context.Context, line string) (quit bool, err error) {
	args, err := shlex.Split(line)
	if err != nil {
		return false, errors.Wrap(err, "could not parse line")
	}
	if len(args) == 0 {
		return false, nil
	}

	cmd, ok := commands[args[0]]
	if !ok {
		return false, errors.Errorf("unknown command %q, try help", args[0])
	}
	if cmd.run == nil {
		return true, nil
	}
	if err := cmd.run(c, ctx, args[1:]); err != nil {
		if errors.Is(err, ErrUsage) {
			return false, errors.Errorf("usage: %s", cmd.usage)
		}
		return false, err
	}
	return false, nil
}

func parseUint(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, errors.Wrapf(ErrUsage, "bad number %q", s)
	}
	return v, nil
}

func parseAddr(s string) (uint32, error) {
	v, err := parseUint(s, 32)
	return uint32(v), err
}

func parseByte(s string) (byte, error) {
	v, err := parseUint(s, 8)
	return byte(v), err
}

func (c *Console) help(ctx context.Context, args []string) error {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(c.out, "  %-42s %s\n", commands[n].usage, commands[n].help)
	}
	return nil
}

func (c *Console) id(ctx context.Context, args []string) error {
	id, err := c.dev.ReadID()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "jedec id: %06x\n", id)
	return nil
}

func (c *Console) status(ctx context.Context, args []string) error {
	sr, err := c.dev.ReadStatus()
	if err != nil {
		return err
	}
	cr, err := c.dev.ReadControl()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "status: %02x %02x wip=%t wel=%t qe=%t\ncontrol: %02x %02x\n",
		sr[0], sr[1],
		sr[0]&flash.StatusWIP != 0, sr[0]&flash.StatusWEL != 0, sr[0]&flash.StatusQE != 0,
		cr[0], cr[1])
	return nil
}

func (c *Console) initialize(ctx context.Context, args []string) error {
	if err := c.dev.Initialize(); err != nil {
		return err
	}
	return c.dev.WaitReady(ctx)
}

func (c *Console) wait(ctx context.Context, args []string) error {
	return c.dev.WaitReady(ctx)
}

func (c *Console) format(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	f, err := flash.ParseFormat(args[0])
	if err != nil {
		return err
	}
	if err := c.dev.Configure(f); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "format %s\n", f)
	return nil
}

func (c *Console) erase(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	if err := c.dev.SectorErase(addr); err != nil {
		return err
	}
	return c.dev.WaitReady(ctx)
}

func (c *Console) writeBytes(ctx context.Context, addr uint32, data []byte) error {
	if err := c.dev.Write(flash.Request{}, addr, data); err != nil {
		return err
	}
	if err := c.dev.WaitReady(ctx); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "wrote %d bytes @ %x\n", len(data), addr)
	return nil
}

func (c *Console) write(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return ErrUsage
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	data := make([]byte, 0, len(args)-1)
	for _, a := range args[1:] {
		b, err := parseByte(a)
		if err != nil {
			return err
		}
		data = append(data, b)
	}
	return c.writeBytes(ctx, addr, data)
}

func (c *Console) fill(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return ErrUsage
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	n, err := parseUint(args[1], 32)
	if err != nil {
		return err
	}
	if n == 0 || n > uint64(MaxFill) {
		return errors.Errorf("fill size must be between 1 and %d", MaxFill)
	}
	b, err := parseByte(args[2])
	if err != nil {
		return err
	}
	return c.writeBytes(ctx, addr, bytes.Repeat([]byte{b}, int(n)))
}

func (c *Console) read(ctx context.Context, args []string) error {
	if len(args) != 2 && len(args) != 3 {
		return ErrUsage
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	n, err := parseUint(args[1], 32)
	if err != nil {
		return err
	}
	if n == 0 || n > uint64(MaxRead) {
		return errors.Errorf("read size must be between 1 and %d", MaxRead)
	}

	var req flash.Request
	if len(args) == 3 {
		op, err := parseByte(args[2])
		if err != nil {
			return err
		}
		req.Command = flash.Custom(op)
	}

	buf := make([]byte, n)
	if err := c.dev.Read(req, addr, buf); err != nil {
		return err
	}
	dump := hex.Dumper(c.out)
	if _, err := dump.Write(buf); err != nil {
		return errors.Wrap(err, "could not dump")
	}
	return dump.Close()
}

func (c *Console) program(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return ErrUsage
	}
	addr, err := parseAddr(args[1])
	if err != nil {
		return err
	}
	if err := c.dev.ProgramFile(ctx, args[0], addr); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "programmed %s @ %x\n", args[0], addr)
	return nil
}
