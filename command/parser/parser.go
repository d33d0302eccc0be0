/*
 * ia32core - Operator command parser.
 *
 * Copyright (c) 2025 The ia32core Authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a
 * copy of this software and associated documentation files (the "Software"),
 * to deal in the Software without restriction, including without limitation
 * the rights to use, copy, modify, merge, publish, distribute, sublicense,
 * and/or sell copies of the Software, and to permit persons to whom the
 * Software is furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING
 * FROM, OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER
 * DEALINGS IN THE SOFTWARE.
 */

// Package parser implements the operator command language for the
// interactive debug console (SPEC_FULL.md's AMBIENT STACK,
// "Interactive debug console"): command matching on unambiguous
// prefixes, word/number tokenizing, and line-completion, the same
// shape as the teacher's command/parser but against a single in-process
// Core instead of a channel-addressed device tree.
package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/86Box/86Box-sub014/config/debugconfig"
	"github.com/86Box/86Box-sub014/emu/blockcache"
	"github.com/86Box/86Box-sub014/emu/core"
	"github.com/86Box/86Box-sub014/emu/cpustate"
)

type cmd struct {
	name     string
	min      int
	process  func(*cmdLine, *core.Core) (bool, error)
	complete func(*cmdLine) []string
}

type cmdLine struct {
	line string
	pos  int
}

var cmdList = []cmd{
	{name: "ring", min: 2, process: blocks},
	{name: "block", min: 3, process: block},
	{name: "fpu", min: 3, process: fpuDump},
	{name: "flush", min: 2, process: flush},
	{name: "cpu", min: 3, process: cpu, complete: cpuComplete},
	{name: "trace", min: 2, process: trace, complete: traceComplete},
	{name: "stop", min: 3, process: stop},
	{name: "continue", min: 1, process: cont},
	{name: "help", min: 1, process: help},
	{name: "quit", min: 1, process: quit},
}

// ProcessCommand executes one operator command line against core,
// reporting whether the console should exit.
func ProcessCommand(commandLine string, c *core.Core) (bool, error) {
	line := cmdLine{line: commandLine}
	name := line.getWord()

	match := matchList(name)
	if len(match) == 0 {
		return false, errors.New("command not found: " + name)
	}
	if len(match) > 1 {
		return false, errors.New("ambiguous command: " + name)
	}
	return match[0].process(&line, c)
}

// CompleteCmd implements line-editor completion, matching the teacher's
// command/parser.CompleteCmd shape (complete the command name itself,
// or delegate to the matched command's own completer for its
// arguments).
func CompleteCmd(commandLine string) []string {
	line := cmdLine{line: commandLine}
	name := line.getWord()

	if !line.isEOL() && line.line[line.pos] == ' ' {
		match := matchList(name)
		if len(match) != 1 || match[0].complete == nil {
			return nil
		}
		return match[0].complete(&line)
	}

	match := matchList(name)
	names := make([]string, len(match))
	for i, m := range match {
		names[i] = m.name
	}
	return names
}

func matchCommand(m cmd, name string) bool {
	if len(name) > len(m.name) {
		return false
	}
	for i := range name {
		if name[i] != m.name[i] {
			return false
		}
	}
	return len(name) >= m.min
}

func matchList(name string) []cmd {
	if name == "" {
		return nil
	}
	var out []cmd
	for _, m := range cmdList {
		if matchCommand(m, name) {
			out = append(out, m)
		}
	}
	return out
}

func (l *cmdLine) isEOL() bool {
	return l.pos >= len(l.line)
}

func (l *cmdLine) skipSpace() {
	for !l.isEOL() && unicode.IsSpace(rune(l.line[l.pos])) {
		l.pos++
	}
}

// getWord returns the next whitespace-delimited token, lower-cased, or
// "" at end of line.
func (l *cmdLine) getWord() string {
	l.skipSpace()
	start := l.pos
	for !l.isEOL() && !unicode.IsSpace(rune(l.line[l.pos])) {
		l.pos++
	}
	return strings.ToLower(l.line[start:l.pos])
}

func (l *cmdLine) getHex32() (uint32, error) {
	word := l.getWord()
	if word == "" {
		return 0, errors.New("expected a hex address")
	}
	word = strings.TrimPrefix(word, "0x")
	v, err := strconv.ParseUint(word, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid hex address %q: %w", word, err)
	}
	return uint32(v), nil
}

func blocks(_ *cmdLine, c *core.Core) (bool, error) {
	fmt.Printf("occupancy: %d/%d\n", c.Cache.Occupancy(), c.Cache.Size())
	c.Cache.ForEachValid(func(ref blockcache.Ref, b *blockcache.CodeBlock) {
		fmt.Printf("  [%5d] phys=%08x cs=%08x insns=%d recompiled=%v mask=%016x\n",
			ref, b.Phys, b.CS, b.InsnCount, b.Recompiled, b.PageMask)
	})
	return false, nil
}

func block(line *cmdLine, c *core.Core) (bool, error) {
	phys, err := line.getHex32()
	if err != nil {
		return false, err
	}
	ref, ok := c.Cache.FindByPhys(phys)
	if !ok {
		return false, fmt.Errorf("no block at phys %08x", phys)
	}
	b := c.Cache.Block(ref)
	fmt.Printf("phys=%08x cs=%08x pc=%08x endpc=%08x insns=%d recompiled=%v valid=%v\n",
		b.Phys, b.CS, b.PC, b.EndPC, b.InsnCount, b.Recompiled, b.Valid)
	fmt.Printf("status=%#x flags=%#x fputop=%d pagemask=%016x\n", b.Status, b.Flags, b.FPUTopInit, b.PageMask)
	if b.HasPhys2 {
		fmt.Printf("phys2=%08x pagemask2=%016x\n", b.Phys2, b.PageMask2)
	}
	return false, nil
}

var tagNames = [...]string{cpustate.TagValid: "VALID", cpustate.TagZero: "ZERO", cpustate.TagSpecial: "SPECIAL", cpustate.TagEmpty: "EMPTY", cpustate.TagUint64: "UINT64"}

func fpuDump(_ *cmdLine, c *core.Core) (bool, error) {
	s := c.State
	fmt.Printf("TOP=%d CW=%#04x SW=%#04x\n", s.Top, s.NPXC, s.NPXS)
	for i := 0; i < 8; i++ {
		phys := (int(s.Top) + i) & 7
		fmt.Printf("  ST(%d) [r%d] = %v tag=%s\n", i, phys, s.ST[phys], tagNames[s.Tag[phys]])
	}
	return false, nil
}

func flush(_ *cmdLine, c *core.Core) (bool, error) {
	c.Cache.Flush()
	fmt.Println("block cache flushed")
	return false, nil
}

var cpuNames = []string{"486", "pentium", "p6", "k6", "winchip"}

func cpu(line *cmdLine, c *core.Core) (bool, error) {
	name := line.getWord()
	if name == "" {
		return false, errors.New("usage: cpu <486|pentium|p6|k6|winchip>")
	}
	if !c.SetCPU(name) {
		return false, fmt.Errorf("unknown timing backend: %s", name)
	}
	fmt.Println("timing backend set to " + name)
	return false, nil
}

func cpuComplete(line *cmdLine) []string {
	prefix := line.getWord()
	var out []string
	for _, n := range cpuNames {
		if strings.HasPrefix(n, prefix) {
			out = append(out, n)
		}
	}
	return out
}

var traceNames = []string{"block", "smc", "fpu"}

func trace(line *cmdLine, _ *core.Core) (bool, error) {
	facility := line.getWord()
	state := line.getWord()
	on := state != "off"
	switch facility {
	case "block":
		debugconfig.BlockTrace = on
	case "smc":
		debugconfig.SMCTrace = on
	case "fpu":
		debugconfig.FPUTrace = on
	case "":
		fmt.Printf("block=%v smc=%v fpu=%v\n", debugconfig.BlockTrace, debugconfig.SMCTrace, debugconfig.FPUTrace)
		return false, nil
	default:
		return false, errors.New("unknown trace facility: " + facility)
	}
	fmt.Printf("trace %s %s\n", facility, state)
	return false, nil
}

func traceComplete(line *cmdLine) []string {
	prefix := line.getWord()
	var out []string
	for _, n := range traceNames {
		if strings.HasPrefix(n, prefix) {
			out = append(out, n)
		}
	}
	return out
}

func stop(_ *cmdLine, c *core.Core) (bool, error) {
	c.Stop()
	return false, nil
}

func cont(_ *cmdLine, c *core.Core) (bool, error) {
	c.Run(-1)
	return false, nil
}

func help(_ *cmdLine, _ *core.Core) (bool, error) {
	fmt.Println("commands: ring, block <phys>, fpu, flush, cpu <name>, trace <facility> <on|off>, stop, continue, quit")
	return false, nil
}

func quit(_ *cmdLine, _ *core.Core) (bool, error) {
	return true, nil
}
